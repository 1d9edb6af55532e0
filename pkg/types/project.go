package types

import "strings"

// ProjectID derives the agent's project identifier from a project path. The
// agent stores transcripts under ~/.claude/projects/<ProjectID>, where the id
// is the absolute path with separators and dots replaced by dashes.
func ProjectID(projectPath string) string {
	r := strings.NewReplacer("/", "-", "\\", "-", ".", "-", ":", "-")
	return r.Replace(projectPath)
}
