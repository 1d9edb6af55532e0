package checkpoint

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// lineStats counts the lines added and deleted going from before to after.
func lineStats(before, after string) (int, int) {
	if before == after {
		return 0, 0
	}
	diffs := lineDiffs(before, after)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}
	return additions, deletions
}

// unifiedDiff renders a patch from before to after with file headers.
func unifiedDiff(path, before, after, baseDir string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(before, lineDiffs(before, after))
	text := dmp.PatchToText(patches)
	if text == "" {
		return ""
	}

	rel := relativePath(path, baseDir)
	var b strings.Builder
	b.WriteString(fmt.Sprintf("--- %s\n", rel))
	b.WriteString(fmt.Sprintf("+++ %s\n", rel))
	b.WriteString(text)
	return b.String()
}

func lineDiffs(before, after string) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	return dmp.DiffCharsToLines(diffs, lines)
}

func relativePath(path, baseDir string) string {
	if baseDir == "" {
		return path
	}
	if rel, err := filepath.Rel(baseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}
