package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/claudia/internal/logging"
)

// ErrBinaryNotFound is returned when no agent binary can be located.
var ErrBinaryNotFound = errors.New("claude binary not found: install it on PATH or set claudePath")

// Installation is one agent binary found on disk.
type Installation struct {
	Path    string `json:"path"`
	Source  string `json:"source"`
	Version string `json:"version,omitempty"`
}

// candidate is a glob (relative to HOME when not absolute) and its source label.
type candidate struct {
	pattern string
	source  string
}

var candidates = []candidate{
	{"/usr/local/bin/claude", "system"},
	{"/opt/homebrew/bin/claude", "homebrew"},
	{"/usr/bin/claude", "system"},
	{".claude/local/claude", "claude-local"},
	{".local/bin/claude", "local-bin"},
	{".npm-global/bin/claude", "npm-global"},
	{".yarn/bin/claude", "yarn"},
	{".bun/bin/claude", "bun"},
	{"bin/claude", "home-bin"},
	{".nvm/versions/node/*/bin/claude", "nvm"},
	{".volta/tools/image/node/*/bin/claude", "volta"},
	{"node_modules/.bin/claude", "node-modules"},
}

// FindBinary returns the agent binary to run. An explicitly configured path
// wins; otherwise the best discovered installation is used.
func FindBinary(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		if isExecutable(configured) {
			return configured, nil
		}
		if path, err := exec.LookPath(configured); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%w: configured path %s is not executable", ErrBinaryNotFound, configured)
	}

	installs := Discover(ctx, os.Getenv("HOME"))
	best, ok := SelectBest(installs)
	if !ok {
		return "", ErrBinaryNotFound
	}
	logging.Debug().Str("path", best.Path).Str("source", best.Source).Str("version", best.Version).Msg("using claude binary")
	return best.Path, nil
}

// Discover lists agent installations found on PATH and in well-known
// install locations under home.
func Discover(ctx context.Context, home string) []Installation {
	seen := make(map[string]bool)
	var installs []Installation

	add := func(path, source string) {
		key := path
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			key = resolved
		}
		if seen[key] || !isExecutable(path) {
			return
		}
		seen[key] = true
		installs = append(installs, Installation{Path: path, Source: source})
	}

	if path, err := exec.LookPath("claude"); err == nil {
		add(path, "which")
	}

	for _, c := range candidates {
		pattern := c.pattern
		if !filepath.IsAbs(pattern) {
			if home == "" {
				continue
			}
			pattern = filepath.Join(home, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			continue
		}
		for _, match := range matches {
			add(match, c.source)
		}
	}

	for i := range installs {
		installs[i].Version = probeVersion(ctx, installs[i].Path)
	}
	return installs
}

// SelectBest picks the newest versioned installation, preferring any versioned
// one over unversioned ones, and discovery order on ties.
func SelectBest(installs []Installation) (Installation, bool) {
	if len(installs) == 0 {
		return Installation{}, false
	}
	sorted := append([]Installation(nil), installs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Version, sorted[j].Version
		switch {
		case a != "" && b != "":
			return CompareVersions(a, b) > 0
		case a != "":
			return true
		default:
			return false
		}
	})
	return sorted[0], true
}

// probeVersion runs `<path> --version` and extracts a version token.
func probeVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return ""
	}
	return ExtractVersion(string(out))
}

// ExtractVersion returns the first whitespace-separated token that contains
// both a dot and a digit.
func ExtractVersion(output string) string {
	for _, tok := range strings.Fields(output) {
		if strings.Contains(tok, ".") && strings.ContainsAny(tok, "0123456789") {
			return tok
		}
	}
	return ""
}

// CompareVersions compares dotted versions numerically, ignoring suffixes
// such as "-beta". It returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	pa, pb := versionParts(a), versionParts(b)
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

func versionParts(v string) []int {
	var parts []int
	for _, s := range strings.Split(v, ".") {
		end := 0
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		if end == 0 {
			continue
		}
		n, err := strconv.Atoi(s[:end])
		if err != nil {
			continue
		}
		parts = append(parts, n)
	}
	return parts
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

// commandEnv returns the environment for the agent process. Node-manager
// installs need their bin directory on PATH to find node.
func commandEnv(binary string) []string {
	env := os.Environ()
	if !strings.Contains(binary, "/.nvm/versions/node/") && !strings.Contains(binary, "/.volta/") {
		return env
	}

	binDir := filepath.Dir(binary)
	for i, kv := range env {
		if !strings.HasPrefix(kv, "PATH=") {
			continue
		}
		current := strings.TrimPrefix(kv, "PATH=")
		for _, dir := range filepath.SplitList(current) {
			if dir == binDir {
				return env
			}
		}
		env[i] = "PATH=" + binDir + string(os.PathListSeparator) + current
		return env
	}
	return append(env, "PATH="+binDir)
}
