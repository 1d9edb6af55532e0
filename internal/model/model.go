// Package model validates model selectors passed to the agent.
package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// ErrUnknownModel is returned for selectors that are neither an alias nor a full model id.
var ErrUnknownModel = errors.New("unknown model")

// Default is the selector used when none is given.
const Default = "sonnet"

// aliases the agent CLI understands, with a short description.
var aliases = map[string]string{
	"sonnet": "Claude Sonnet, balanced speed and capability",
	"opus":   "Claude Opus, most capable",
	"haiku":  "Claude Haiku, fastest",
}

// maxSuggestDistance bounds how far a typo may be from an alias to be suggested.
const maxSuggestDistance = 3

// Alias is a selectable model alias.
type Alias struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Aliases returns the known aliases sorted by name.
func Aliases() []Alias {
	out := make([]Alias, 0, len(aliases))
	for name, desc := range aliases {
		out = append(out, Alias{Name: name, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve normalises a selector. Empty selects fallback (or Default when
// fallback is empty too). Aliases are matched case-insensitively; full ids
// ("claude-...") pass through unchanged.
func Resolve(selector, fallback string) (string, error) {
	s := strings.TrimSpace(selector)
	if s == "" {
		s = strings.TrimSpace(fallback)
	}
	if s == "" {
		return Default, nil
	}

	lower := strings.ToLower(s)
	if _, ok := aliases[lower]; ok {
		return lower, nil
	}
	if strings.HasPrefix(lower, "claude-") {
		return s, nil
	}

	if suggestion := Suggest(lower); suggestion != "" {
		return "", fmt.Errorf("%w %q (did you mean %q?)", ErrUnknownModel, s, suggestion)
	}
	return "", fmt.Errorf("%w %q", ErrUnknownModel, s)
}

// Suggest returns the alias closest to s, or "" when none is close enough.
func Suggest(s string) string {
	best := ""
	bestDist := maxSuggestDistance + 1
	for _, a := range Aliases() {
		if d := levenshtein.ComputeDistance(s, a.Name); d < bestDist {
			best, bestDist = a.Name, d
		}
	}
	return best
}
