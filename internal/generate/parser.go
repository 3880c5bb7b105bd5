package generate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tinybackspace/backspace/model"
)

// minEditLength discards fenced blocks whose body is too short to be a
// plausible file.
const minEditLength = 10

// editPatterns are tried in order; the first pattern yielding at least one
// valid edit wins and later patterns are never consulted.
var editPatterns = []*regexp.Regexp{
	// ```lang:relative/path header.
	regexp.MustCompile("(?s)```" + `(\w+):([^\n]+)\n(.*?)` + "```"),
	// ```relative/path.ext header, no language tag.
	regexp.MustCompile("(?s)```" + `([\w./\-]+\.\w+)\n(.*?)` + "```"),
}

// bareLanguages are fence headers that name a language rather than a file.
var bareLanguages = map[string]bool{
	"python":     true,
	"javascript": true,
	"typescript": true,
	"json":       true,
	"go":         true,
	"bash":       true,
	"shell":      true,
}

// ParseEdits extracts file edits from raw provider output. A block becomes an
// edit only if its header carries a non-trivial path and its body clears the
// minimum length; everything else is discarded. An error means no pattern
// yielded any edit.
func ParseEdits(raw string) ([]model.FileEdit, error) {
	for _, pattern := range editPatterns {
		var edits []model.FileEdit
		for _, m := range pattern.FindAllStringSubmatch(raw, -1) {
			path := model.NormalizePath(m[len(m)-2])
			content := m[len(m)-1]
			if path == "" || bareLanguages[strings.ToLower(path)] {
				continue
			}
			if len(strings.TrimSpace(content)) < minEditLength {
				continue
			}
			edits = append(edits, model.FileEdit{
				Path:        path,
				Content:     content,
				Description: "AI-generated modification for " + path,
			})
		}
		if len(edits) > 0 {
			return edits, nil
		}
	}
	return nil, fmt.Errorf("no parseable edit blocks")
}
