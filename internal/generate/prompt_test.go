package generate

import (
	"strings"
	"testing"

	"github.com/tinybackspace/backspace/model"
)

// The format example shown to providers must stay parseable by our own
// grammar, otherwise a model following instructions to the letter would
// produce output we reject.
func TestSystemPromptExampleParses(t *testing.T) {
	edits, err := ParseEdits(systemPrompt())
	if err != nil {
		t.Fatalf("system prompt example does not parse: %v", err)
	}
	if len(edits) != 1 {
		t.Fatalf("expected 1 example edit, got %d", len(edits))
	}
	if edits[0].Path != "src/app.py" {
		t.Fatalf("unexpected example path: %q", edits[0].Path)
	}
}

func TestUserPromptIncludesRequestAndFiles(t *testing.T) {
	repoCtx := &model.RepoContext{
		Files: map[string]string{
			"src/app.py":  "print('app')",
			"src/util.py": "print('util')",
		},
		FileCount: 12,
		Languages: []string{"Python"},
	}

	got := userPrompt("add a health endpoint", repoCtx)
	for _, want := range []string{
		"add a health endpoint",
		"12 files",
		"Python",
		"src/app.py",
		"src/util.py",
		"print('app')",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestUserPromptSortsPaths(t *testing.T) {
	repoCtx := &model.RepoContext{
		Files: map[string]string{
			"zeta.py":  "print('zeta file')",
			"alpha.py": "print('alpha file')",
		},
		FileCount: 2,
	}

	got := userPrompt("reorder", repoCtx)
	if strings.Index(got, "alpha.py") > strings.Index(got, "zeta.py") {
		t.Fatal("expected paths in sorted order")
	}
}

func TestUserPromptTruncatesLongFiles(t *testing.T) {
	repoCtx := &model.RepoContext{
		Files:     map[string]string{"big.py": strings.Repeat("a", maxExcerpt+500)},
		FileCount: 1,
	}

	got := userPrompt("trim it", repoCtx)
	if !strings.Contains(got, "(truncated)") {
		t.Fatal("expected truncation marker for oversized file")
	}
	if strings.Contains(got, strings.Repeat("a", maxExcerpt+1)) {
		t.Fatal("expected file content to be capped")
	}
}

func TestUserPromptNilContext(t *testing.T) {
	got := userPrompt("start from scratch", nil)
	if !strings.Contains(got, "start from scratch") {
		t.Fatal("expected the request to be present")
	}
	if !strings.Contains(got, "No files could be read") {
		t.Fatal("expected the empty repository note")
	}
}
