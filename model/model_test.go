package model

import "testing"

func TestNormalizePathPlain(t *testing.T) {
	if got := NormalizePath("main.py"); got != "main.py" {
		t.Fatalf("expected 'main.py', got %q", got)
	}
}

func TestNormalizePathStripsWorkingCopyPrefix(t *testing.T) {
	if got := NormalizePath("repo/main.py"); got != "main.py" {
		t.Fatalf("expected 'main.py', got %q", got)
	}
}

func TestNormalizePathStripsRepeatedPrefixes(t *testing.T) {
	if got := NormalizePath("repo/repo/utils/helpers.py"); got != "utils/helpers.py" {
		t.Fatalf("expected 'utils/helpers.py', got %q", got)
	}
}

func TestNormalizePathStripsLeadingSlash(t *testing.T) {
	if got := NormalizePath("/src/app.ts"); got != "src/app.ts" {
		t.Fatalf("expected 'src/app.ts', got %q", got)
	}
}

func TestNormalizePathStripsInterleavedPrefixes(t *testing.T) {
	if got := NormalizePath("/repo//repo/src/app.ts"); got != "src/app.ts" {
		t.Fatalf("expected 'src/app.ts', got %q", got)
	}
}

func TestNormalizePathTrimsWhitespace(t *testing.T) {
	if got := NormalizePath("  repo/api/endpoints.py  "); got != "api/endpoints.py" {
		t.Fatalf("expected 'api/endpoints.py', got %q", got)
	}
}

func TestNormalizePathKeepsSimilarNames(t *testing.T) {
	if got := NormalizePath("repository/main.py"); got != "repository/main.py" {
		t.Fatalf("expected 'repository/main.py', got %q", got)
	}
}

func TestNormalizePathIdempotent(t *testing.T) {
	inputs := []string{"main.py", "repo/main.py", "/repo/a/b.go", "  /x.py ", "repo/", ""}
	for _, in := range inputs {
		once := NormalizePath(in)
		twice := NormalizePath(once)
		if once != twice {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestParseRepoURLPlain(t *testing.T) {
	owner, repo, err := ParseRepoURL("https://github.com/acme/widgets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner != "acme" || repo != "widgets" {
		t.Fatalf("expected acme/widgets, got %s/%s", owner, repo)
	}
}

func TestParseRepoURLGitSuffix(t *testing.T) {
	owner, repo, err := ParseRepoURL("https://github.com/acme/widgets.git")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner != "acme" || repo != "widgets" {
		t.Fatalf("expected acme/widgets, got %s/%s", owner, repo)
	}
}

func TestParseRepoURLTrailingSlash(t *testing.T) {
	owner, repo, err := ParseRepoURL("https://github.com/a-b/c.d_e/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner != "a-b" || repo != "c.d_e" {
		t.Fatalf("expected a-b/c.d_e, got %s/%s", owner, repo)
	}
}

func TestParseRepoURLRejectsBadURLs(t *testing.T) {
	bad := []string{
		"",
		"github.com/acme/widgets",
		"http://github.com/acme/widgets",
		"https://gitlab.com/acme/widgets",
		"https://github.com/acme",
		"https://github.com/acme/widgets/tree/main",
		"https://github.com//widgets",
	}
	for _, url := range bad {
		if _, _, err := ParseRepoURL(url); err == nil {
			t.Fatalf("expected error for %q", url)
		}
	}
}

func TestStageOrderStrictlyForward(t *testing.T) {
	prev := -1
	for _, s := range stageOrder {
		if s.Index() <= prev {
			t.Fatalf("stage %s out of order: index %d after %d", s, s.Index(), prev)
		}
		prev = s.Index()
	}
}

func TestStageCompleteIsLast(t *testing.T) {
	if StageComplete.Index() != len(stageOrder)-1 {
		t.Fatalf("expected StageComplete last, got index %d", StageComplete.Index())
	}
}

func TestStageFailedHasNoIndex(t *testing.T) {
	if got := StageFailed.Index(); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestStageTerminal(t *testing.T) {
	if !StageComplete.Terminal() {
		t.Fatal("StageComplete must be terminal")
	}
	if !StageFailed.Terminal() {
		t.Fatal("StageFailed must be terminal")
	}
	if StageGenerate.Terminal() {
		t.Fatal("StageGenerate must not be terminal")
	}
}

func TestStageProgressNonDecreasing(t *testing.T) {
	prev := 0
	for _, s := range stageOrder {
		p := s.Progress()
		if p < prev {
			t.Fatalf("progress decreases at %s: %d after %d", s, p, prev)
		}
		prev = p
	}
}

func TestStageProgressBounds(t *testing.T) {
	if got := StageComplete.Progress(); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := StageInit.Progress(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := StageFailed.Progress(); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestTruncateShortString(t *testing.T) {
	got := Truncate("hello", 10)
	if got != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
}

func TestTruncateLongString(t *testing.T) {
	got := Truncate("hello world", 8)
	if got != "hello..." {
		t.Fatalf("expected 'hello...', got %q", got)
	}
}

func TestTruncateVerySmallMaxLen(t *testing.T) {
	got := Truncate("hello", 2)
	if got != "he" {
		t.Fatalf("expected 'he', got %q", got)
	}
}

func TestTruncateUnicode(t *testing.T) {
	got := Truncate("こんにちは世界", 6)
	if got != "こんに..." {
		t.Fatalf("expected 'こんに...', got %q", got)
	}
}
