package generate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tinybackspace/backspace/model"
)

// maxExcerpt bounds how much of each sampled file is quoted back to the
// model. Files are already truncated when read from the sandbox, this is
// a second bound for contexts assembled elsewhere.
const maxExcerpt = 4000

// maxCompletionTokens is the output budget requested from every provider.
const maxCompletionTokens = 8192

const codeSystemPrompt = `You are a senior software engineer making a focused change to an existing codebase.

You will receive a change request and a snapshot of the repository: a file
listing, a language breakdown, and the contents of a few representative files.

Respond with the COMPLETE new contents of every file you create or modify.
Format each file as a fenced code block whose info string is the language
followed by a colon and the file path, relative to the repository root:

` + "```" + `python:src/app.py
def main():
    print("hello")
` + "```" + `

Rules:
- One fenced block per file, full file contents, no diffs and no ellipses.
- Use paths relative to the repository root. Never use absolute paths.
- Only touch files that are needed for the request. Prefer small, targeted
  changes over rewrites.
- Preserve the existing style and conventions of the codebase.
- Do not include commentary inside the code blocks.

If the request is unclear, make the most reasonable interpretation and
implement it.`

func systemPrompt() string {
	return codeSystemPrompt
}

func userPrompt(prompt string, repoCtx *model.RepoContext) string {
	var b strings.Builder

	b.WriteString("## Change request\n\n")
	b.WriteString(strings.TrimSpace(prompt))
	b.WriteString("\n\n")

	if repoCtx == nil || len(repoCtx.Files) == 0 {
		b.WriteString("## Repository\n\nNo files could be read from the repository. ")
		b.WriteString("Create the files needed to implement the request.\n")
		return b.String()
	}

	b.WriteString("## Repository\n\n")
	fmt.Fprintf(&b, "%d files", repoCtx.FileCount)
	if len(repoCtx.Languages) > 0 {
		fmt.Fprintf(&b, ", languages: %s", strings.Join(repoCtx.Languages, ", "))
	}
	b.WriteString("\n\n")

	paths := make([]string, 0, len(repoCtx.Files))
	for p := range repoCtx.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	b.WriteString("### Files\n\n")
	for _, p := range paths {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteString("\n")

	b.WriteString("### Contents\n\n")
	for _, p := range paths {
		content := repoCtx.Files[p]
		if len(content) > maxExcerpt {
			content = content[:maxExcerpt] + "\n... (truncated)"
		}
		fmt.Fprintf(&b, "#### %s\n\n```\n%s\n```\n\n", p, content)
	}

	return b.String()
}
