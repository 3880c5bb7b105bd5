package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var codeRepo string

var codeCmd = &cobra.Command{
	Use:   "code [prompt]",
	Short: "Run a code-modification request",
	Long: `Submit a prompt against a GitHub repository. The server clones the repo in
a disposable sandbox, generates and applies edits, and opens a pull request.
The run's progress streams back live.

Example:
  backspace code "add rate limiting to /api/users" --repo https://github.com/myorg/myapp`,
	Args: cobra.ExactArgs(1),
	RunE: runCode,
}

func init() {
	codeCmd.Flags().StringVarP(&codeRepo, "repo", "r", "", "GitHub repository URL (https://github.com/owner/repo)")
	codeCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(codeCmd)
}

func runCode(cmd *cobra.Command, args []string) error {
	payload := map[string]string{
		"repoUrl": codeRepo,
		"prompt":  args[0],
	}
	body, _ := json.Marshal(payload)

	resp, err := http.Post(serverURL+"/code", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: backspace serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return renderEvents(resp.Body)
}

// renderEvents prints an SSE event feed until the terminal summary.
func renderEvents(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event struct {
			Type     string         `json:"type"`
			Message  string         `json:"message"`
			Progress int            `json:"progress"`
			Extra    map[string]any `json:"extra"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "info":
			fmt.Printf("\033[36m[%3d%%]\033[0m %s\n", event.Progress, event.Message)
		case "success":
			fmt.Printf("\033[32m[%3d%%]\033[0m %s\n", event.Progress, event.Message)
		case "warning":
			fmt.Printf("\033[33m[%3d%%]\033[0m %s\n", event.Progress, event.Message)
		case "error":
			fmt.Fprintf(os.Stderr, "\033[31m[error]\033[0m %s\n", event.Message)
		case "summary":
			success, _ := event.Extra["success"].(bool)
			if !success {
				fmt.Fprintf(os.Stderr, "\n\033[31m✗ %s\033[0m\n", event.Message)
				return fmt.Errorf("request failed")
			}
			if prURL, _ := event.Extra["prUrl"].(string); prURL != "" {
				fmt.Printf("\n\033[32m✓ PR created:\033[0m %s\n", prURL)
			} else {
				fmt.Printf("\n\033[32m✓ %s\033[0m\n", event.Message)
			}
			return nil
		}
	}

	return scanner.Err()
}
