package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all requests",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/requests")
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: backspace serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var requests []struct {
		ID      string `json:"id"`
		RepoURL string `json:"repoUrl"`
		Status  string `json:"status"`
		Prompt  string `json:"prompt"`
		PRURL   string `json:"prUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&requests); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(requests) == 0 {
		fmt.Println("No requests found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREPO\tSTATUS\tPROMPT\tPR")
	for _, r := range requests {
		prompt := r.Prompt
		if len(prompt) > 50 {
			prompt = prompt[:47] + "..."
		}
		pr := r.PRURL
		if pr == "" {
			pr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.RepoURL, statusIcon(r.Status), prompt, pr)
	}
	return w.Flush()
}

func statusIcon(status string) string {
	switch status {
	case "running":
		return "🔄 running"
	case "complete":
		return "✅ complete"
	case "failed":
		return "❌ failed"
	default:
		return status
	}
}
