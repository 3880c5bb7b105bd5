// Backspace
//
// A sandboxed coding agent service. Send a prompt and a repository,
// get a pull request.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "backspace",
	Short: "Backspace - sandboxed coding agent",
	Long: `Backspace runs code-modification requests in disposable sandboxes.
Send a prompt and a repository, get a pull request.

  backspace serve                                              Start the server
  backspace code "fix the bug" --repo https://github.com/o/r   Run a request
  backspace list                                               List requests
  backspace status <id>                                        Check request status
  backspace logs <id>                                          Stream request events`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BACKSPACE_SERVER", "http://localhost:8080"), "Backspace server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
