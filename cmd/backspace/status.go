package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [request-id]",
	Short: "Get the status of a request",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]

	resp, err := http.Get(serverURL + "/requests/" + id)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var req struct {
		ID        string `json:"id"`
		RepoURL   string `json:"repoUrl"`
		Prompt    string `json:"prompt"`
		Status    string `json:"status"`
		Branch    string `json:"branch"`
		PRURL     string `json:"prUrl"`
		Error     string `json:"error"`
		CreatedAt string `json:"createdAt"`
		UpdatedAt string `json:"updatedAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&req); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Request:  %s\n", req.ID)
	fmt.Printf("Repo:     %s\n", req.RepoURL)
	fmt.Printf("Status:   %s\n", statusIcon(req.Status))
	fmt.Printf("Branch:   %s\n", req.Branch)
	fmt.Printf("Prompt:   %s\n", req.Prompt)
	fmt.Printf("Created:  %s\n", req.CreatedAt)
	fmt.Printf("Updated:  %s\n", req.UpdatedAt)
	if req.PRURL != "" {
		fmt.Printf("PR:       %s\n", req.PRURL)
	}
	if req.Error != "" {
		fmt.Printf("Error:    %s\n", req.Error)
	}

	return nil
}
