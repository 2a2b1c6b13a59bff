package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of turns to return")
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show a session's conversation history",
	Long: `Show the persisted conversation history for a session, most
recent turn last.

Examples:
  dispatchctl history s-42
  dispatchctl history --limit 50 s-42`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

// turnRecord matches execlog.TurnRecord.
type turnRecord struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	var resp struct {
		Turns []turnRecord `json:"turns"`
		Count int          `json:"count"`
	}
	path := fmt.Sprintf("/v1/sessions/%s/history?limit=%d", url.PathEscape(sessionID), historyLimit)
	if err := getJSON(path, 10*time.Second, &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Printf("No history for session %s\n", sessionID)
		return nil
	}

	for _, turn := range resp.Turns {
		fmt.Printf("[%s] %s: %s\n", turn.CreatedAt, turn.Role, turn.Content)
	}
	return nil
}
