package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	sendSessionID  string
	sendOutputJSON bool
)

func init() {
	sendCmd.Flags().StringVar(&sendSessionID, "session", "", "Session ID (omit to start a fresh session)")
	sendCmd.Flags().BoolVar(&sendOutputJSON, "json", false, "Print the full result as JSON")
}

var sendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Dispatch a request and print the merged response",
	Long: `Send a free-text request to dispatchd and print the response.

Examples:
  # One-off request
  dispatchctl send "create a repository called demo-app"

  # Continue a session
  dispatchctl send --session s-42 "now create a feature branch in it"

  # Full result as JSON
  dispatchctl send --json "hello there"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

// sendRequest matches internal/http DispatchRequest.
type sendRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Request   string `json:"request"`
}

// sendResult is the subset of the dispatch result the CLI renders.
type sendResult struct {
	RequestID       string   `json:"request_id"`
	SessionID       string   `json:"session_id"`
	TaskType        string   `json:"task_type"`
	SecondaryRoutes []string `json:"secondary_routes"`
	Output          string   `json:"output"`
	Status          string   `json:"status"`
	ElapsedMs       int64    `json:"elapsed_ms"`
	Errors          []string `json:"errors"`
}

func runSend(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("request text must not be empty")
	}

	reqJSON, err := json.Marshal(sendRequest{SessionID: sendSessionID, Request: text})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(serverURL+"/v1/dispatch", "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var result sendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if sendOutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Println(result.Output)
	fmt.Fprintf(os.Stderr, "\n[dispatchctl] session=%s task=%s status=%s elapsed=%dms\n",
		result.SessionID, result.TaskType, result.Status, result.ElapsedMs)
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "[dispatchctl] error: %s\n", e)
	}
	return nil
}
