package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show execution log statistics",
	Long: `Show log-wide statistics: totals, per-status counts,
per-task-type counts and average dispatch time.

Examples:
  dispatchctl stats
  dispatchctl stats --server http://localhost:8080`,
	RunE: runStats,
}

// statsResponse matches execlog.Stats.
type statsResponse struct {
	TotalTurns       int64            `json:"total_turns"`
	TotalExecutions  int64            `json:"total_executions"`
	TotalOperations  int64            `json:"total_operations"`
	DistinctSessions int64            `json:"distinct_sessions"`
	ByStatus         map[string]int64 `json:"by_status"`
	ByTaskType       map[string]int64 `json:"by_task_type"`
	AvgElapsedMs     float64          `json:"avg_elapsed_ms"`
}

func runStats(cmd *cobra.Command, args []string) error {
	var stats statsResponse
	if err := getJSON("/v1/stats", 10*time.Second, &stats); err != nil {
		return err
	}

	fmt.Printf("Executions:  %d\n", stats.TotalExecutions)
	fmt.Printf("Operations:  %d\n", stats.TotalOperations)
	fmt.Printf("Turns:       %d\n", stats.TotalTurns)
	fmt.Printf("Sessions:    %d\n", stats.DistinctSessions)
	fmt.Printf("Avg elapsed: %.1fms\n", stats.AvgElapsedMs)

	printCounts("By status:", stats.ByStatus)
	printCounts("By task type:", stats.ByTaskType)
	return nil
}

func printCounts(header string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("\n%s\n", header)
	for _, k := range keys {
		fmt.Printf("  %-24s %d\n", k, counts[k])
	}
}
