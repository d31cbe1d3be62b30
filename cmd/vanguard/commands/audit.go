package commands

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrarejimmyz/zkvanguard/internal/printer"
	"github.com/mrarejimmyz/zkvanguard/pkg/ledger"
)

var (
	auditExecutionID string
	auditAgentID     string
	auditAction      string
	auditResult      string
	auditSince       time.Duration
	auditOutput      string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail of a running instance",
	Long: `Query audit entries recorded by the execution guard.

All filters are ANDed together. --since is relative to now.

Output Formats:
  table - Human-readable table (default)
  jsonl - Line-delimited JSON for programmatic processing

Examples:
  # Everything recorded today for one agent
  vanguard audit --agent risk-1 --since 24h

  # Full history of one execution as JSON lines
  vanguard audit --execution 7a9f0f6e-... --output jsonl`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditExecutionID, "execution", "", "Filter by execution ID")
	auditCmd.Flags().StringVar(&auditAgentID, "agent", "", "Filter by agent ID")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action name")
	auditCmd.Flags().StringVar(&auditResult, "result", "", "Filter by result (pending, success, failed, rolled_back)")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "Only entries newer than this (e.g. 1h, 30m)")
	auditCmd.Flags().StringVarP(&auditOutput, "output", "o", "table", "Output format (table or jsonl)")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	if auditOutput != "table" && auditOutput != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", auditOutput),
			[]string{"Valid formats: table, jsonl"},
		)
	}

	q := url.Values{}
	if auditExecutionID != "" {
		q.Set("execution_id", auditExecutionID)
	}
	if auditAgentID != "" {
		q.Set("agent_id", auditAgentID)
	}
	if auditAction != "" {
		q.Set("action", auditAction)
	}
	if auditResult != "" {
		q.Set("result", auditResult)
	}
	if auditSince > 0 {
		q.Set("since_ms", fmt.Sprintf("%d", time.Now().Add(-auditSince).UnixMilli()))
	}

	path := "/audit"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var entries []*ledger.Entry
	if err := adminGet(path, &entries); err != nil {
		return printer.Error(
			"failed to fetch audit entries",
			fmt.Sprintf("Error: %v", err),
			[]string{"Check that an instance is running:\n  vanguard run"},
		)
	}

	if auditOutput == "jsonl" {
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal entry: %w", err)
			}
			printer.Println(string(data))
		}
		return nil
	}

	if len(entries) == 0 {
		printer.Println("No audit entries match the given filters.")
		return nil
	}

	printer.Printf("%-24s %-36s %-14s %-16s %s\n", "TIME", "EXECUTION", "AGENT", "ACTION", "RESULT")
	for _, e := range entries {
		ts := time.UnixMilli(e.CreatedAtMs).UTC().Format(time.RFC3339)
		printer.Printf("%-24s %-36s %-14s %-16s %s\n",
			ts, e.ExecutionID, e.AgentID, e.Action, printer.Result(e.Result))
		if e.ErrorDetail != "" {
			printer.Printf("%-24s   error: %s\n", "", e.ErrorDetail)
		}
		if e.Interruption != "" {
			printer.Printf("%-24s   interrupted: %s\n", "", e.Interruption)
		}
	}

	return nil
}
