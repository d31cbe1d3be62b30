package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrarejimmyz/zkvanguard/internal/intent"
	"github.com/mrarejimmyz/zkvanguard/internal/orchestrator"
	"github.com/mrarejimmyz/zkvanguard/internal/printer"
)

var (
	executeFile string
	executeJSON bool
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Submit a structured intent for execution",
	Long: `Submit a structured intent file to a running instance and report the outcome.

The intent file is YAML (JSON also parses) describing the action, target
portfolio, objectives, and constraints. The command blocks until the
pipeline finishes and prints the execution report.

Example intent file:
  action: open_position
  target: portfolio-main
  objectives:
    strategy: delta_neutral_yield
    target_apy: 8
    risk_tolerance: medium
    capital_usd: 1000000
    allocation_pct: 50
  constraints:
    max_leverage: 3
    max_slippage_pct: 0.5
  required_agent_types: [risk, hedging, settlement]

Examples:
  vanguard execute --file intent.yml
  vanguard execute --file intent.yml --json`,
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().StringVar(&executeFile, "file", "", "Path to the intent file (required)")
	executeCmd.Flags().BoolVar(&executeJSON, "json", false, "Print the full report as JSON")
	executeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(executeFile)
	if err != nil {
		return fmt.Errorf("failed to read intent file: %w", err)
	}

	var in intent.Intent
	if err := yaml.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("failed to parse intent file: %w", err)
	}
	if err := in.Validate(); err != nil {
		return printer.Error(
			"invalid intent",
			fmt.Sprintf("Error: %v", err),
			[]string{"Fix the intent file and resubmit"},
		)
	}

	var report orchestrator.Report
	if err := adminPost("/execute", in, &report); err != nil {
		return printer.Error(
			"failed to submit intent",
			fmt.Sprintf("Error: %v", err),
			[]string{"Check that an instance is running:\n  vanguard run"},
		)
	}

	if executeJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		printer.Println(string(out))
		return nil
	}

	if report.Status == orchestrator.StatusSuccess {
		printer.Success("execution %s succeeded\n", report.ExecutionID)
	} else {
		printer.Warning("execution %s failed\n", report.ExecutionID)
	}
	printer.Printf("  Action:   %s on %s\n", report.Action, report.Target)
	printer.Printf("  Size:     $%.2f\n", report.PositionSizeUSD)
	printer.Printf("  Duration: %s\n", report.Duration)
	if report.Summary != "" {
		printer.Printf("  Summary:  %s\n", report.Summary)
	}
	for _, attHandle := range report.Attestations {
		printer.Printf("  Attested: %s\n", attHandle)
	}
	for _, msg := range report.Errors {
		printer.Printf("  Error:    %s\n", msg)
	}

	if report.Status != orchestrator.StatusSuccess {
		return fmt.Errorf("execution failed")
	}
	return nil
}
