package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrarejimmyz/zkvanguard/internal/guard"
	"github.com/mrarejimmyz/zkvanguard/internal/printer"
)

var (
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show guard status for a running instance",
	Long: `Show the execution guard's current state: circuit breaker, in-flight
executions, daily volume, open consensus proposals, and active limits.

Use --json for machine-readable output.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status guard.Status
	if err := adminGet("/status", &status); err != nil {
		return printer.Error(
			"failed to fetch status",
			fmt.Sprintf("Error: %v", err),
			[]string{"Check that an instance is running:\n  vanguard run"},
		)
	}

	if statusJSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		printer.Println(string(data))
		return nil
	}

	printer.Printf("Breaker:         %s\n", printer.Breaker(status.Breaker.IsOpen, status.Breaker.Reason))
	if status.Breaker.ConsecutiveFailures > 0 {
		printer.Printf("Failures:        %d consecutive\n", status.Breaker.ConsecutiveFailures)
	}
	printer.Printf("In flight:       %d\n", len(status.InFlight))
	for _, id := range status.InFlight {
		printer.Printf("  - %s\n", id)
	}
	printer.Printf("Daily volume:    $%.2f (day %s)\n", status.DailyVolumeUSD, status.VolumeDay)
	if !status.LastExecutionAt.IsZero() {
		printer.Printf("Last execution:  %s\n", status.LastExecutionAt.Format(time.RFC3339))
	}
	printer.Printf("Open proposals:  %d\n", status.OpenProposals)
	printer.Printf("Limits:\n")
	printer.Printf("  Max position:      $%.2f\n", status.Limits.MaxPositionSizeUSD)
	printer.Printf("  Max daily volume:  $%.2f\n", status.Limits.MaxDailyVolumeUSD)
	printer.Printf("  Max leverage:      %.1fx\n", status.Limits.MaxLeverage)
	printer.Printf("  Max slippage:      %.2f%%\n", status.Limits.MaxSlippagePct)
	printer.Printf("  Max concurrent:    %d\n", status.Limits.MaxConcurrent)
	printer.Printf("  Cooldown:          %s\n", status.Limits.CooldownPeriod)
	printer.Printf("  Consensus:         required=%t quorum=%.2f\n",
		status.Limits.RequireConsensus, status.Limits.ConsensusQuorum)
	printer.Printf("  Attestation above: $%.2f\n", status.Limits.AttestationThresholdUSD)

	return nil
}
