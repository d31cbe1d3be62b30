package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrarejimmyz/zkvanguard/internal/printer"
)

var (
	haltReason string
)

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Emergency-stop a running instance",
	Long: `Trigger an emergency stop on a running instance.

Opens the circuit breaker immediately so no new executions are admitted,
and annotates every in-flight execution's audit entry with the reason.
In-flight executions are not killed: they finish and record their real
outcome alongside the interruption annotation.

The reason is mandatory and becomes part of the permanent audit record.

Examples:
  vanguard halt --reason "oracle feed compromised"`,
	RunE: runHalt,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a halted instance",
	Long: `Clear an emergency stop and close the circuit breaker.

Resuming is always an explicit operator decision: a halted instance never
resumes on its own, no matter how long the cooldown has elapsed.`,
	RunE: runResume,
}

func init() {
	haltCmd.Flags().StringVar(&haltReason, "reason", "", "Reason for the emergency stop (required)")
	haltCmd.MarkFlagRequired("reason")
	rootCmd.AddCommand(haltCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runHalt(cmd *cobra.Command, args []string) error {
	body := map[string]string{"reason": haltReason}
	if err := adminPost("/halt", body, nil); err != nil {
		return printer.Error(
			"failed to halt instance",
			fmt.Sprintf("Error: %v", err),
			[]string{"Check that an instance is running:\n  vanguard run"},
		)
	}

	printer.Warning("instance halted: %s\n", haltReason)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	if err := adminPost("/resume", nil, nil); err != nil {
		return printer.Error(
			"failed to resume instance",
			fmt.Sprintf("Error: %v", err),
			[]string{"Check that an instance is running:\n  vanguard run"},
		)
	}

	printer.Success("instance resumed\n")
	return nil
}
