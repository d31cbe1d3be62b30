package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrarejimmyz/zkvanguard/internal/config"
	"github.com/mrarejimmyz/zkvanguard/internal/guard"
	"github.com/mrarejimmyz/zkvanguard/internal/printer"
)

var (
	limitsFile string
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show or replace execution limits",
	Long: `Show the active execution limits, or replace them from a YAML file.

Replacement is wholesale: the file must contain the complete limits block,
never a partial update. The running guard validates the new limits before
applying them and keeps the old ones on rejection.

Examples:
  # Show active limits
  vanguard limits

  # Replace limits from a file
  vanguard limits --file limits.yml`,
	RunE: runLimits,
}

func init() {
	limitsCmd.Flags().StringVar(&limitsFile, "file", "", "YAML file with a complete limits block")
	rootCmd.AddCommand(limitsCmd)
}

func runLimits(cmd *cobra.Command, args []string) error {
	if limitsFile == "" {
		var limits guard.Limits
		if err := adminGet("/limits", &limits); err != nil {
			return printer.Error(
				"failed to fetch limits",
				fmt.Sprintf("Error: %v", err),
				[]string{"Check that an instance is running:\n  vanguard run"},
			)
		}

		data, err := json.MarshalIndent(limits, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal limits: %w", err)
		}
		printer.Println(string(data))
		return nil
	}

	data, err := os.ReadFile(limitsFile)
	if err != nil {
		return fmt.Errorf("failed to read limits file: %w", err)
	}

	var lc config.LimitsConfig
	if err := yaml.Unmarshal(data, &lc); err != nil {
		return fmt.Errorf("failed to parse limits YAML: %w", err)
	}
	if err := lc.Validate(); err != nil {
		return printer.Error(
			"invalid limits file",
			fmt.Sprintf("Error: %v", err),
			[]string{"The file must contain a complete, valid limits block"},
		)
	}

	newLimits := lc.ToGuard()
	if err := adminPost("/limits", newLimits, nil); err != nil {
		return printer.Error(
			"failed to replace limits",
			fmt.Sprintf("Error: %v", err),
			[]string{"The running guard rejected the new limits; the old ones remain active"},
		)
	}

	printer.Success("limits replaced\n")
	return nil
}
