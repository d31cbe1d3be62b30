package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mrarejimmyz/zkvanguard/internal/config"
	"github.com/mrarejimmyz/zkvanguard/internal/printer"
	"github.com/mrarejimmyz/zkvanguard/pkg/ledger"
)

var (
	watchConfigPath string
	watchOutput     string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream audit events in real time",
	Long: `Stream audit entries as the execution guard records them.

Connects directly to the instance's Redis ledger using the same vanguard.yml
the instance was started with, then prints every admission, completion,
failure, and interruption as it happens.

Output Formats:
  default - Human-readable output with timestamps
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch live activity
  vanguard watch

  # Export events as JSON
  vanguard watch --output=json > events.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchConfigPath, "config", "vanguard.yml", "Path to vanguard.yml")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchOutput != "default" && watchOutput != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutput),
			[]string{"Valid formats: default, json"},
		)
	}

	cfg, err := config.Load(watchConfigPath)
	if err != nil {
		return printer.Error(
			"failed to load configuration",
			fmt.Sprintf("Error: %v", err),
			[]string{fmt.Sprintf("Check the config file at %s", watchConfigPath)},
		)
	}

	led, err := ledger.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Instance)
	if err != nil {
		return fmt.Errorf("failed to create ledger client: %w", err)
	}
	defer led.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := led.Ping(ctx); err != nil {
		return printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Redis.Addr),
			map[string]string{"Instance": cfg.Instance},
			[]string{"Check that the instance's Redis is running and reachable"},
		)
	}

	sub, err := led.SubscribeAuditEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to audit events: %w", err)
	}
	defer sub.Close()

	if watchOutput == "default" {
		printer.Info("Watching audit events for instance '%s' (Ctrl-C to stop)\n", cfg.Instance)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		case entry, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if watchOutput == "json" {
				data, err := json.Marshal(entry)
				if err != nil {
					fmt.Fprintf(os.Stderr, "watch: failed to marshal entry: %v\n", err)
					continue
				}
				printer.Println(string(data))
				continue
			}

			ts := time.UnixMilli(entry.CreatedAtMs).UTC().Format(time.RFC3339)
			printer.Printf("[%s] %s %s/%s %s", ts, entry.ExecutionID, entry.AgentID,
				entry.Action, printer.Result(entry.Result))
			if entry.ErrorDetail != "" {
				printer.Printf(" (%s)", entry.ErrorDetail)
			}
			if entry.Interruption != "" {
				printer.Printf(" [interrupted: %s]", entry.Interruption)
			}
			printer.Println()
		}
	}
}
