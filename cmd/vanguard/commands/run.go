package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mrarejimmyz/zkvanguard/internal/agent"
	"github.com/mrarejimmyz/zkvanguard/internal/attest"
	"github.com/mrarejimmyz/zkvanguard/internal/config"
	"github.com/mrarejimmyz/zkvanguard/internal/guard"
	"github.com/mrarejimmyz/zkvanguard/internal/orchestrator"
	"github.com/mrarejimmyz/zkvanguard/internal/printer"
	"github.com/mrarejimmyz/zkvanguard/pkg/ledger"
)

var (
	runConfigPath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a vanguard orchestrator instance",
	Long: `Start a vanguard orchestrator instance from a vanguard.yml configuration.

Registers the configured worker agents, connects the execution guard to the
Redis-backed audit ledger, and serves the admin API until SIGTERM/SIGINT.

Examples:
  # Start with the default config in the current directory
  vanguard run

  # Start with an explicit config path
  vanguard run --config /etc/vanguard/vanguard.yml`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "vanguard.yml", "Path to vanguard.yml")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return printer.Error(
			"failed to load configuration",
			fmt.Sprintf("Error: %v", err),
			[]string{fmt.Sprintf("Check the config file at %s", runConfigPath)},
		)
	}

	// Connect the audit ledger.
	led, err := ledger.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Instance)
	if err != nil {
		return fmt.Errorf("failed to create ledger client: %w", err)
	}
	defer led.Close()

	if err := led.Ping(ctx); err != nil {
		return printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Redis.Addr),
			map[string]string{"Instance": cfg.Instance},
			[]string{
				"Check that Redis is running and reachable",
				"Override the address with VANGUARD_REDIS_ADDR",
			},
		)
	}

	// Register the configured worker agents.
	registry := agent.NewRegistry()
	for _, a := range cfg.Agents {
		var worker agent.Agent
		switch a.Type {
		case agent.TypeRisk:
			worker = agent.NewRiskAgent(a.Name)
		case agent.TypeHedging:
			worker = agent.NewHedgingAgent(a.Name)
		case agent.TypeSettlement:
			worker = agent.NewSettlementAgent(a.Name)
		case agent.TypeReporting:
			worker = agent.NewReportingAgent(a.Name)
		default:
			return fmt.Errorf("unknown agent type %q", a.Type)
		}
		if err := registry.Register(worker); err != nil {
			return fmt.Errorf("failed to register agent %q: %w", a.Name, err)
		}
	}

	// Build the execution guard and pipeline engine.
	g, err := guard.NewGuard(cfg.GuardLimits())
	if err != nil {
		return fmt.Errorf("failed to create execution guard: %w", err)
	}
	g.SetLedger(led)

	engine := orchestrator.NewEngine(cfg.Instance, g, registry)
	engine.SetConsensusTimeout(cfg.ConsensusTimeout())
	if cfg.Attestor.URL != "" {
		engine.SetAttestor(attest.NewHTTPClient(cfg.Attestor.URL, cfg.AttestorTimeout()))
	}

	admin := orchestrator.NewAdminServer(g, led, cfg.Admin.Addr)
	admin.SetEngine(engine)
	if err := admin.Start(); err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}

	printer.Success("vanguard instance '%s' started\n", cfg.Instance)
	printer.Info("  Agents:    %d registered\n", len(cfg.Agents))
	printer.Info("  Ledger:    %s\n", cfg.Redis.Addr)
	printer.Info("  Admin API: %s\n", cfg.Admin.Addr)
	if cfg.Attestor.URL != "" {
		printer.Info("  Attestor:  %s\n", cfg.Attestor.URL)
	}

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	printer.Info("Received signal %v, shutting down gracefully...\n", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := admin.Shutdown(shutdownCtx); err != nil {
		printer.Warning("admin server shutdown: %v\n", err)
	}
	if err := registry.ShutdownAll(shutdownCtx); err != nil {
		printer.Warning("agent shutdown: %v\n", err)
	}

	printer.Info("vanguard stopped\n")
	return nil
}
