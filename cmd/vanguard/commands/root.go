package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

var (
	// adminAddr is the base URL of a running instance's admin server.
	// Shared by every command that talks to a live orchestrator.
	adminAddr string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vanguard",
	Short: "Vanguard - safe execution orchestrator for financial worker agents",
	Long: `Vanguard coordinates a set of specialized financial worker agents
(risk, hedging, settlement, reporting) behind an execution guard that
enforces position limits, multi-agent consensus, and a circuit breaker.

Every admission, completion, and failure is recorded in a Redis-backed
append-only audit ledger, giving operators a complete record of what
the system did and why.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", "http://localhost:8080",
		"Base URL of the vanguard admin server")
}

// adminURL joins the admin base URL with a path.
func adminURL(path string) string {
	return strings.TrimRight(adminAddr, "/") + path
}

// adminClient is used for all admin server requests.
var adminClient = &http.Client{Timeout: 10 * time.Second}

// adminGet performs a GET against the admin server and decodes the JSON
// response into out.
func adminGet(path string, out interface{}) error {
	resp, err := adminClient.Get(adminURL(path))
	if err != nil {
		return fmt.Errorf("failed to reach admin server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("admin server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// adminPost performs a POST with a JSON body and decodes the JSON response
// into out when non-nil.
func adminPost(path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := adminClient.Post(adminURL(path), "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to reach admin server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("admin server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
