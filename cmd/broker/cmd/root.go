// Package cmd provides the CLI commands for the broker.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinel-gate/broker/internal/config"
)

var cfgFile string
var devMode bool

var rootCmd = &cobra.Command{
	Use:   "broker",
	Short: "broker - privileged-operation broker",
	Long: `broker holds dangerous host operations behind a two-person approval
workflow and executes them only through a fixed set of pre-installed,
root-owned wrapper programs.

Quick start:
  1. Create a config file: broker.yaml
  2. Run: broker start

Configuration:
  Config is loaded from broker.yaml in the current directory,
  $HOME/.broker/, or /etc/broker/.

  Environment variables can override config values with the BROKER_ prefix.
  Example: BROKER_SERVER_HTTP_ADDR=:9090

Commands:
  start         Start the broker and its background sweeper
  hash-password Hash an operator password for the operators file
  verify-audit  Verify the audit log's HMAC signature chain
  version       Print version information

Stand-in inbound adapter (no HTTP transport is in scope):
  create        Create an approval request for a privileged operation
  approve       Approve a pending approval request
  reject        Reject a pending approval request
  cancel        Cancel a pending approval request you created
  execute       Run the wrapper for an approved request`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./broker.yaml)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "run with permissive development defaults (in-memory state, fixed development HMAC key)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig loads, applies --dev overrides to, and validates the
// configuration. Shared by every subcommand that needs a live BrokerConfig.
func loadConfig() (*config.BrokerConfig, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
