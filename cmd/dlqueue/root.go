package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"dlqueue/pkg/auth"
	"dlqueue/pkg/client"
	"dlqueue/pkg/config"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/ui"
)

var (
	// Build information, set with -ldflags
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile  string
	logLevel    string
	serverURL   string
	accountName string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dlqueue",
	Short: "A download queue daemon with resumable jobs",
	Long: `dlqueue runs a download queue with a fixed number of concurrent slots.

Features:
  - FIFO queue with a configurable concurrency limit
  - HTTP downloads with resume, per-host rate limiting and retries
  - yt-dlp downloads for video sites, including audio extraction
  - Queue state survives restarts; interrupted jobs can be resumed
  - HTTP API with a live event stream
  - Terminal dashboard and desktop notifications

Start the daemon with 'dlqueue serve', then use the other commands to talk to it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command until it finishes or the process is interrupted
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", logger.Version, gitCommit, buildDate)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError("Error", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.config/dlqueue/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "daemon URL for client commands")
	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "", "stored token to use for client commands")

	rootCmd.SetVersionTemplate(`dlqueue {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads configuration with explicitly set flags taking priority
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := make(map[string]interface{}, len(extra)+3)
	for k, v := range extra {
		flags[k] = v
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if serverURL != "" {
		flags["server"] = serverURL
	}
	if accountName != "" {
		flags["account"] = accountName
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// newClient loads the configuration and connects to the configured daemon
func newClient() (*client.Client, *config.Config, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, nil, err
	}
	return clientFor(cfg, logger.GetLogger()), cfg, nil
}

// clientFor builds a client for cfg. The token comes from the credential
// store, falling back to the server section of the config for daemons on
// the same machine.
func clientFor(cfg *config.Config, log logger.Logger) *client.Client {
	token := cfg.Server.APIToken
	if manager, err := auth.NewManager(); err == nil {
		if t := manager.Token(cfg.Client.Account); t != "" {
			token = t
		}
	} else {
		log.WithError(err).Debug("Credential store unavailable")
	}

	return client.New(cfg.Client, token, log)
}
