package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"dlqueue/pkg/logger"
	"dlqueue/pkg/ui/tui"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live queue dashboard",
	Long: `Open a terminal dashboard that polls the daemon and shows its event
stream. Press ? inside the dashboard for the key bindings.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "status refresh interval (default from client.poll_interval)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	// Console logs would draw over the dashboard
	quiet := logger.NewNopLogger()
	logger.SetLogger(quiet)
	c := clientFor(cfg, quiet)

	interval := cfg.Client.PollInterval
	if watchInterval > 0 {
		interval = watchInterval
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	dashboard := tui.New(ctx, c, interval)

	go func() {
		// Reconnect until the dashboard closes; the poll loop keeps the
		// view current while the stream is down.
		for ctx.Err() == nil {
			err := c.Events(ctx, dashboard.Notify)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				dashboard.LogError("Event stream: " + err.Error())
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()

	err = dashboard.Run()
	if cmd.Context().Err() != nil {
		return nil
	}
	return err
}
