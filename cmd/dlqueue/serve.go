package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"dlqueue/internal/api"
	"dlqueue/internal/downloader"
	"dlqueue/internal/queue"
	"dlqueue/pkg/checkpoint"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/ratelimit"
	"dlqueue/pkg/retry"
	"dlqueue/pkg/storage"
	"dlqueue/pkg/ui"
)

var (
	serveListen        string
	serveOutput        string
	serveMaxConcurrent int
	serveStateFile     string
	serveEngine        string
	serveNotify        bool
	serveFresh         bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download queue daemon",
	Long: `Run the download queue daemon and its HTTP API.

On start the daemon restores the queue from its state file. Downloads that
were running when it last stopped become interrupted if they had made
progress and can be resumed with 'dlqueue resume <id>'.`,
	Example: `  # Serve on the default address with settings from the config file
  dlqueue serve

  # Three parallel downloads into ./media, reachable from the network
  dlqueue serve --max-concurrent 3 --output ./media --listen 0.0.0.0:8001

  # Forget the saved queue and start empty
  dlqueue serve --fresh`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "address for the HTTP API")
	serveCmd.Flags().StringVarP(&serveOutput, "output", "o", "", "output directory for downloads")
	serveCmd.Flags().IntVar(&serveMaxConcurrent, "max-concurrent", 0, "number of parallel downloads")
	serveCmd.Flags().StringVar(&serveStateFile, "state-file", "", "queue state file")
	serveCmd.Flags().StringVar(&serveEngine, "engine", "", "download engine: auto, http or ytdlp")
	serveCmd.Flags().BoolVar(&serveNotify, "notify", false, "send desktop notifications for finished downloads")
	serveCmd.Flags().BoolVar(&serveFresh, "fresh", false, "start with an empty queue, keeping a backup of the saved state")
}

// resetState moves the saved queue out of the way so the daemon starts
// empty. It returns the backup location, or "" when nothing was saved.
func resetState(store *checkpoint.Manager) (string, error) {
	if !store.Exists() {
		return "", nil
	}
	backup, err := store.Backup()
	if err != nil {
		return "", err
	}
	return backup, store.Delete()
}

func runServe(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{
		"listen":         serveListen,
		"output":         serveOutput,
		"max-concurrent": serveMaxConcurrent,
		"state-file":     serveStateFile,
		"engine":         serveEngine,
	}
	if cmd.Flags().Changed("notify") {
		flags["notify"] = serveNotify
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	store, err := checkpoint.NewManager(cfg.Queue.StateFile, log)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}
	if serveFresh {
		backup, err := resetState(store)
		if err != nil {
			return fmt.Errorf("failed to reset queue state: %w", err)
		}
		if backup != "" {
			ui.PrintInfo("Previous queue saved to", backup)
		}
	}
	files, err := storage.NewManager(cfg.Download.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to prepare output directory: %w", err)
	}

	httpExec := downloader.NewHTTPExecutor(
		cfg.Download,
		downloader.DefaultHTTPClient(),
		files,
		ratelimit.FromConfig(cfg.RateLimit),
		retry.FromConfig(cfg.Retry, log),
		log,
	)
	ytdlpExec := downloader.NewYtdlpExecutor(cfg.Download, log)
	router := downloader.NewRouter(cfg.Download, httpExec, ytdlpExec, log)

	events := make(chan queue.Event, cfg.Queue.EventBuffer)
	pool := downloader.NewWorkerPool(cfg.Queue.MaxConcurrent, router, events, cfg.Download.Timeout, log)
	manager := queue.NewManager(queue.OptionsFromConfig(cfg.Queue), store, pool, events, log)
	server := api.NewServer(cfg.Server, manager, log)
	notifier := ui.NewNotifier(cfg.Notifications)

	logger.LogComponentStart(log, "daemon", map[string]interface{}{
		"address":        cfg.Server.Address,
		"output_dir":     files.OutputDir(),
		"state_file":     store.Path(),
		"max_concurrent": cfg.Queue.MaxConcurrent,
		"engine":         cfg.Download.Engine,
	})

	g, ctx := errgroup.WithContext(cmd.Context())

	// Subscribe before recovery so the recovered notification is delivered
	var notes <-chan queue.Notification
	if notifier.Enabled() {
		notes, _ = manager.Subscribe(queue.DefaultSubscriberBuffer)
	}

	pool.Start(ctx)
	report := manager.Recover(ctx)
	if report.Quarantined != "" {
		ui.PrintWarning("Unreadable state file moved aside", report.Quarantined)
	}

	g.Go(func() error { return manager.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })
	if notes != nil {
		g.Go(func() error {
			notifier.Watch(ctx, notes)
			return nil
		})
	}

	ui.PrintSuccess(fmt.Sprintf("dlqueue listening on %s (%d interrupted, %d queued)",
		cfg.Server.Address, report.Interrupted+report.Incomplete, report.Queued))

	runErr := g.Wait()

	// Running downloads are abandoned; their state is kept for the next start
	pool.Stop()
	closeErr := manager.Close()
	logger.LogComponentStop(log, "daemon", "shutdown")

	if runErr != nil {
		return fmt.Errorf("daemon stopped: %w", runErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to save queue state: %w", closeErr)
	}
	return nil
}
