package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dlqueue/pkg/client"
	"dlqueue/pkg/models"
	"dlqueue/pkg/ui"
)

var (
	submitFormat string
	submitSite   string
	deleteAll    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <url>",
	Short: "Add a download to the queue",
	Long: `Add a download to the queue. The job starts immediately when a slot is
free and waits in FIFO order otherwise.`,
	Example: `  # Download a file
  dlqueue submit https://example.com/archive.zip

  # Extract audio from a video
  dlqueue submit https://www.youtube.com/watch?v=dQw4w9WgXcQ --format audio`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every job the daemon knows about",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var progressCmd = &cobra.Command{
	Use:   "progress <id>",
	Short: "Show the progress of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runProgress,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Remove a queued job",
	Long:  `Remove a job that is still waiting in the queue. Running downloads cannot be cancelled.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Restart an interrupted download",
	Long: `Replace an interrupted job with a new one for the same URL. The new job
gets a new id and joins the queue like a fresh submission.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget completed, failed and cancelled jobs",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var incompleteCmd = &cobra.Command{
	Use:   "incomplete",
	Short: "Manage interrupted downloads",
}

var incompleteDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete one or all interrupted downloads",
	Example: `  dlqueue incomplete delete 0190c2a4-7c1e-7b0e-9d8e-3f2a1b4c5d6e
  dlqueue incomplete delete --all`,
	Args: func(cmd *cobra.Command, args []string) error {
		if deleteAll && len(args) > 0 {
			return errors.New("pass either an id or --all")
		}
		if !deleteAll && len(args) != 1 {
			return errors.New("an id is required unless --all is given")
		}
		return nil
	},
	RunE: runIncompleteDelete,
}

func init() {
	rootCmd.AddCommand(submitCmd, statusCmd, progressCmd, cancelCmd, resumeCmd, clearCmd, incompleteCmd)
	incompleteCmd.AddCommand(incompleteDeleteCmd)

	submitCmd.Flags().StringVarP(&submitFormat, "format", "f", models.FormatVideo, "download format: video or audio")
	submitCmd.Flags().StringVar(&submitSite, "site", "", "site hint that forces the yt-dlp engine")
	incompleteDeleteCmd.Flags().BoolVar(&deleteAll, "all", false, "delete every interrupted download")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}

	target := models.Target{
		URL:    strings.TrimSpace(args[0]),
		Format: strings.ToLower(submitFormat),
		Site:   submitSite,
	}
	resp, err := c.Submit(cmd.Context(), target)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.JobID != "" {
			return fmt.Errorf("already queued as %s", apiErr.JobID)
		}
		return err
	}

	ui.PrintSuccess("Submitted " + resp.JobID)
	ui.PrintInfo("State", string(resp.State))
	if resp.QueuePosition > 0 {
		ui.PrintInfo("Queue position", fmt.Sprintf("%d", resp.QueuePosition))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	status, err := c.Status(cmd.Context())
	if err != nil {
		return err
	}
	ui.PrintStatus(status)
	return nil
}

func runProgress(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	p, err := c.Progress(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	ui.PrintProgress(args[0], p)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	job, err := c.Cancel(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	ui.PrintSuccess("Cancelled " + job.ID)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	resp, err := c.Resume(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Resumed %s as %s", args[0], resp.JobID))
	ui.PrintInfo("State", string(resp.State))
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	n, err := c.ClearCompleted(cmd.Context())
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Cleared %d finished jobs", n))
	return nil
}

func runIncompleteDelete(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}

	if deleteAll {
		n, err := c.DeleteAllInterrupted(cmd.Context())
		if err != nil {
			return err
		}
		ui.PrintSuccess(fmt.Sprintf("Deleted %d interrupted downloads", n))
		return nil
	}

	if err := c.DeleteInterrupted(cmd.Context(), args[0]); err != nil {
		return err
	}
	ui.PrintSuccess("Deleted " + args[0])
	return nil
}
