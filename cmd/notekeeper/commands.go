package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/connectivity"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/notes"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/reconcile"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/reconnect"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAddCommand() *cobra.Command {
	var (
		title     string
		content   string
		completed bool
		userID    string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Stage a new note",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp()
			if err != nil {
				return err
			}
			defer app.close()

			id, err := app.staging.StageCreate(cmd.Context(), notes.Fields{
				Title:       title,
				Content:     content,
				IsCompleted: completed,
				UserID:      app.ownerID(userID),
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Note title")
	cmd.Flags().StringVar(&content, "content", "", "Note content")
	cmd.Flags().BoolVar(&completed, "completed", false, "Mark the note completed")
	cmd.Flags().StringVar(&userID, "user-id", "", "Owner id (defaults to the session user)")
	return cmd
}

func newEditCommand() *cobra.Command {
	var (
		title     string
		content   string
		completed bool
		userID    string
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Stage changes to an existing note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := notes.Patch{}
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("content") {
				patch.Content = &content
			}
			if cmd.Flags().Changed("completed") {
				patch.IsCompleted = &completed
			}
			if cmd.Flags().Changed("user-id") {
				patch.UserID = &userID
			}
			if patch.Empty() {
				return errors.New("nothing to change; pass --title, --content, --completed or --user-id")
			}

			app, err := openClientApp()
			if err != nil {
				return err
			}
			defer app.close()

			return app.staging.StageUpdate(cmd.Context(), args[0], patch)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&content, "content", "", "New content")
	cmd.Flags().BoolVar(&completed, "completed", false, "Completion flag")
	cmd.Flags().StringVar(&userID, "user-id", "", "Owner id")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Stage the deletion of a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp()
			if err != nil {
				return err
			}
			defer app.close()

			return app.staging.StageDelete(cmd.Context(), args[0])
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp()
			if err != nil {
				return err
			}
			defer app.close()

			staged, err := app.staging.List(cmd.Context())
			if err != nil {
				return err
			}
			return printNotes(cmd.OutOrStdout(), staged)
		},
	}
}

func newPendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List notes waiting to be synced, including staged deletions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp()
			if err != nil {
				return err
			}
			defer app.close()

			staged, err := app.staging.ListPending(cmd.Context())
			if err != nil {
				return err
			}
			return printNotes(cmd.OutOrStdout(), staged)
		},
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass against the remote collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp()
			if err != nil {
				return err
			}
			defer app.close()

			report, err := app.syncNow(cmd.Context())
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Probe connectivity and sync after every stable reconnect",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp()
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			monitor := connectivity.NewBroadcaster()
			prober, err := connectivity.NewProber(connectivity.ProberConfig{
				URL:       app.config.ProbeURL,
				Interval:  app.config.ProbeInterval,
				Publisher: monitor,
				Logger:    app.logger,
			})
			if err != nil {
				return err
			}

			trigger, err := reconnect.New(reconnect.Config{
				Monitor:  monitor,
				Syncer:   app,
				Session:  app.session,
				Debounce: app.config.SyncDebounce,
				Logger:   app.logger,
			})
			if err != nil {
				return err
			}
			if err := trigger.Start(ctx); err != nil {
				return err
			}
			defer trigger.Stop()

			app.logger.Info("watching connectivity",
				zap.String("probe_url", app.config.ProbeURL),
				zap.Duration("debounce", app.config.SyncDebounce),
				zap.Bool("authenticated", app.session.IsAuthenticated()))

			prober.Run(ctx)
			return nil
		},
	}
}

func printNotes(out io.Writer, staged []notes.StagedNote) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSTATUS\tDONE\tOWNER\tCREATED\tTITLE")
	for _, note := range staged {
		created := time.UnixMilli(note.CreatedAtMillis).UTC().Format(time.RFC3339)
		fmt.Fprintf(writer, "%s\t%s\t%t\t%s\t%s\t%s\n",
			note.ID, statusLabel(note.Status), note.IsCompleted, note.UserID, created, note.Title)
	}
	return writer.Flush()
}

func statusLabel(status notes.Status) string {
	switch status {
	case notes.StatusSynced:
		return color.GreenString(string(status))
	case notes.StatusPendingDelete:
		return color.RedString(string(status))
	default:
		return color.YellowString(string(status))
	}
}

func printReport(out io.Writer, report reconcile.Report) error {
	if report.AlreadyRunning {
		_, err := fmt.Fprintln(out, "sync already running")
		return err
	}
	_, err := fmt.Fprintf(out, "pushed=%d deleted=%d purged=%d skipped=%d failed=%d superseded=%d duration=%s\n",
		report.Pushed, report.Deleted, report.Purged, report.Skipped, report.Failed, report.Superseded, report.Duration)
	return err
}
