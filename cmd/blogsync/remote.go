package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"blogsync/internal/domain"
	"blogsync/internal/scheduler"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <id>...",
		Short: "Publish local posts to the remote blog",
		Long: `Sync creates a remote post for drafts and posts that were never published,
and updates the remote copy of published posts that already have one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			pending := make([]<-chan domain.SyncResult, len(ids))
			for i, id := range ids {
				pending[i] = a.sync.SyncAsync(cmd.Context(), id)
			}

			var failed int
			out := cmd.OutOrStdout()
			for _, ch := range pending {
				res := <-ch
				if res.Err != nil {
					failed++
					fmt.Fprintf(out, "post %d: failed: %s\n", res.LocalID, domain.UserMessage(res.Err))
					continue
				}
				fmt.Fprintf(out, "post %d: %sd remote post %d\n", res.LocalID, res.Operation, res.Item.RemoteID)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d posts failed to sync", failed, len(ids))
			}
			return nil
		}),
	}
}

func newFetchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "fetch",
		Short:   "Download remote categories, tags and posts",
		Aliases: []string{"pull"},
		Args:    cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			previous, err := a.sync.LastPull(cmd.Context())
			if err != nil {
				return err
			}
			if !previous.LastPulledAt.IsZero() {
				fmt.Fprintf(cmd.OutOrStdout(), "last fetched %s\n", humanize.Time(previous.LastPulledAt))
			}

			stats, err := a.sync.Pull(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"%d categories, %d tags, %d posts fetched: %d new, %d updated, %d skipped, %d errors (%s)\n",
				stats.Categories, stats.Tags, stats.Fetched,
				stats.New, stats.Updated, stats.Skipped, stats.Errors,
				stats.Duration.Round(time.Millisecond),
			)
			return nil
		}),
	}
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	var localOnly bool

	cmd := &cobra.Command{
		Use:     "delete <id>",
		Short:   "Delete a post locally and from the remote blog",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.sync.Delete(cmd.Context(), id, !localOnly); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted post %d\n", id)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "keep the remote post")
	return cmd
}

func newUploadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <id> <image>",
		Short: "Upload a featured image for a post",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			out := cmd.ErrOrStderr()
			var mu sync.Mutex
			lastPct := -1
			progress := func(p domain.Progress) {
				if p.Total <= 0 {
					return
				}
				pct := int(p.Sent * 100 / p.Total)
				mu.Lock()
				defer mu.Unlock()
				if pct == lastPct || pct%10 != 0 {
					return
				}
				lastPct = pct
				fmt.Fprintf(out, "\ruploading %s / %s (%d%%)",
					humanize.Bytes(uint64(p.Sent)), humanize.Bytes(uint64(p.Total)), pct)
			}

			item, err := a.sync.UploadFeaturedImage(cmd.Context(), id, args[1], progress)
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "post %d featured image: %s (media %d)\n", item.ID, item.FeaturedImageURL, item.FeaturedMediaID)
			if item.HasRemoteID() {
				fmt.Fprintf(cmd.OutOrStdout(), "run `blogsync sync %d` to attach it to the remote post\n", item.ID)
			}
			return nil
		}),
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Pull from the remote blog periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			sched := scheduler.NewScheduler(a.sync, a.cfg.Pull.Interval, a.cfg.Pull.Timeout, a.logger)

			a.logger.Info("starting blogsync watch",
				"remote", a.remote.BaseURL(),
				"interval", a.cfg.Pull.Interval,
			)

			err := sched.Start(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}),
	}
}
