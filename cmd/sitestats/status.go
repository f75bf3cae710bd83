package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/leozw/sitestats/internal/core"
	"github.com/leozw/sitestats/internal/fetcher"
	"github.com/leozw/sitestats/internal/format"
	"github.com/leozw/sitestats/internal/refresh"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var (
		all       bool
		timeRange string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch stats once and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger, err := root.newLogger(zapcore.WarnLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.session.Snapshot(ctx)
			if err != nil {
				return err
			}
			if len(snap.Sites) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), format.Title(nil, core.StatsResult{}, cfg.Display.Mode))
				return nil
			}

			tr := snap.TimeRange
			if timeRange != "" {
				if tr, err = core.ParseTimeRange(timeRange); err != nil {
					return err
				}
			}

			cycle, err := a.coord.RefreshAll(snap.Sites, tr, refresh.Foreground)
			if err != nil {
				return err
			}
			waitCtx, cancel := context.WithTimeout(ctx, cfg.Refresh.FetchTimeout+cfg.Provider.Timeout)
			defer cancel()
			if err := cycle.Wait(waitCtx); err != nil {
				return fmt.Errorf("refresh did not finish: %w", err)
			}

			sites := snap.Sites
			if !all {
				active, _ := snap.ActiveSite()
				sites = []core.Site{active}
			}

			failed := 0
			for _, site := range sites {
				result, _ := a.cache.Get(site.ID)
				var msg string
				if result.Err != nil {
					msg = fetcher.Message(result.Err)
					failed++
				}
				fmt.Fprint(cmd.OutOrStdout(), format.Summary(site, tr, result, msg))
			}
			if failed == len(sites) {
				return errors.New("no stats could be fetched")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "print every site instead of the active one")
	cmd.Flags().StringVarP(&timeRange, "range", "r", "", "time range: today, 7d or 30d")
	return cmd
}
