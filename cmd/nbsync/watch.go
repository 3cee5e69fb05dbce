package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nbsync/internal/domain"
	"nbsync/internal/logger"
	"nbsync/internal/watcher"
)

// newWatchCmd runs a pass, then another whenever the config file changes or
// the interval elapses, until interrupted
func newWatchCmd(g *globalFlags) *cobra.Command {
	run := &runFlags{}
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reconcile now and again on config changes or at an interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, g, run, interval)
		},
	}
	run.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", 0, "also reconcile on this interval (0 disables)")
	return cmd
}

func runWatch(cmd *cobra.Command, g *globalFlags, run *runFlags, interval time.Duration) error {
	cfg, path, err := loadConfig(g)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging, g.debug)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	changed := make(chan struct{}, 1)
	watchErr := make(chan error, 1)
	w := watcher.New(path, logger.WithComponent(log, "watcher"))
	go func() { watchErr <- w.Watch(ctx, changed) }()

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	pass := func(reason string) {
		log.Info().Str("trigger", reason).Msg("Running pass")
		err := runSync(cmd, g, run)
		if errors.Is(err, domain.ErrFatal) {
			log.Error().Err(err).Msg("Pass aborted, waiting for the next trigger")
		} else if err != nil {
			log.Warn().Err(err).Msg("Pass finished with errors")
		}
	}

	pass("start")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			if err != nil && ctx.Err() == nil {
				return &domain.FatalError{Component: "watcher", Err: fmt.Errorf("watch %s: %w", path, err)}
			}
			return nil
		case <-changed:
			pass("config changed")
		case <-tick:
			pass("interval")
		}
	}
}
