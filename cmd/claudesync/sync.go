package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudesync/claudesync/internal/conflict"
	"github.com/claudesync/claudesync/internal/engine"
	"github.com/claudesync/claudesync/internal/localstate"
	"github.com/claudesync/claudesync/internal/offlinequeue"
	"github.com/claudesync/claudesync/internal/retry"
	"github.com/claudesync/claudesync/internal/rules"
	"github.com/claudesync/claudesync/internal/syncfs"
)

// offlineQueueSize bounds the number of paths buffered while the server
// is unreachable, mirroring the original's fixed-capacity offline queue.
const offlineQueueSize = 1000

func newSyncCmd() *cobra.Command {
	var (
		mode       string
		daemon     bool
		globs      []string
		conflictDefault string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the managed directory with the sync server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if mode != "incremental" && mode != "full" && mode != "selective" {
				return fmt.Errorf("sync: --mode must be incremental, full, or selective, got %q", mode)
			}

			if mode == "selective" && len(globs) == 0 {
				return fmt.Errorf("sync: --mode selective requires at least one --path glob")
			}

			runner, err := newSyncRunner(cc, mode, globs, conflictDefault)
			if err != nil {
				return err
			}
			defer runner.close()

			ctx := cmd.Context()
			if daemon {
				return runner.runDaemon(ctx, cc)
			}

			summary, err := runner.runOnce(ctx)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			printSummary(cmd, summary)

			if summary.Failed > 0 {
				return fmt.Errorf("sync: %d path(s) failed", summary.Failed)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "incremental", "sync mode: incremental, full, or selective")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "run continuously on the configured poll interval")
	cmd.Flags().StringArrayVar(&globs, "path", nil, "glob(s) to sync, required for --mode selective")
	cmd.Flags().StringVar(&conflictDefault, "conflict-strategy", "", "override the configured default conflict strategy")

	return cmd
}

// syncRunner wires one sync pass's collaborators: the engine, the
// persisted state store, and the retry/offline-queue pair that absorbs
// transient server unavailability.
type syncRunner struct {
	eng     *engine.Engine
	scanner *syncfs.Scanner
	state   *localstate.Store
	queue   *offlinequeue.Queue[string]
	retrier *retry.Executor
	root    string
}

func newSyncRunner(cc *CLIContext, mode string, globs []string, conflictOverride string) (*syncRunner, error) {
	rulesEngine, err := rules.NewFromRules(toRuleSlice(cc.Cfg.Rules))
	if err != nil {
		return nil, fmt.Errorf("sync: loading rules: %w", err)
	}

	var filter syncfs.Filter = rulesEngine
	if mode == "selective" {
		filter = rules.NewSelectiveFilter(rulesEngine, globs)
	}

	conflictSetting := conflictOverride
	if conflictSetting == "" {
		conflictSetting = cc.Cfg.Sync.ConflictStrategy
	}

	strategy := parseConflictStrategy(conflictSetting)

	remote, err := cc.remoteClient()
	if err != nil {
		return nil, err
	}

	resolver := conflict.NewResolver(strategy)

	root := cc.Cfg.Server.SyncDir

	eng := engine.New(engine.Config{Root: root, ConflictDir: root}, rulesEngine, resolver, remote, cc.Logger)

	stateFile := cc.Cfg.Server.StateFile
	if stateFile == "" {
		stateFile = root + "/.claudesync-state.db"
	}

	store, err := localstate.Open(stateFile, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("sync: opening local state: %w", err)
	}

	if saved, err := store.LoadAll(context.Background()); err == nil {
		for path, st := range saved {
			eng.State().Set(path, st)
		}
	}

	return &syncRunner{
		eng:     eng,
		scanner: syncfs.NewScanner(filter, cc.Logger),
		state:   store,
		queue:   offlinequeue.New[string](offlineQueueSize),
		retrier: retry.New(retry.DefaultConfig(), cc.Logger),
		root:    root,
	}, nil
}

func (r *syncRunner) close() {
	r.state.Close()
}

// runOnce implements run_full_sync (spec.md §4.9): scan the managed
// directory, sync every included path, persist resulting state, and
// return the summarized counts.
func (r *syncRunner) runOnce(ctx context.Context) (engine.Summary, error) {
	files, err := r.scanner.Scan(r.root)
	if err != nil {
		return engine.Summary{}, fmt.Errorf("scanning %s: %w", r.root, err)
	}

	for _, f := range files {
		path := f.Path

		err := r.retrier.Do(ctx, "sync_file:"+path, func(ctx context.Context) error {
			return r.eng.SyncFile(ctx, path)
		})

		if err != nil {
			if pushErr := r.queue.Push(path); pushErr != nil {
				// Queue full: the path's failed state is still recorded by
				// the engine, so status reporting isn't silently lost.
				continue
			}
		}

		if st, ok := r.eng.State().Get(path); ok {
			_ = r.state.Save(ctx, path, st)
		}
	}

	return engine.Summarize(r.eng.State().Snapshot()), nil
}

// runDaemon re-runs runOnce on the configured poll interval until ctx is
// canceled (SIGINT/SIGTERM), draining the offline queue's paths first on
// every pass so a reconnect retries what failed while disconnected.
func (r *syncRunner) runDaemon(ctx context.Context, cc *CLIContext) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval, err := time.ParseDuration(cc.Cfg.Sync.PollInterval)
	if err != nil {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, path := range r.queue.Drain() {
			_ = r.retrier.Do(ctx, "sync_file:"+path, func(ctx context.Context) error {
				return r.eng.SyncFile(ctx, path)
			})
		}

		summary, err := r.runOnce(ctx)
		if err != nil {
			cc.Logger.Error("sync: run failed", "error", err)
		} else {
			cc.Logger.Info("sync: pass complete", "synced", summary.Synced, "failed", summary.Failed, "conflicts", summary.Conflicts)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func parseConflictStrategy(s string) conflict.Strategy {
	switch s {
	case "keep_mine":
		return conflict.StrategyKeepLocal
	case "keep_theirs":
		return conflict.StrategyKeepRemote
	case "keep_newer":
		return conflict.StrategyKeepNewer
	default:
		return conflict.StrategyManual
	}
}

func printSummary(cmd *cobra.Command, s engine.Summary) {
	fmt.Fprintf(cmd.OutOrStdout(), "synced: %d  failed: %d  conflicts: %d\n", s.Synced, s.Failed, s.Conflicts)

	for _, e := range s.Errors {
		fmt.Fprintln(cmd.ErrOrStderr(), "  "+e)
	}
}
