package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/chatarchive/internal/config"
	"github.com/roach88/chatarchive/internal/ledger"
	"github.com/roach88/chatarchive/internal/reconcile"
	"github.com/roach88/chatarchive/internal/store"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Channel     string
	Once        bool
	MetricsAddr string

	// IDGenerator overrides pass ids (for testing). Defaults to UUIDv7.
	IDGenerator reconcile.IDGenerator
}

// PassSummary is the outcome of one pass over one channel.
type PassSummary struct {
	Channel   string `json:"channel"`
	PassID    string `json:"pass_id"`
	Scanned   int    `json:"scanned"`
	Dirty     int    `json:"dirty"`
	Converged int    `json:"converged"`
	Changed   int    `json:"changed"`
	Errors    int    `json:"errors"`
	Conflicts int    `json:"conflicts"`
}

func summarize(channel string, p reconcile.PassResult) PassSummary {
	return PassSummary{
		Channel:   channel,
		PassID:    p.ID,
		Scanned:   p.Scanned,
		Dirty:     len(p.Minutes),
		Converged: p.Count(reconcile.Converged),
		Changed:   p.Count(reconcile.Changed),
		Errors:    p.Count(reconcile.Error),
		Conflicts: p.Conflicts(),
	}
}

func (s PassSummary) String() string {
	return fmt.Sprintf("#%s pass %s: %d minute(s), %d dirty, %d changed, %d converged, %d error(s), %d conflict(s)",
		s.Channel, s.PassID, s.Scanned, s.Dirty, s.Changed, s.Converged, s.Errors, s.Conflicts)
}

// ReconcileResult lists the passes of a --once run.
type ReconcileResult struct {
	Passes []PassSummary `json:"passes"`
}

func (r ReconcileResult) String() string {
	lines := make([]string, len(r.Passes))
	for i, p := range r.Passes {
		lines[i] = p.String()
	}
	return strings.Join(lines, "\n")
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run the reconciliation scheduler",
		Long: `Periodically merge every minute whose files, or whose neighbours' files,
changed since the last pass, until interrupted.

Channels come from the config unless --channel is given. With --once a
single pass is run per channel and its summary printed.

Example:
  chatarchive reconcile --config ./chatarchive.yaml
  chatarchive reconcile --root ./archive --channel somechan --once`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "", "reconcile a single channel")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run one pass per channel and exit")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := setupLogging(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	channels := channelsFor(opts.Channel, cfg)
	if len(channels) == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid config", errors.New("no channels configured"))
	}

	led, err := openLedger(cfg.LedgerPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open ledger", err)
	}
	if led != nil {
		defer func() {
			if closeErr := led.Close(); closeErr != nil {
				slog.Error("error closing ledger", "error", closeErr)
			}
		}()
	}

	schedulers := make([]*reconcile.Scheduler, 0, len(channels))
	for _, ch := range channels {
		st, err := openStore(cfg, ch, logger)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
		}
		schedulers = append(schedulers, newScheduler(opts, cfg, st, led, logger))
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	if opts.Once {
		result := ReconcileResult{Passes: make([]PassSummary, len(schedulers))}
		for i, s := range schedulers {
			p, err := s.RunOnce(ctx)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "pass failed", err)
			}
			result.Passes[i] = summarize(channels[i], p)
		}
		return formatter.Success(result)
	}

	addr := cfg.Metrics.Addr
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}

	g, gctx := errgroup.WithContext(ctx)
	if addr != "" {
		g.Go(func() error { return serveMetrics(gctx, addr) })
	}
	for _, s := range schedulers {
		g.Go(func() error { return s.Run(gctx) })
	}

	slog.Info("reconciler started", "channels", channels, "interval", cfg.Reconcile.Interval)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "reconciler error", err)
	}

	slog.Info("reconciler stopped gracefully")
	return nil
}

func newScheduler(opts *ReconcileOptions, cfg *config.Config, st *store.Store, led *ledger.Ledger, logger *slog.Logger) *reconcile.Scheduler {
	var schedOpts []reconcile.Option
	if opts.IDGenerator != nil {
		schedOpts = append(schedOpts, reconcile.WithIDGenerator(opts.IDGenerator))
	}
	schedCfg := reconcile.Config{
		NodeID:      cfg.NodeID,
		Interval:    cfg.Reconcile.Interval,
		Concurrency: cfg.Reconcile.Concurrency,
	}
	// A nil *ledger.Ledger would be a non-nil reconcile.Ledger.
	if led == nil {
		return reconcile.New(st, nil, schedCfg, logger, schedOpts...)
	}
	return reconcile.New(st, led, schedCfg, logger, schedOpts...)
}

// serveMetrics serves /metrics until ctx ends.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}
