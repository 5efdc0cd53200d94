package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/chatarchive/internal/config"
	"github.com/roach88/chatarchive/internal/ledger"
	"github.com/roach88/chatarchive/internal/store"
)

// newFormatter builds the output formatter for a command.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// setupLogging installs the default slog handler on the command's stderr.
func setupLogging(opts *RootOptions, cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig loads the config file if one was given, applies flag
// overrides and validates the result.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadWithDefaults(opts.ConfigPath); err != nil {
			return nil, err
		}
	}
	if opts.Root != "" {
		cfg.Root = opts.Root
	}
	if opts.NodeID != "" {
		cfg.NodeID = opts.NodeID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the store of one channel.
func openStore(cfg *config.Config, channel string, logger *slog.Logger) (*store.Store, error) {
	st, err := store.New(cfg.Root, channel, logger)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// openLedger opens the configured ledger, or returns nil when none is set.
func openLedger(path string) (*ledger.Ledger, error) {
	if path == "" {
		return nil, nil
	}
	l, err := ledger.Open(path)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// channelsFor returns the channel flag if set, otherwise the configured
// channels.
func channelsFor(flag string, cfg *config.Config) []string {
	if flag != "" {
		return []string{flag}
	}
	return cfg.Channels
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. The
// command's own context is the parent when set (tests cancel through it).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
