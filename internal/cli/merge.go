package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chatarchive/internal/reconcile"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	Channel   string
	MaxPasses int

	// IDGenerator overrides pass ids (for testing). Defaults to UUIDv7.
	IDGenerator reconcile.IDGenerator
}

// MergeResult reports the passes needed to converge each channel.
type MergeResult struct {
	Converged bool          `json:"converged"`
	Passes    []PassSummary `json:"passes"`
}

func (r MergeResult) String() string {
	var b strings.Builder
	for _, p := range r.Passes {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	if r.Converged {
		b.WriteString("Converged.")
	} else {
		b.WriteString("Did not converge.")
	}
	return b.String()
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge minute files until nothing changes",
		Long: `Run reconciliation passes back to back until a pass changes no file,
then exit. Use after copying another node's minute files into the archive.

Exits with status 1 if --max-passes passes still changed files.

Example:
  chatarchive merge --root ./archive --channel somechan
  chatarchive merge --config ./chatarchive.yaml --max-passes 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "", "merge a single channel")
	cmd.Flags().IntVar(&opts.MaxPasses, "max-passes", 10, "give up after this many passes")

	return cmd
}

func runMerge(opts *MergeOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := setupLogging(opts.RootOptions, cmd)

	if opts.MaxPasses < 1 {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid flags", fmt.Errorf("--max-passes must be at least 1, got %d", opts.MaxPasses))
	}

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

	ctx, stop := signalContext(cmd)
	defer stop()

	schedOpts := &ReconcileOptions{RootOptions: opts.RootOptions, IDGenerator: opts.IDGenerator}
	result := MergeResult{Converged: true}
	for _, ch := range channels {
		st, err := openStore(cfg, ch, logger)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
		}
		passes, err := newScheduler(schedOpts, cfg, st, led, logger).Converge(ctx, opts.MaxPasses)
		for _, p := range passes {
			result.Passes = append(result.Passes, summarize(ch, p))
		}
		if errors.Is(err, reconcile.ErrNoFixpoint) {
			result.Converged = false
			continue
		}
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "merge failed", err)
		}
	}

	if !result.Converged {
		_ = formatter.Error(ErrCodeNoFixpoint, "merge did not converge", result)
		return &ExitError{Code: ExitFailure, Message: "merge did not converge", reported: true}
	}
	return formatter.Success(result)
}
