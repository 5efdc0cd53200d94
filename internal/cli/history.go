package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chatarchive/internal/ledger"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Channel string
	Limit   int
}

// HistoryPass is one ledger pass as printed.
type HistoryPass struct {
	ID         string `json:"id"`
	Channel    string `json:"channel"`
	NodeID     string `json:"node_id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Scanned    int    `json:"scanned"`
	Converged  int    `json:"converged"`
	Changed    int    `json:"changed"`
	Errors     int    `json:"errors"`
	Conflicts  int    `json:"conflicts"`
}

// HistoryResult lists recent passes, newest first.
type HistoryResult struct {
	Channel string        `json:"channel"`
	Passes  []HistoryPass `json:"passes"`
}

func (r HistoryResult) String() string {
	if len(r.Passes) == 0 {
		return fmt.Sprintf("No passes recorded for #%s", r.Channel)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Passes for #%s:", r.Channel)
	for _, p := range r.Passes {
		finished := p.FinishedAt
		if finished == "" {
			finished = "(unfinished)"
		}
		fmt.Fprintf(&b, "\n  %s  %s  %s  scanned=%d changed=%d converged=%d errors=%d conflicts=%d",
			p.StartedAt, finished, p.ID, p.Scanned, p.Changed, p.Converged, p.Errors, p.Conflicts)
	}
	return b.String()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent reconciliation passes from the ledger",
		Long: `List the most recent reconciliation passes recorded in the ledger for a
channel, newest first. Requires ledger_path in the config.

Example:
  chatarchive history --config ./chatarchive.yaml --channel somechan --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "", "channel to show (required)")
	_ = cmd.MarkFlagRequired("channel")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of passes")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	setupLogging(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if cfg.LedgerPath == "" {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid config", errors.New("no ledger_path configured"))
	}

	led, err := openLedger(cfg.LedgerPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open ledger", err)
	}
	defer func() {
		if closeErr := led.Close(); closeErr != nil {
			slog.Error("error closing ledger", "error", closeErr)
		}
	}()

	passes, err := led.RecentPasses(cmd.Context(), opts.Channel, opts.Limit)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read ledger", err)
	}

	result := HistoryResult{Channel: opts.Channel, Passes: make([]HistoryPass, len(passes))}
	for i, p := range passes {
		result.Passes[i] = historyPass(p)
	}
	return formatter.Success(result)
}

func historyPass(p ledger.Pass) HistoryPass {
	hp := HistoryPass{
		ID:        p.ID,
		Channel:   p.Channel,
		NodeID:    p.NodeID,
		StartedAt: p.StartedAt.UTC().Format(time.RFC3339),
		Scanned:   p.Scanned,
		Converged: p.Converged,
		Changed:   p.Changed,
		Errors:    p.Errors,
		Conflicts: p.Conflicts,
	}
	if !p.FinishedAt.IsZero() {
		hp.FinishedAt = p.FinishedAt.UTC().Format(time.RFC3339)
	}
	return hp
}
