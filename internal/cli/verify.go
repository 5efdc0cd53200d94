package cli

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chatarchive/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Channel string
}

// VerifyIssue is one problem found in a channel's files.
type VerifyIssue struct {
	Channel string `json:"channel"`
	File    string `json:"file,omitempty"`
	Minute  string `json:"minute"`
	Problem string `json:"problem"`
}

// VerifyResult summarizes a verify run.
type VerifyResult struct {
	Valid   bool          `json:"valid"`
	Files   int           `json:"files"`
	Minutes int           `json:"minutes"`
	Issues  []VerifyIssue `json:"issues,omitempty"`
}

func (r VerifyResult) String() string {
	if r.Valid {
		return fmt.Sprintf("✓ %d file(s) across %d minute(s) verified", r.Files, r.Minutes)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ %d issue(s) in %d file(s):", len(r.Issues), r.Files)
	for _, is := range r.Issues {
		if is.File != "" {
			fmt.Fprintf(&b, "\n  #%s %s: %s", is.Channel, is.File, is.Problem)
		} else {
			fmt.Fprintf(&b, "\n  #%s %s: %s", is.Channel, is.Minute, is.Problem)
		}
	}
	return b.String()
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check minute files against their names",
		Long: `Check that every minute file's content hashes to the name it is stored
under, is canonically encoded, and holds only records of its minute.
Minutes still holding more than one file are reported as unmerged.

Exits with status 1 if any issue is found.

Example:
  chatarchive verify --root ./archive --channel somechan
  chatarchive verify --config ./chatarchive.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "", "verify a single channel")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
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

	result := VerifyResult{Valid: true}
	for _, ch := range channels {
		st, err := openStore(cfg, ch, logger)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
		}
		files, err := st.Scan()
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to scan store", err)
		}
		result.Issues = append(result.Issues, verifyChannel(st, files, formatter)...)
		result.Minutes += len(files)
		for _, ids := range files {
			result.Files += len(ids)
		}
	}

	if len(result.Issues) > 0 {
		result.Valid = false
		_ = formatter.Error(ErrCodeVerifyFailed, result.String(), result)
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d issue(s) found", len(result.Issues)), reported: true}
	}
	return formatter.Success(result)
}

func verifyChannel(st *store.Store, files map[time.Time][]store.FileID, formatter *OutputFormatter) []VerifyIssue {
	var issues []VerifyIssue
	for _, m := range slices.SortedFunc(maps.Keys(files), time.Time.Compare) {
		ids := files[m]
		minute := m.Format(time.RFC3339)
		formatter.Progressf("Checking #%s %s (%d file(s))", st.Channel(), minute, len(ids))
		if len(ids) > 1 {
			issues = append(issues, VerifyIssue{
				Channel: st.Channel(),
				Minute:  minute,
				Problem: fmt.Sprintf("unmerged: %d files", len(ids)),
			})
		}
		for _, id := range ids {
			if err := st.Verify(id); err != nil {
				issues = append(issues, VerifyIssue{
					Channel: st.Channel(),
					File:    id.Path(),
					Minute:  minute,
					Problem: err.Error(),
				})
			}
		}
	}
	return issues
}
