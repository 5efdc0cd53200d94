package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chatarchive/internal/chat"
	"github.com/roach88/chatarchive/internal/ir"
	"github.com/roach88/chatarchive/internal/normalize"
	"github.com/roach88/chatarchive/internal/recorder"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Channel string
	Start   string // decimal seconds; empty means the first event's receipt time
}

// IngestResult summarizes one ingest run.
type IngestResult struct {
	Channel  string           `json:"channel"`
	Events   int64            `json:"events"`
	Records  int64            `json:"records"`
	Files    int64            `json:"files"`
	TimedOut int64            `json:"timed_out"`
	Dropped  map[string]int64 `json:"dropped,omitempty"`
}

func (r IngestResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ingested %d event(s) into #%s: %d record(s), %d minute file(s)", r.Events, r.Channel, r.Records, r.Files)
	if r.TimedOut > 0 {
		fmt.Fprintf(&b, ", %d timed out", r.TimedOut)
	}
	var dropped int64
	for _, n := range r.Dropped {
		dropped += n
	}
	if dropped > 0 {
		fmt.Fprintf(&b, ", %d dropped", dropped)
	}
	return b.String()
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <events.jsonl>",
		Short: "Record a raw event log into minute files",
		Long: `Replay a JSON-lines log of raw events through the normalizer and write
the resulting records to the channel's minute files.

Each line is one event with its local receipt time in seconds:
  {"command":"PRIVMSG","params":["#chan","hi"],"tags":{"id":"1","tmi-sent-ts":"1700000000000"},"received":1700000000.2}

Example:
  chatarchive ingest --channel somechan ./events.jsonl
  chatarchive ingest --channel somechan --start 1700000000 --node node2 ./events.jsonl`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "", "channel to record into (required)")
	_ = cmd.MarkFlagRequired("channel")
	cmd.Flags().StringVar(&opts.Start, "start", "", "connection start time in seconds (default: first event's receipt time)")

	return cmd
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := setupLogging(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to open event log", err)
	}
	defer f.Close()

	start, err := ingestStart(opts.Start, f)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to determine start time", err)
	}

	st, err := openStore(cfg, opts.Channel, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}

	norm := normalize.New(normalize.Config{
		NodeID:        cfg.NodeID,
		Timeout:       cfg.Normalizer.Timeout.Milliseconds(),
		PresenceSlack: cfg.Normalizer.PresenceSlack.Milliseconds(),
	}, start, logger)
	rec := recorder.New(st, norm, recorder.Config{FlushDelay: cfg.Recorder.FlushDelay}, logger)

	ctx, stop := signalContext(cmd)
	defer stop()

	formatter.Progressf("Ingesting %s into %s as %s", path, st.Dir(), cfg.NodeID)
	if err := rec.Ingest(ctx, f); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "ingest failed", err)
	}

	rs, ns := rec.Stats(), norm.Stats()
	return formatter.Success(IngestResult{
		Channel:  opts.Channel,
		Events:   rs.Events,
		Records:  rs.Records,
		Files:    rs.Files,
		TimedOut: ns.TimedOut,
		Dropped:  ns.Dropped,
	})
}

var errStopPeek = errors.New("stop")

// ingestStart parses the --start flag, or peeks at the first event's
// receipt time and rewinds f.
func ingestStart(flag string, f io.ReadSeeker) (chat.Millis, error) {
	if flag != "" {
		start, err := ir.ParseSeconds(flag)
		if err != nil {
			return 0, fmt.Errorf("--start: %w", err)
		}
		return start, nil
	}

	var start chat.Millis
	err := normalize.ReadEvents(f, func(ev normalize.Event) error {
		start = ev.Received
		return errStopPeek
	})
	if err != nil && !errors.Is(err, errStopPeek) {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind event log: %w", err)
	}
	return start, nil
}
