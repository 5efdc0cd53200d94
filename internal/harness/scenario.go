package harness

import (
	"bytes"
	"cmp"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/chatarchive/internal/ir"
	"github.com/roach88/chatarchive/internal/normalize"
)

// Scenario defines a convergence scenario: a ground-truth stream, the
// capture of each node, and assertions on the reconciled archive.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Channel is the channel every node records into.
	Channel string `yaml:"channel"`

	// MaxPasses bounds the reconciliation passes per node. Defaults to
	// DefaultMaxPasses.
	MaxPasses int `yaml:"max_passes,omitempty"`

	// Stream is the ground-truth event sequence, in delivery order.
	Stream []StreamEvent `yaml:"stream"`

	// Nodes lists the capturing nodes. At least one is required.
	Nodes []Node `yaml:"nodes"`

	// Assertions validate the reconciled archive.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultMaxPasses is used when a scenario does not set max_passes.
const DefaultMaxPasses = 10

// StreamEvent is one raw event with the time the server delivered it.
type StreamEvent struct {
	Command string            `yaml:"command"`
	Host    string            `yaml:"host,omitempty"`
	Params  []string          `yaml:"params,omitempty"`
	Sender  string            `yaml:"sender,omitempty"`
	User    string            `yaml:"user,omitempty"`
	Tags    map[string]string `yaml:"tags,omitempty"`

	// At is the delivery time in decimal seconds.
	At string `yaml:"at"`
}

// Node is one capture of the stream.
type Node struct {
	ID string `yaml:"id"`

	// From and To bound, inclusively, the delivery times this node was
	// connected for. Empty means unbounded.
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`

	// DelayMS is added to each delivery time to give the receipt time.
	DelayMS int64 `yaml:"delay_ms,omitempty"`

	// Events are seen by this node only, e.g. a message another node
	// received with different content.
	Events []StreamEvent `yaml:"events,omitempty"`
}

// Assertion validates the reconciled archive.
type Assertion struct {
	// Type is one of minute_count, record_count, kind_count, receivers,
	// conflicts.
	Type string `yaml:"type"`

	// Count is the expected number (minute_count, record_count, kind_count).
	Count int `yaml:"count,omitempty"`

	// Minute restricts record_count to one minute, RFC 3339.
	Minute string `yaml:"minute,omitempty"`

	// Kind is "identified" or "ranged" (kind_count).
	Kind string `yaml:"kind,omitempty"`

	// ID is the record id (receivers).
	ID string `yaml:"id,omitempty"`

	// Nodes is the expected receiver set (receivers).
	Nodes []string `yaml:"nodes,omitempty"`

	// IDs is the expected set of conflicting record ids (conflicts).
	IDs []string `yaml:"ids,omitempty"`
}

// Assertion type constants.
const (
	AssertMinuteCount = "minute_count"
	AssertRecordCount = "record_count"
	AssertKindCount   = "kind_count"
	AssertReceivers   = "receivers"
	AssertConflicts   = "conflicts"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.MaxPasses == 0 {
		scenario.MaxPasses = DefaultMaxPasses
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	if s.MaxPasses < 0 {
		return fmt.Errorf("max_passes must be non-negative")
	}
	if len(s.Nodes) == 0 {
		return fmt.Errorf("nodes list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, ev := range s.Stream {
		if _, err := ir.ParseSeconds(ev.At); err != nil {
			return fmt.Errorf("stream[%d].at: %w", i, err)
		}
	}

	var ids []string
	for i, n := range s.Nodes {
		if n.ID == "" {
			return fmt.Errorf("nodes[%d]: id is required", i)
		}
		if slices.Contains(ids, n.ID) {
			return fmt.Errorf("nodes[%d]: duplicate id %q", i, n.ID)
		}
		ids = append(ids, n.ID)
		for field, v := range map[string]string{"from": n.From, "to": n.To} {
			if v == "" {
				continue
			}
			if _, err := ir.ParseSeconds(v); err != nil {
				return fmt.Errorf("nodes[%d].%s: %w", i, field, err)
			}
		}
		if n.DelayMS < 0 {
			return fmt.Errorf("nodes[%d]: delay_ms must be non-negative", i)
		}
		for j, ev := range n.Events {
			if _, err := ir.ParseSeconds(ev.At); err != nil {
				return fmt.Errorf("nodes[%d].events[%d].at: %w", i, j, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertMinuteCount, AssertRecordCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertKindCount:
		if a.Kind != "identified" && a.Kind != "ranged" {
			return fmt.Errorf("assertions[%d]: kind must be identified or ranged, got %q", index, a.Kind)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for kind_count", index)
		}
	case AssertReceivers:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for receivers", index)
		}
		if len(a.Nodes) == 0 {
			return fmt.Errorf("assertions[%d]: nodes list is required for receivers", index)
		}
	case AssertConflicts:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// event converts a stream event to the raw event a node receives.
func (ev StreamEvent) event(delayMS int64) (normalize.Event, error) {
	at, err := ir.ParseSeconds(ev.At)
	if err != nil {
		return normalize.Event{}, err
	}
	return normalize.Event{
		Command:  ev.Command,
		Host:     ev.Host,
		Params:   ev.Params,
		Sender:   ev.Sender,
		User:     ev.User,
		Tags:     ev.Tags,
		Received: at + delayMS,
	}, nil
}

// capture returns the events node received, in receipt order.
func (s *Scenario) capture(n Node) ([]normalize.Event, error) {
	lo, hi := int64(-1<<62), int64(1<<62)
	if n.From != "" {
		lo, _ = ir.ParseSeconds(n.From)
	}
	if n.To != "" {
		hi, _ = ir.ParseSeconds(n.To)
	}

	var events []normalize.Event
	for _, sev := range s.Stream {
		at, _ := ir.ParseSeconds(sev.At)
		if at < lo || at > hi {
			continue
		}
		ev, err := sev.event(n.DelayMS)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	for _, sev := range n.Events {
		ev, err := sev.event(n.DelayMS)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	slices.SortStableFunc(events, func(a, b normalize.Event) int {
		return cmp.Compare(a.Received, b.Received)
	})
	return events, nil
}
