package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/two_node_overlap.yaml")
	require.NoError(t, err)

	assert.Equal(t, "two_node_overlap", s.Name)
	assert.Equal(t, "somechan", s.Channel)
	assert.Equal(t, DefaultMaxPasses, s.MaxPasses)
	require.Len(t, s.Stream, 3)
	assert.Equal(t, "m1", s.Stream[0].Tags["id"])
	assert.Equal(t, "1700000000.1", s.Stream[0].At)
	require.Len(t, s.Nodes, 2)
	assert.Equal(t, "1700000040", s.Nodes[0].To)
	assert.Equal(t, int64(20), s.Nodes[1].DelayMS)
	assert.Len(t, s.Assertions, 8)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: typo
description: d
channel: c
nodes: [{id: n1}]
assertion:
  - type: conflicts
`), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenarioValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nchannel: c\nnodes: [{id: n1}]\nassertions: [{type: conflicts}]",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nchannel: c\nnodes: [{id: n1}]\nassertions: [{type: conflicts}]",
			want: "description is required",
		},
		{
			name: "missing channel",
			yaml: "name: n\ndescription: d\nnodes: [{id: n1}]\nassertions: [{type: conflicts}]",
			want: "channel is required",
		},
		{
			name: "no nodes",
			yaml: "name: n\ndescription: d\nchannel: c\nassertions: [{type: conflicts}]",
			want: "nodes list is required",
		},
		{
			name: "no assertions",
			yaml: "name: n\ndescription: d\nchannel: c\nnodes: [{id: n1}]",
			want: "assertions list is required",
		},
		{
			name: "duplicate node",
			yaml: "name: n\ndescription: d\nchannel: c\nnodes: [{id: n1}, {id: n1}]\nassertions: [{type: conflicts}]",
			want: `duplicate id "n1"`,
		},
		{
			name: "bad stream time",
			yaml: "name: n\ndescription: d\nchannel: c\nstream: [{command: PING, at: soon}]\nnodes: [{id: n1}]\nassertions: [{type: conflicts}]",
			want: "stream[0].at",
		},
		{
			name: "sub-millisecond time",
			yaml: "name: n\ndescription: d\nchannel: c\nnodes: [{id: n1, from: \"1.0001\"}]\nassertions: [{type: conflicts}]",
			want: "nodes[0].from",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nchannel: c\nnodes: [{id: n1}]\nassertions: [{type: trace_contains}]",
			want: `unknown assertion type "trace_contains"`,
		},
		{
			name: "bad kind",
			yaml: "name: n\ndescription: d\nchannel: c\nnodes: [{id: n1}]\nassertions: [{type: kind_count, kind: exact}]",
			want: "kind must be identified or ranged",
		},
		{
			name: "receivers without id",
			yaml: "name: n\ndescription: d\nchannel: c\nnodes: [{id: n1}]\nassertions: [{type: receivers, nodes: [n1]}]",
			want: "id is required for receivers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCaptureFiltersAndDelays(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/two_node_overlap.yaml")
	require.NoError(t, err)

	node1, err := s.capture(s.Nodes[0])
	require.NoError(t, err)
	require.Len(t, node1, 2, "node1 disconnected before m3")
	assert.Equal(t, int64(1700000000100), node1[0].Received)

	node2, err := s.capture(s.Nodes[1])
	require.NoError(t, err)
	require.Len(t, node2, 2, "node2 connected after m1")
	assert.Equal(t, "m2", node2[0].Tags["id"])
	assert.Equal(t, int64(1700000030120), node2[0].Received)
}

func TestCaptureMergesNodeOnlyEvents(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/conflicting_copies.yaml")
	require.NoError(t, err)

	events, err := s.capture(s.Nodes[1])
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "m1", events[0].Tags["id"])
	assert.Equal(t, []string{"#somechan", "tampered"}, events[1].Params)
	assert.Equal(t, int64(1700000005110), events[1].Received)
}
