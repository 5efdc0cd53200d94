package store

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatarchive/internal/chat"
	"github.com/roach88/chatarchive/internal/ir"
)

var minute = time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "#chan", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func msg(id string, at time.Time, node string) chat.Record {
	ms := at.UnixMilli()
	return chat.Record{
		Payload:   chat.Payload{Command: "PRIVMSG", Params: []string{"#chan", id}, Tags: map[string]string{"id": id}},
		Time:      ms,
		Receivers: chat.Receivers{node: ms + 10},
	}
}

func TestNewRejectsBadChannel(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := New(t.TempDir(), name, nil)
		assert.Error(t, err, "channel %q", name)
	}
}

func TestParseFileName(t *testing.T) {
	hash := "4d3797258208050b53eaec6e24f17969c1836caf4adf0b2d5be63571b252e447"

	id, err := ParseFileName("2024-03-01T12:05:00_" + hash)
	require.NoError(t, err)
	assert.Equal(t, minute, id.Minute)
	assert.Equal(t, hash, id.Hash)
	assert.Equal(t, "2024-03-01T12", id.Hour())
	assert.Equal(t, "chat/2024-03-01T12/2024-03-01T12:05:00_"+hash, id.Path())

	bad := []string{
		"",
		"2024-03-01T12:05:00",
		"2024-03-01T12:05:30_" + hash,
		"2024-03-01T12:05:00_" + hash[:10],
		"2024-03-01T12:05:00_" + "4D3797258208050B53EAEC6E24F17969C1836CAF4ADF0B2D5BE63571B252E447",
		"yesterday_" + hash,
	}
	for _, name := range bad {
		_, err := ParseFileName(name)
		assert.ErrorIs(t, err, ErrBadFileName, name)
	}
}

func TestWriteIsContentAddressed(t *testing.T) {
	s := newTestStore(t)
	records := []chat.Record{msg("b", minute.Add(20*time.Second), "node1"), msg("a", minute.Add(10*time.Second), "node1")}

	id, err := s.Write(minute, records)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.Dir(), id.Path()))
	require.NoError(t, err)
	want, err := chat.MarshalFile(records)
	require.NoError(t, err)
	assert.Equal(t, want, data)

	hash, err := chat.Hash(records)
	require.NoError(t, err)
	assert.Equal(t, hash, id.Hash)

	// Same content in another order is the same file.
	again, err := s.Write(minute, []chat.Record{records[1], records[0]})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	ids, err := s.List(minute)
	require.NoError(t, err)
	assert.Equal(t, []FileID{id}, ids)
}

func TestWriteRejectsForeignMinuteAndEmpty(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write(minute, nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = s.Write(minute, []chat.Record{msg("a", minute.Add(time.Minute), "node1")})
	assert.ErrorIs(t, err, ErrWrongMinute)
}

func TestReadEnumeratesAllFilesForMinute(t *testing.T) {
	s := newTestStore(t)

	local, err := s.Write(minute, []chat.Record{msg("a", minute, "node1")})
	require.NoError(t, err)
	remote, err := s.Write(minute, []chat.Record{msg("a", minute, "node2")})
	require.NoError(t, err)
	_, err = s.Write(minute.Add(time.Minute), []chat.Record{msg("c", minute.Add(time.Minute), "node1")})
	require.NoError(t, err)

	files, err := s.Read(minute)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.ElementsMatch(t, []FileID{local, remote}, IDs(files))
}

func TestReadSkipsTempAndForeignFiles(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Write(minute, []chat.Record{msg("a", minute, "node1")})
	require.NoError(t, err)

	dir := filepath.Join(s.Dir(), "chat", id.Hour())
	require.NoError(t, os.WriteFile(filepath.Join(dir, tmpPrefix+"123"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

	files, err := s.Read(minute)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestReplaceWritesThenRemoves(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Write(minute, []chat.Record{msg("a", minute, "node1")})
	require.NoError(t, err)
	b, err := s.Write(minute, []chat.Record{msg("a", minute, "node2")})
	require.NoError(t, err)

	merged := msg("a", minute, "node1")
	merged.Receivers["node2"] = merged.Receivers["node1"]
	id, err := s.Replace(minute, []chat.Record{merged}, []FileID{a, b})
	require.NoError(t, err)

	ids, err := s.List(minute)
	require.NoError(t, err)
	assert.Equal(t, []FileID{id}, ids)
}

func TestReplaceNeverRemovesNewFile(t *testing.T) {
	s := newTestStore(t)
	records := []chat.Record{msg("a", minute, "node1")}

	a, err := s.Write(minute, records)
	require.NoError(t, err)

	id, err := s.Replace(minute, records, []FileID{a})
	require.NoError(t, err)
	assert.Equal(t, a, id)

	ids, err := s.List(minute)
	require.NoError(t, err)
	assert.Equal(t, []FileID{a}, ids)
}

func TestReplaceWithNothingOnlyRemoves(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Write(minute, []chat.Record{msg("a", minute, "node1")})
	require.NoError(t, err)

	id, err := s.Replace(minute, nil, []FileID{a})
	require.NoError(t, err)
	assert.Equal(t, FileID{}, id)

	ids, err := s.List(minute)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Already gone is fine.
	require.NoError(t, s.Remove(a))
}

func TestNeighbors(t *testing.T) {
	s := newTestStore(t)

	prev := minute.Add(-time.Minute)
	_, err := s.Write(prev, []chat.Record{msg("p", prev.Add(59*time.Second), "node1")})
	require.NoError(t, err)

	before, after := s.Neighbors(minute)
	require.NoError(t, before.Err)
	assert.Equal(t, prev, before.Minute)
	assert.Len(t, before.Files, 1)

	require.NoError(t, after.Err, "missing neighbour is not an error")
	assert.Equal(t, minute.Add(time.Minute), after.Minute)
	assert.Empty(t, after.Files)
}

func TestNeighborsReadsEachSideIndependently(t *testing.T) {
	s := newTestStore(t)

	prev := minute.Add(-time.Minute)
	garbage := []byte("not json\n")
	bad := FileID{Minute: prev, Hash: ir.ContentHash(garbage)}
	path := filepath.Join(s.Dir(), bad.Path())
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	next := minute.Add(time.Minute)
	_, err := s.Write(next, []chat.Record{msg("n", next, "node1")})
	require.NoError(t, err)

	before, after := s.Neighbors(minute)
	assert.Error(t, before.Err)
	assert.Empty(t, before.Files)
	require.NoError(t, after.Err)
	assert.Len(t, after.Files, 1)
}

func TestScanAndMinutesCrossHours(t *testing.T) {
	s := newTestStore(t)

	m1 := time.Date(2024, 3, 1, 12, 59, 0, 0, time.UTC)
	m2 := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	for _, m := range []time.Time{m2, m1} {
		_, err := s.Write(m, []chat.Record{msg("x", m, "node1")})
		require.NoError(t, err)
	}
	_, err := s.Write(m1, []chat.Record{msg("y", m1, "node1")})
	require.NoError(t, err)

	files, err := s.Scan()
	require.NoError(t, err)
	assert.Len(t, files[m1], 2)
	assert.Len(t, files[m2], 1)

	minutes, err := s.Minutes()
	require.NoError(t, err)
	assert.Equal(t, []time.Time{m1, m2}, minutes)
}

func TestScanEmptyChannel(t *testing.T) {
	s := newTestStore(t)

	files, err := s.Scan()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestVerify(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Write(minute, []chat.Record{msg("a", minute, "node1")})
	require.NoError(t, err)
	require.NoError(t, s.Verify(id))

	path := filepath.Join(s.Dir(), id.Path())

	// Tampered content no longer matches its name.
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	assert.ErrorIs(t, s.Verify(id), ErrHashMismatch)

	// Valid records in non-canonical form.
	loose := []byte(`{"time": 1709294700, "command": "PING"}` + "\n")
	looseID := FileID{Minute: minute, Hash: hashOf(loose)}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), looseID.Path()), loose, 0o644))
	assert.ErrorIs(t, s.Verify(looseID), ErrNotCanonical)
}

func hashOf(data []byte) string {
	return fileIDFor(minute, data).Hash
}
