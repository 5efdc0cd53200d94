package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/chatarchive/internal/chat"
	"github.com/roach88/chatarchive/internal/ir"
)

var (
	// ErrEmpty is returned by Write for an empty record set.
	ErrEmpty = errors.New("no records to write")
	// ErrWrongMinute is returned when a record does not belong to the
	// minute it is written under.
	ErrWrongMinute = errors.New("record outside minute")
	// ErrHashMismatch is returned by Verify when content does not match the
	// hash in the file name.
	ErrHashMismatch = errors.New("content hash mismatch")
	// ErrNotCanonical is returned by Verify for files whose bytes are not
	// the canonical encoding of their records.
	ErrNotCanonical = errors.New("file is not canonical")
)

// tmpPrefix marks in-flight writes; such files are never listed.
const tmpPrefix = ".tmp-"

// File is one minute file and its decoded records.
type File struct {
	ID      FileID
	Records []chat.Record
}

// Store is the minute file store of one channel.
// Safe for concurrent use; callers serialize supersession of one minute.
type Store struct {
	channel string
	dir     string
	logger  *slog.Logger
}

// New returns the store for channel under root. Directories are created
// on first write.
func New(root, channel string, logger *slog.Logger) (*Store, error) {
	if channel == "" || channel == "." || channel == ".." || strings.ContainsAny(channel, `/\`) {
		return nil, fmt.Errorf("invalid channel name %q", channel)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		channel: channel,
		dir:     filepath.Join(root, channel),
		logger:  logger.With("channel", channel),
	}, nil
}

// Channel returns the channel this store holds.
func (s *Store) Channel() string {
	return s.channel
}

// Dir returns the channel directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id FileID) string {
	return filepath.Join(s.dir, filepath.FromSlash(id.Path()))
}

// Write durably creates the canonical file for records under minute.
// Every record's ordering key must fall in minute. Writing content that
// already exists is a no-op returning the existing id.
func (s *Store) Write(minute time.Time, records []chat.Record) (FileID, error) {
	minute = minute.UTC().Truncate(time.Minute)
	if len(records) == 0 {
		return FileID{}, ErrEmpty
	}
	for _, r := range records {
		if !r.Minute().Equal(minute) {
			return FileID{}, fmt.Errorf("write %s: %w: record at %s",
				minute.Format(minuteLayout), ErrWrongMinute, ir.FormatSeconds(r.Time))
		}
	}

	data, err := chat.MarshalFile(records)
	if err != nil {
		return FileID{}, fmt.Errorf("write %s: %w", minute.Format(minuteLayout), err)
	}
	id := fileIDFor(minute, data)
	final := s.path(id)

	if _, err := os.Stat(final); err == nil {
		return id, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return FileID{}, fmt.Errorf("write %s: %w", id, err)
	}

	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FileID{}, fmt.Errorf("write %s: %w", id, err)
	}
	if err := writeAtomic(dir, final, data); err != nil {
		return FileID{}, fmt.Errorf("write %s: %w", id, err)
	}

	s.logger.Debug("wrote minute file", "file", id.Name(), "records", len(records))
	return id, nil
}

// writeAtomic writes data to a temp file in dir, fsyncs it, renames it to
// final and fsyncs the directory.
func writeAtomic(dir, final string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), final); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Remove deletes superseded files. Files already gone are ignored.
func (s *Store) Remove(ids ...FileID) error {
	dirs := make(map[string]bool)
	for _, id := range ids {
		p := s.path(id)
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", id, err)
		}
		dirs[filepath.Dir(p)] = true
		s.logger.Debug("removed minute file", "file", id.Name())
	}
	for _, dir := range slices.Sorted(maps.Keys(dirs)) {
		if err := syncDir(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove: sync %s: %w", dir, err)
		}
	}
	return nil
}

// Replace writes records as the new file for minute and then removes the
// superseded files, never the new one. With no records, it only removes.
// The returned id is zero when nothing was written.
func (s *Store) Replace(minute time.Time, records []chat.Record, superseded []FileID) (FileID, error) {
	var id FileID
	if len(records) > 0 {
		var err error
		if id, err = s.Write(minute, records); err != nil {
			return FileID{}, err
		}
	}

	stale := make([]FileID, 0, len(superseded))
	for _, old := range superseded {
		if old.Name() != id.Name() {
			stale = append(stale, old)
		}
	}
	if err := s.Remove(stale...); err != nil {
		return id, err
	}
	return id, nil
}

// List returns the ids of every file for minute, ordered by hash.
func (s *Store) List(minute time.Time) ([]FileID, error) {
	minute = minute.UTC().Truncate(time.Minute)
	ids, err := s.listHour(filepath.Join(s.dir, chatDir, minute.Format(hourLayout)))
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(ids, func(id FileID) bool { return !id.Minute.Equal(minute) }), nil
}

// listHour lists the minute files in one hour directory. Temp files and
// foreign names are skipped.
func (s *Store) listHour(dir string) ([]FileID, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	hour := filepath.Base(dir)
	var ids []FileID
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		id, err := ParseFileName(name)
		if err != nil {
			s.logger.Debug("skipping foreign file", "file", name, "error", err)
			continue
		}
		if id.Hour() != hour {
			s.logger.Warn("skipping misplaced file", "file", name, "dir", hour)
			continue
		}
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)
	return ids, nil
}

func compareIDs(a, b FileID) int {
	if c := a.Minute.Compare(b.Minute); c != 0 {
		return c
	}
	return strings.Compare(a.Hash, b.Hash)
}

// Scan returns every file of the channel grouped by minute.
func (s *Store) Scan() (map[time.Time][]FileID, error) {
	root := filepath.Join(s.dir, chatDir)
	hours, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return map[time.Time][]FileID{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	out := make(map[time.Time][]FileID)
	for _, h := range hours {
		if !h.IsDir() {
			continue
		}
		if _, err := time.Parse(hourLayout, h.Name()); err != nil {
			continue
		}
		ids, err := s.listHour(filepath.Join(root, h.Name()))
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for _, id := range ids {
			out[id.Minute] = append(out[id.Minute], id)
		}
	}
	return out, nil
}

// Minutes returns every minute that has at least one file, ascending.
func (s *Store) Minutes() ([]time.Time, error) {
	files, err := s.Scan()
	if err != nil {
		return nil, err
	}
	return slices.SortedFunc(maps.Keys(files), time.Time.Compare), nil
}

// ReadFile loads and decodes one file.
func (s *Store) ReadFile(id FileID) (File, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", id, err)
	}
	records, err := chat.UnmarshalFile(data)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", id, err)
	}
	return File{ID: id, Records: records}, nil
}

// Read returns every file present for minute.
func (s *Store) Read(minute time.Time) ([]File, error) {
	ids, err := s.List(minute)
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(ids))
	for _, id := range ids {
		f, err := s.ReadFile(id)
		if errors.Is(err, fs.ErrNotExist) {
			// Superseded between listing and reading.
			continue
		}
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Neighbor is the file set of a minute adjacent to the one being merged.
// Err is set when the minute could not be read, and Files is then empty.
type Neighbor struct {
	Minute time.Time
	Files  []File
	Err    error
}

// Neighbors returns the files of the minutes before and after minute. A
// neighbour without files has no Files and no Err. Each side is read
// independently, so one unreadable neighbour does not hide the other.
func (s *Store) Neighbors(minute time.Time) (prev, next Neighbor) {
	minute = minute.UTC().Truncate(time.Minute)
	read := func(m time.Time) Neighbor {
		files, err := s.Read(m)
		if err != nil {
			return Neighbor{Minute: m, Err: err}
		}
		return Neighbor{Minute: m, Files: files}
	}
	return read(minute.Add(-time.Minute)), read(minute.Add(time.Minute))
}

// Verify checks that a file's content matches the hash in its name and is
// in canonical form.
func (s *Store) Verify(id FileID) error {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return fmt.Errorf("verify %s: %w", id, err)
	}
	if got := ir.ContentHash(data); got != id.Hash {
		return fmt.Errorf("verify %s: %w: content hashes to %s", id, ErrHashMismatch, got)
	}
	ok, err := chat.IsCanonical(data)
	if err != nil {
		return fmt.Errorf("verify %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("verify %s: %w", id, ErrNotCanonical)
	}
	records, err := chat.UnmarshalFile(data)
	if err != nil {
		return fmt.Errorf("verify %s: %w", id, err)
	}
	for _, r := range records {
		if !r.Minute().Equal(id.Minute) {
			return fmt.Errorf("verify %s: %w: record at %s", id, ErrWrongMinute, ir.FormatSeconds(r.Time))
		}
	}
	return nil
}

// IDs returns the ids of files.
func IDs(files []File) []FileID {
	out := make([]FileID, len(files))
	for i, f := range files {
		out[i] = f.ID
	}
	return out
}
