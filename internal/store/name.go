package store

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/roach88/chatarchive/internal/ir"
)

// ErrBadFileName is returned for names that do not follow the minute file
// naming contract.
var ErrBadFileName = errors.New("bad minute file name")

const (
	minuteLayout = "2006-01-02T15:04:05"
	hourLayout   = "2006-01-02T15"
	chatDir      = "chat"
	hashLen      = 64
)

// FileID names one minute file.
type FileID struct {
	Minute time.Time
	Hash   string
}

// Name is the file name: {minute}_{hash}.
func (id FileID) Name() string {
	return id.Minute.UTC().Format(minuteLayout) + "_" + id.Hash
}

// Hour is the directory the file lives in.
func (id FileID) Hour() string {
	return id.Minute.UTC().Format(hourLayout)
}

// Path is the file's path relative to the channel directory.
func (id FileID) Path() string {
	return path.Join(chatDir, id.Hour(), id.Name())
}

func (id FileID) String() string {
	return id.Name()
}

// ParseFileName parses a minute file name. The minute must be aligned to a
// whole minute and the hash must be lowercase hex SHA-256.
func ParseFileName(name string) (FileID, error) {
	stamp, hash, ok := strings.Cut(name, "_")
	if !ok {
		return FileID{}, fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	minute, err := time.Parse(minuteLayout, stamp)
	if err != nil {
		return FileID{}, fmt.Errorf("%w: %q: %v", ErrBadFileName, name, err)
	}
	if !minute.Equal(minute.Truncate(time.Minute)) {
		return FileID{}, fmt.Errorf("%w: %q: not a minute boundary", ErrBadFileName, name)
	}
	if !isHexHash(hash) {
		return FileID{}, fmt.Errorf("%w: %q: bad hash", ErrBadFileName, name)
	}
	return FileID{Minute: minute.UTC(), Hash: hash}, nil
}

func isHexHash(s string) bool {
	if len(s) != hashLen {
		return false
	}
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

// fileIDFor names the canonical bytes data for minute.
func fileIDFor(minute time.Time, data []byte) FileID {
	return FileID{Minute: minute.UTC(), Hash: ir.ContentHash(data)}
}
