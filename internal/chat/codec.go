package chat

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/chatarchive/internal/ir"
)

// ErrMalformed is returned for lines that do not decode to a valid record.
var ErrMalformed = errors.New("malformed record")

// object returns the full canonical object of the record, receivers included.
func (r Record) object() ir.IRObject {
	obj := r.Payload.object()
	obj["time"] = ir.IRSeconds(r.Time)
	obj["time_range"] = ir.IRSeconds(r.Range)
	obj["receivers"] = ir.SecondsMap(r.Receivers)
	return obj
}

// Validate checks the record invariants and that it has a canonical encoding.
func (r Record) Validate() error {
	if r.Command == "" {
		return fmt.Errorf("%w: empty command", ErrMalformed)
	}
	if r.Range < 0 {
		return fmt.Errorf("%w: negative time_range %d", ErrMalformed, r.Range)
	}
	if _, err := ir.MarshalCanonical(r.object()); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// MarshalLine encodes a record as one canonical line, without the newline.
func MarshalLine(r Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(r.object())
}

// wireRecord mirrors the line format for decoding. Numbers stay textual so
// no value ever passes through float64.
type wireRecord struct {
	Command   *string                `json:"command"`
	Host      string                 `json:"host"`
	Params    []string               `json:"params"`
	Receivers map[string]json.Number `json:"receivers"`
	Sender    string                 `json:"sender"`
	Tags      map[string]string      `json:"tags"`
	Time      json.Number            `json:"time"`
	TimeRange json.Number            `json:"time_range"`
	User      string                 `json:"user"`
}

// UnmarshalLine decodes one line. Unknown fields are rejected: a record
// carrying data this encoder would drop could never re-serialise to the
// same bytes.
func UnmarshalLine(line []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var w wireRecord
	if err := dec.Decode(&w); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Command == nil {
		return Record{}, fmt.Errorf("%w: missing command", ErrMalformed)
	}
	if w.Time == "" {
		return Record{}, fmt.Errorf("%w: missing time", ErrMalformed)
	}

	t, err := ir.ParseSeconds(w.Time.String())
	if err != nil {
		return Record{}, fmt.Errorf("%w: time: %v", ErrMalformed, err)
	}
	var width Millis
	if w.TimeRange != "" {
		if width, err = ir.ParseSeconds(w.TimeRange.String()); err != nil {
			return Record{}, fmt.Errorf("%w: time_range: %v", ErrMalformed, err)
		}
	}

	receivers := make(Receivers, len(w.Receivers))
	for node, n := range w.Receivers {
		ms, err := ir.ParseSeconds(n.String())
		if err != nil {
			return Record{}, fmt.Errorf("%w: receivers[%q]: %v", ErrMalformed, node, err)
		}
		receivers[node] = ms
	}

	r := Record{
		Payload: Payload{
			Command: *w.Command,
			Host:    w.Host,
			Params:  w.Params,
			Sender:  w.Sender,
			User:    w.User,
			Tags:    w.Tags,
		},
		Time:      t,
		Range:     width,
		Receivers: receivers,
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// encoded pairs a record with its canonical line for sorting.
type encoded struct {
	rec  Record
	line []byte
}

func encodeAll(records []Record) ([]encoded, error) {
	out := make([]encoded, len(records))
	for i, r := range records {
		line, err := MarshalLine(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = encoded{rec: r, line: line}
	}
	slices.SortStableFunc(out, func(a, b encoded) int {
		if c := cmp.Compare(a.rec.Time, b.rec.Time); c != 0 {
			return c
		}
		return bytes.Compare(a.line, b.line)
	})
	return out, nil
}

// Sort orders records canonically: by ordering key (Time), then by the
// canonical line bytes. Insertion order never matters.
func Sort(records []Record) ([]Record, error) {
	enc, err := encodeAll(records)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(enc))
	for i, e := range enc {
		out[i] = e.rec
	}
	return out, nil
}

// MarshalFile produces the canonical bytes of a minute file: records in
// canonical order, one line each, every line terminated by '\n'.
func MarshalFile(records []Record) ([]byte, error) {
	enc, err := encodeAll(records)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, e := range enc {
		buf.Write(e.line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// UnmarshalFile decodes every non-empty line of a minute file.
func UnmarshalFile(data []byte) ([]Record, error) {
	var records []Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		r, err := UnmarshalLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return records, nil
}

// IsCanonical reports whether data is exactly the canonical encoding of the
// records it contains.
func IsCanonical(data []byte) (bool, error) {
	records, err := UnmarshalFile(data)
	if err != nil {
		return false, err
	}
	canon, err := MarshalFile(records)
	if err != nil {
		return false, err
	}
	return bytes.Equal(canon, data), nil
}

// Hash returns the content hash of the canonical encoding of records.
func Hash(records []Record) (string, error) {
	data, err := MarshalFile(records)
	if err != nil {
		return "", err
	}
	return ir.ContentHash(data), nil
}
