package normalize

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/roach88/chatarchive/internal/ir"
)

// logLine is one line of a raw event log; received is in seconds.
type logLine struct {
	Command  string            `json:"command"`
	Host     string            `json:"host"`
	Params   []string          `json:"params"`
	Sender   string            `json:"sender"`
	User     string            `json:"user"`
	Tags     map[string]string `json:"tags"`
	Received json.Number       `json:"received"`
}

// ReadEvents decodes a JSON-lines raw event log, calling fn for each event
// in file order. Blank lines are skipped. A line that is not valid JSON or
// lacks a receipt time stops the read; protocol-level problems are left to
// the Normalizer to count.
func ReadEvents(r io.Reader, fn func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var l logLine
		if err := dec.Decode(&l); err != nil {
			return fmt.Errorf("event log line %d: %w", lineNo, err)
		}
		if l.Received == "" {
			return fmt.Errorf("event log line %d: missing received", lineNo)
		}
		received, err := ir.ParseSeconds(l.Received.String())
		if err != nil {
			return fmt.Errorf("event log line %d: received: %w", lineNo, err)
		}

		ev := Event{
			Command:  l.Command,
			Host:     l.Host,
			Params:   l.Params,
			Sender:   l.Sender,
			User:     l.User,
			Tags:     l.Tags,
			Received: received,
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	return nil
}
