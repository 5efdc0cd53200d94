package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MinuteStates returns the last reconciled file set hash of every minute
// of a channel.
func (l *Ledger) MinuteStates(ctx context.Context, channel string) (map[time.Time]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT minute, file_set_hash
		FROM minute_state
		WHERE channel = ?
		ORDER BY minute ASC
	`, channel)
	if err != nil {
		return nil, fmt.Errorf("minute states: %w", err)
	}
	defer rows.Close()

	states := make(map[time.Time]string)
	for rows.Next() {
		var minute int64
		var hash string
		if err := rows.Scan(&minute, &hash); err != nil {
			return nil, fmt.Errorf("minute states: %w", err)
		}
		states[fromMillis(minute)] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("minute states: %w", err)
	}
	return states, nil
}

const passColumns = `id, channel, node_id, started_at, COALESCE(finished_at, 0),
	scanned, converged, changed, errors, conflicts`

// ReadPass returns one pass by id.
func (l *Ledger) ReadPass(ctx context.Context, id string) (Pass, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE id = ?`, id)
	p, err := scanPass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Pass{}, fmt.Errorf("read pass %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Pass{}, fmt.Errorf("read pass %s: %w", id, err)
	}
	return p, nil
}

// RecentPasses returns up to limit passes, newest first. An empty channel
// matches every channel.
func (l *Ledger) RecentPasses(ctx context.Context, channel string, limit int) ([]Pass, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+passColumns+`
		FROM passes
		WHERE ? = '' OR channel = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, channel, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("recent passes: %w", err)
	}
	defer rows.Close()

	var passes []Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("recent passes: %w", err)
		}
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent passes: %w", err)
	}
	return passes, nil
}

// Outcomes returns the per-minute outcomes of a pass in minute order.
func (l *Ledger) Outcomes(ctx context.Context, passID string) ([]MinuteOutcome, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT pass_id, channel, minute, outcome, file_hash, conflicts, error
		FROM merge_outcomes
		WHERE pass_id = ?
		ORDER BY minute ASC
	`, passID)
	if err != nil {
		return nil, fmt.Errorf("outcomes: %w", err)
	}
	defer rows.Close()

	var out []MinuteOutcome
	for rows.Next() {
		var o MinuteOutcome
		var minute int64
		if err := rows.Scan(&o.PassID, &o.Channel, &minute, &o.Outcome, &o.FileHash, &o.Conflicts, &o.Error); err != nil {
			return nil, fmt.Errorf("outcomes: %w", err)
		}
		o.Minute = fromMillis(minute)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outcomes: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPass(row scanner) (Pass, error) {
	var p Pass
	var started, finished int64
	err := row.Scan(&p.ID, &p.Channel, &p.NodeID, &started, &finished,
		&p.Scanned, &p.Converged, &p.Changed, &p.Errors, &p.Conflicts)
	if err != nil {
		return Pass{}, err
	}
	p.StartedAt = fromMillis(started)
	p.FinishedAt = fromMillis(finished)
	return p, nil
}
