package ledger

import (
	"context"
	"fmt"
	"time"
)

// BeginPass records the start of a pass.
// Uses ON CONFLICT(id) DO NOTHING so a retried insert is harmless.
func (l *Ledger) BeginPass(ctx context.Context, p Pass) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO passes (id, channel, node_id, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, p.ID, p.Channel, p.NodeID, toMillis(p.StartedAt))
	if err != nil {
		return fmt.Errorf("begin pass: %w", err)
	}
	return nil
}

// FinishPass stores the final counts of a pass.
func (l *Ledger) FinishPass(ctx context.Context, p Pass) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE passes
		SET finished_at = ?, scanned = ?, converged = ?, changed = ?, errors = ?, conflicts = ?
		WHERE id = ?
	`, toMillis(p.FinishedAt), p.Scanned, p.Converged, p.Changed, p.Errors, p.Conflicts, p.ID)
	if err != nil {
		return fmt.Errorf("finish pass: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish pass: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish pass %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// RecordOutcome stores one minute's outcome. A second outcome for the same
// minute in the same pass is ignored.
func (l *Ledger) RecordOutcome(ctx context.Context, o MinuteOutcome) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO merge_outcomes
		(pass_id, channel, minute, outcome, file_hash, conflicts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, o.PassID, o.Channel, toMillis(o.Minute), o.Outcome, o.FileHash, o.Conflicts, o.Error)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// SaveMinuteState remembers the file set hash a minute had when pass
// passID reconciled it.
func (l *Ledger) SaveMinuteState(ctx context.Context, passID, channel string, minute time.Time, fileSetHash string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO minute_state (channel, minute, file_set_hash, pass_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel, minute) DO UPDATE
		SET file_set_hash = excluded.file_set_hash, pass_id = excluded.pass_id
	`, channel, toMillis(minute), fileSetHash, passID)
	if err != nil {
		return fmt.Errorf("save minute state: %w", err)
	}
	return nil
}

// ForgetMinute drops the stored state of a minute that no longer has files.
func (l *Ledger) ForgetMinute(ctx context.Context, channel string, minute time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM minute_state WHERE channel = ? AND minute = ?
	`, channel, toMillis(minute))
	if err != nil {
		return fmt.Errorf("forget minute: %w", err)
	}
	return nil
}
