package store

import (
	"context"
	"fmt"

	"github.com/ichavezg/nayra/internal/bpmn"
	"github.com/ichavezg/nayra/internal/engine"
)

// RecordInstance inserts or updates an instance row.
func (s *Store) RecordInstance(ctx context.Context, rec engine.InstanceRecord) error {
	dataJSON, err := marshalData(rec.Data)
	if err != nil {
		return fmt.Errorf("record instance %s: %w", rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instances (id, process_id, status, error, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error  = excluded.error,
			data   = excluded.data
	`,
		rec.ID,
		rec.Process,
		string(rec.Status),
		rec.Error,
		dataJSON,
	)
	if err != nil {
		return fmt.Errorf("record instance %s: %w", rec.ID, err)
	}
	return nil
}

// AppendEvents writes a batch of events in one transaction. Events whose
// seq is already stored are skipped.
func (s *Store) AppendEvents(ctx context.Context, events []bpmn.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append events: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (seq, instance_id, type, node_id, token_id, flow_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append events: prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if ev.Seq <= 0 {
			return fmt.Errorf("append events: event %s at %s has no seq", ev.Type, ev.Node)
		}
		if _, err := stmt.ExecContext(ctx,
			ev.Seq,
			ev.Instance,
			string(ev.Type),
			ev.Node,
			ev.Token,
			ev.Flow,
		); err != nil {
			return fmt.Errorf("append events: seq %d: %w", ev.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append events: commit: %w", err)
	}
	return nil
}
