package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ichavezg/nayra/internal/bpmn"
	"github.com/ichavezg/nayra/internal/engine"
)

// ReadInstanceEvents returns the events of one instance in seq order.
// It returns an empty slice, not nil, when there are none.
func (s *Store) ReadInstanceEvents(ctx context.Context, instanceID string) ([]bpmn.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, instance_id, type, node_id, token_id, flow_id
		FROM events
		WHERE instance_id = ?
		ORDER BY seq ASC
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query events of %s: %w", instanceID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadEvents returns the whole log in seq order.
func (s *Store) ReadEvents(ctx context.Context) ([]bpmn.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, instance_id, type, node_id, token_id, flow_id
		FROM events
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadInstance returns one instance record. It returns an error wrapping
// sql.ErrNoRows if the instance is unknown.
func (s *Store) ReadInstance(ctx context.Context, id string) (engine.InstanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, process_id, status, error, data
		FROM instances
		WHERE id = ?
	`, id)
	rec, err := scanInstance(row)
	if err != nil {
		return engine.InstanceRecord{}, fmt.Errorf("read instance %s: %w", id, err)
	}
	return rec, nil
}

// ListInstances returns every instance ordered by ID. UUIDv7 IDs sort by
// creation time.
func (s *Store) ListInstances(ctx context.Context) ([]engine.InstanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, process_id, status, error, data
		FROM instances
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	out := []engine.InstanceRecord{}
	for rows.Next() {
		rec, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return out, nil
}

// MaxSeq returns the highest stored seq, or 0 for an empty log. Pass it to
// engine.NewClockAt to continue the log.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM events").Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (engine.InstanceRecord, error) {
	var (
		rec      engine.InstanceRecord
		status   string
		dataJSON string
	)
	if err := row.Scan(&rec.ID, &rec.Process, &status, &rec.Error, &dataJSON); err != nil {
		return engine.InstanceRecord{}, err
	}
	rec.Status = bpmn.InstanceStatus(status)
	data, err := unmarshalData(dataJSON)
	if err != nil {
		return engine.InstanceRecord{}, err
	}
	rec.Data = data
	return rec, nil
}

func scanEvents(rows *sql.Rows) ([]bpmn.Event, error) {
	events := []bpmn.Event{}
	for rows.Next() {
		var (
			ev  bpmn.Event
			typ string
		)
		if err := rows.Scan(&ev.Seq, &ev.Instance, &typ, &ev.Node, &ev.Token, &ev.Flow); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = bpmn.EventType(typ)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
