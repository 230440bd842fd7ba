package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

type EventKind string

const (
	EventAnalysis EventKind = "analysis"
	EventPatrol   EventKind = "patrol"
)

// EventRecord is one immutable timeline entry.
type EventRecord struct {
	ID               string           `json:"id" msgpack:"id"`
	Kind             EventKind        `json:"kind" msgpack:"kind"`
	CameraID         string           `json:"camera_id,omitempty" msgpack:"camera_id"`
	TriggerKind      TriggerKind      `json:"trigger_kind,omitempty" msgpack:"trigger_kind"`
	Status           AnalysisStatus   `json:"status,omitempty" msgpack:"status"`
	Reason           string           `json:"reason,omitempty" msgpack:"reason"`
	Description      string           `json:"description,omitempty" msgpack:"description"`
	NotificationText string           `json:"notification_text,omitempty" msgpack:"notification_text"`
	FrameRef         string           `json:"frame_ref,omitempty" msgpack:"frame_ref"`
	Faces            []KnownFaceMatch `json:"faces,omitempty" msgpack:"faces"`
	PatrolEntries    []AnalysisResult `json:"patrol_entries,omitempty" msgpack:"patrol_entries"`
	DeliverySummary  DeliverySummary  `json:"delivery_summary" msgpack:"delivery_summary"`
	Deliveries       DeliveryCounts   `json:"deliveries" msgpack:"deliveries"`
	OccurredAt       time.Time        `json:"occurred_at" msgpack:"occurred_at"`
	RecordedAt       time.Time        `json:"recorded_at" msgpack:"recorded_at"`
}

type EventFilter struct {
	CameraID string
	Kind     EventKind
	From     *time.Time
	To       *time.Time
	Limit    int
}

type EventModel struct {
	DB DBTX
}

// Append inserts e. Re-inserting the same ID is a no-op so spool replays
// stay idempotent.
func (m EventModel) Append(ctx context.Context, e *EventRecord) error {
	faces, err := json.Marshal(e.Faces)
	if err != nil {
		return fmt.Errorf("marshal faces: %w", err)
	}
	entries, err := json.Marshal(e.PatrolEntries)
	if err != nil {
		return fmt.Errorf("marshal patrol entries: %w", err)
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO events (id, kind, camera_id, trigger_kind, status, reason, description, notification_text,
			frame_ref, faces, patrol_entries, delivery_summary, delivered_count, failed_count, skipped_count,
			occurred_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING`

	_, err = m.DB.ExecContext(ctx, query,
		e.ID, e.Kind, nullString(e.CameraID), e.TriggerKind, e.Status, e.Reason, e.Description, e.NotificationText,
		e.FrameRef, faces, entries, e.DeliverySummary, e.Deliveries.Delivered, e.Deliveries.Failed, e.Deliveries.Skipped,
		e.OccurredAt, e.RecordedAt)
	return err
}

const eventColumns = `id, kind, camera_id, trigger_kind, status, reason, description, notification_text,
	frame_ref, faces, patrol_entries, delivery_summary, delivered_count, failed_count, skipped_count,
	occurred_at, recorded_at`

func (m EventModel) GetByID(ctx context.Context, id string) (*EventRecord, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	e, err := scanEvent(m.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return e, err
}

// List returns events newest first.
func (m EventModel) List(ctx context.Context, f EventFilter) ([]*EventRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.CameraID != "" {
		add("camera_id = $%d", f.CameraID)
	}
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if f.From != nil {
		add("occurred_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("occurred_at < $%d", *f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT $%d`, len(args))

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*EventRecord
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*EventRecord, error) {
	var (
		e        EventRecord
		cameraID sql.NullString
		faces    []byte
		entries  []byte
		recorded pq.NullTime
	)
	err := row.Scan(&e.ID, &e.Kind, &cameraID, &e.TriggerKind, &e.Status, &e.Reason, &e.Description,
		&e.NotificationText, &e.FrameRef, &faces, &entries, &e.DeliverySummary,
		&e.Deliveries.Delivered, &e.Deliveries.Failed, &e.Deliveries.Skipped, &e.OccurredAt, &recorded)
	if err != nil {
		return nil, err
	}
	e.CameraID = cameraID.String
	if recorded.Valid {
		e.RecordedAt = recorded.Time
	}
	if len(faces) > 0 {
		if err := json.Unmarshal(faces, &e.Faces); err != nil {
			return nil, fmt.Errorf("decode faces: %w", err)
		}
	}
	if len(entries) > 0 {
		if err := json.Unmarshal(entries, &e.PatrolEntries); err != nil {
			return nil, fmt.Errorf("decode patrol entries: %w", err)
		}
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
