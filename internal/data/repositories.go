package data

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type EventRepository interface {
	Append(ctx context.Context, e *EventRecord) error
	GetByID(ctx context.Context, id string) (*EventRecord, error)
	List(ctx context.Context, f EventFilter) ([]*EventRecord, error)
}

type FaceRepository interface {
	DisplayNames(ctx context.Context, personIDs []string) (map[string]string, error)
	RecordSightings(ctx context.Context, personIDs []string, cameraID string, at time.Time) error
}
