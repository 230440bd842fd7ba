package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// KnownPerson is an enrolled face identity with its sighting statistics.
type KnownPerson struct {
	ID            string
	DisplayName   string
	LastSeenAt    *time.Time
	LastCameraID  string
	SightingCount int
}

type FaceModel struct {
	DB DBTX
}

// DisplayNames resolves person IDs to names. Unknown IDs are absent from the map.
func (m FaceModel) DisplayNames(ctx context.Context, personIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(personIDs))
	if len(personIDs) == 0 {
		return names, nil
	}

	query := `SELECT id, display_name FROM known_persons WHERE id = ANY($1)`
	rows, err := m.DB.QueryContext(ctx, query, pq.Array(personIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

func (m FaceModel) RecordSightings(ctx context.Context, personIDs []string, cameraID string, at time.Time) error {
	if len(personIDs) == 0 {
		return nil
	}
	query := `
		UPDATE known_persons
		SET last_seen_at = $2, last_camera_id = $3, sighting_count = sighting_count + 1
		WHERE id = ANY($1)`
	_, err := m.DB.ExecContext(ctx, query, pq.Array(personIDs), at, cameraID)
	return err
}

func (m FaceModel) Get(ctx context.Context, id string) (*KnownPerson, error) {
	query := `
		SELECT id, display_name, last_seen_at, COALESCE(last_camera_id, ''), sighting_count
		FROM known_persons WHERE id = $1`
	var (
		p        KnownPerson
		lastSeen pq.NullTime
	)
	err := m.DB.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.DisplayName, &lastSeen, &p.LastCameraID, &p.SightingCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if lastSeen.Valid {
		p.LastSeenAt = &lastSeen.Time
	}
	return &p, nil
}
