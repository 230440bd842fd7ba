// Package timeline persists analysis and patrol outcomes as immutable events.
package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/metrics"
)

type Recorder struct {
	events data.EventRepository
	faces  data.FaceRepository
	spool  *Spool
	now    func() time.Time
}

// NewRecorder builds a recorder. faces and spool may be nil.
func NewRecorder(events data.EventRepository, faces data.FaceRepository, spool *Spool) *Recorder {
	return &Recorder{events: events, faces: faces, spool: spool, now: time.Now}
}

func (r *Recorder) RecordAnalysis(ctx context.Context, res data.AnalysisResult, outcomes []data.DeliveryOutcome) (string, error) {
	rec := AnalysisRecord(res, outcomes)
	id, err := r.append(ctx, rec)
	if res.OK() {
		r.recordSightings(ctx, res)
	}
	return id, err
}

func (r *Recorder) RecordPatrol(ctx context.Context, pr data.PatrolResult, outcomes []data.DeliveryOutcome) (string, error) {
	rec := PatrolRecord(pr, outcomes)
	id, err := r.append(ctx, rec)
	for _, e := range pr.Entries {
		if e.OK() {
			r.recordSightings(ctx, e)
		}
	}
	return id, err
}

func AnalysisRecord(res data.AnalysisResult, outcomes []data.DeliveryOutcome) data.EventRecord {
	return data.EventRecord{
		ID:               uuid.NewString(),
		Kind:             data.EventAnalysis,
		CameraID:         res.CameraID,
		TriggerKind:      res.TriggerKind,
		Status:           res.Status,
		Reason:           res.Reason,
		Description:      res.Description,
		NotificationText: res.NotificationText,
		FrameRef:         res.FrameRef,
		Faces:            res.Faces,
		DeliverySummary:  data.SummarizeDeliveries(outcomes),
		Deliveries:       data.CountDeliveries(outcomes),
		OccurredAt:       res.CapturedAt,
	}
}

// PatrolRecord keeps per-camera entries without their frame bytes.
func PatrolRecord(pr data.PatrolResult, outcomes []data.DeliveryOutcome) data.EventRecord {
	entries := lo.Map(pr.Entries, func(e data.AnalysisResult, _ int) data.AnalysisResult {
		e.Frame = nil
		return e
	})
	status := data.AnalysisOK
	if len(pr.Succeeded()) == 0 {
		status = data.AnalysisAIFailed
	}
	rec := data.EventRecord{
		ID:              uuid.NewString(),
		Kind:            data.EventPatrol,
		TriggerKind:     data.TriggerPatrol,
		Status:          status,
		Reason:          pr.SummaryNote,
		Description:     pr.Summary,
		PatrolEntries:   entries,
		DeliverySummary: data.SummarizeDeliveries(outcomes),
		Deliveries:      data.CountDeliveries(outcomes),
		OccurredAt:      pr.StartedAt,
	}
	if ok := pr.Succeeded(); len(ok) > 0 {
		rec.FrameRef = ok[0].FrameRef
	}
	return rec
}

func (r *Recorder) append(ctx context.Context, rec data.EventRecord) (string, error) {
	rec.RecordedAt = r.now().UTC()
	err := r.events.Append(ctx, &rec)
	if err == nil {
		return rec.ID, nil
	}

	metrics.RecordPersistenceFailure("db")
	logger := log.With().Str("event_id", rec.ID).Str("kind", string(rec.Kind)).Logger()
	logger.Warn().Err(err).Msg("timeline insert failed, spooling")

	if r.spool == nil {
		return rec.ID, fmt.Errorf("%w: %v", data.ErrPersistenceFailed, err)
	}
	if serr := r.spool.Append(rec); serr != nil {
		metrics.RecordPersistenceFailure("spool")
		logger.Error().Err(serr).Msg("timeline spool failed, event lost")
		return rec.ID, fmt.Errorf("%w: insert: %v; spool: %v", data.ErrPersistenceFailed, err, serr)
	}
	return rec.ID, nil
}

func (r *Recorder) recordSightings(ctx context.Context, res data.AnalysisResult) {
	if r.faces == nil {
		return
	}
	ids := lo.Uniq(lo.FilterMap(res.Faces, func(f data.KnownFaceMatch, _ int) (string, bool) {
		return f.PersonID, f.Identified()
	}))
	if len(ids) == 0 {
		return
	}
	if err := r.faces.RecordSightings(ctx, ids, res.CameraID, res.CapturedAt); err != nil {
		log.Warn().Err(err).Str("camera_id", res.CameraID).Msg("face sighting update failed")
	}
}

// ReplaySpool pushes spooled records back into the database.
func (r *Recorder) ReplaySpool(ctx context.Context) {
	if r.spool == nil {
		return
	}
	flushed, requeued, err := r.spool.Drain(func(rec data.EventRecord) error {
		return r.events.Append(ctx, &rec)
	})
	if err != nil {
		log.Error().Err(err).Msg("timeline spool replay failed")
	}
	if flushed > 0 || requeued > 0 {
		log.Info().Int("flushed", flushed).Int("requeued", requeued).Msg("timeline spool replayed")
	}
}

// StartReplayer replays the spool every interval until ctx ends.
func (r *Recorder) StartReplayer(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.ReplaySpool(ctx)
			}
		}
	}()
}
