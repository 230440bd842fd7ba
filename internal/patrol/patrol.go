// Package patrol analyzes every camera at once and folds the reports into a
// single home summary.
package patrol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/analysis"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/metrics"
	"github.com/technosupport/ts-vigil/internal/retry"
)

const DefaultPrompt = "You are reviewing a home security patrol. Using the per-camera reports below, write a short overall status of the home. Mention who was seen and anything that needs attention. Keep it under 80 words."

type Analyzer interface {
	Run(ctx context.Context, adm data.AdmittedTrigger) data.AnalysisResult
}

type Config struct {
	PerCameraTimeout time.Duration
	Slack            time.Duration
	Prompt           string

	SummaryTimeout  time.Duration
	SummaryAttempts int
	SummaryBackoff  time.Duration
}

type Patroller struct {
	config   Config
	analyzer Analyzer
	vision   analysis.VisionProvider
	now      func() time.Time
}

func NewPatroller(cfg Config, analyzer Analyzer, vision analysis.VisionProvider) *Patroller {
	if cfg.PerCameraTimeout == 0 {
		cfg.PerCameraTimeout = 20 * time.Second
	}
	if cfg.Slack == 0 {
		cfg.Slack = 5 * time.Second
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.SummaryTimeout == 0 {
		cfg.SummaryTimeout = 60 * time.Second
	}
	if cfg.SummaryAttempts == 0 {
		cfg.SummaryAttempts = 3
	}
	if cfg.SummaryBackoff == 0 {
		cfg.SummaryBackoff = time.Second
	}
	return &Patroller{config: cfg, analyzer: analyzer, vision: vision, now: time.Now}
}

type branchResult struct {
	idx int
	res data.AnalysisResult
}

// RunPatrol returns exactly one entry per camera, in the order given, within
// PerCameraTimeout+Slack of the start regardless of how branches behave.
func (p *Patroller) RunPatrol(ctx context.Context, cams []data.Camera, trigger data.Trigger) data.PatrolResult {
	start := p.now()
	pr := data.PatrolResult{
		ID:        uuid.New(),
		StartedAt: start,
		Entries:   make([]data.AnalysisResult, len(cams)),
	}
	logger := log.With().Str("patrol_id", pr.ID.String()).Int("cameras", len(cams)).Logger()
	logger.Info().Msg("patrol started")

	gatherCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	// Buffered so abandoned branches never block on send.
	results := make(chan branchResult, len(cams))
	for i, cam := range cams {
		go p.branch(gatherCtx, i, cam, trigger, start, results)
	}

	deadline := time.NewTimer(p.config.PerCameraTimeout + p.config.Slack)
	defer deadline.Stop()

	done := make([]bool, len(cams))
	remaining := len(cams)
gather:
	for remaining > 0 {
		select {
		case r := <-results:
			if !done[r.idx] {
				pr.Entries[r.idx] = r.res
				done[r.idx] = true
				remaining--
			}
		case <-deadline.C:
			break gather
		case <-ctx.Done():
			break gather
		}
	}

	for i, cam := range cams {
		if !done[i] {
			logger.Warn().Str("camera_id", cam.ID).Msg("patrol camera did not finish in time")
			pr.Entries[i] = timeoutEntry(cam, start, fmt.Errorf("%w: no result within %s", data.ErrPatrolCameraTimeout, p.config.PerCameraTimeout))
		}
		metrics.RecordPatrolCamera(string(pr.Entries[i].Status))
	}

	p.consolidate(ctx, &pr, trigger)
	pr.CompletedAt = p.now()
	metrics.RecordPatrol(pr.CompletedAt.Sub(start))
	logger.Info().Int("succeeded", len(pr.Succeeded())).Dur("took", pr.CompletedAt.Sub(start)).Msg("patrol complete")
	return pr
}

func (p *Patroller) branch(ctx context.Context, idx int, cam data.Camera, trigger data.Trigger, start time.Time, out chan<- branchResult) {
	bctx, cancel := context.WithTimeout(ctx, p.config.PerCameraTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("camera_id", cam.ID).Msg("patrol branch panicked")
			out <- branchResult{idx: idx, res: data.AnalysisResult{
				ID:          uuid.New(),
				CameraID:    cam.ID,
				CameraName:  cam.DisplayName(),
				TriggerKind: trigger.Kind(),
				CapturedAt:  start,
				Status:      data.AnalysisAIFailed,
				Reason:      fmt.Sprintf("internal error: %v", r),
			}}
		}
	}()

	res := p.analyzer.Run(bctx, data.NewAdmittedTrigger(cam, trigger, start))
	if !res.OK() && errors.Is(bctx.Err(), context.DeadlineExceeded) {
		res = timeoutEntry(cam, start, fmt.Errorf("%w: %s", data.ErrPatrolCameraTimeout, res.Reason))
	}
	out <- branchResult{idx: idx, res: res}
}

func timeoutEntry(cam data.Camera, at time.Time, reason error) data.AnalysisResult {
	return data.AnalysisResult{
		ID:          uuid.New(),
		CameraID:    cam.ID,
		CameraName:  cam.DisplayName(),
		TriggerKind: data.TriggerPatrol,
		CapturedAt:  at,
		Status:      data.AnalysisTimeout,
		Reason:      reason.Error(),
	}
}

func (p *Patroller) consolidate(ctx context.Context, pr *data.PatrolResult, trigger data.Trigger) {
	if len(pr.Succeeded()) == 0 {
		pr.SummaryNote = "no summary produced: no camera completed its analysis"
		return
	}
	if p.vision == nil {
		pr.SummaryNote = "no summary produced: no vision provider configured"
		return
	}

	prompt := p.config.Prompt
	if msg, ok := trigger.(data.MessageTrigger); ok && msg.Instruction != "" {
		prompt += "\nInstruction for delivery: " + msg.Instruction
	}
	policy := retry.Policy{
		Attempts: p.config.SummaryAttempts,
		Backoff:  retry.Exponential(p.config.SummaryBackoff, 2),
	}
	text, err := analysis.CallVision(ctx, p.vision, data.VisionRequest{Prompt: prompt, Context: Reports(pr.Entries)},
		policy, p.config.SummaryTimeout, log.With().Str("patrol_id", pr.ID.String()).Logger())
	if err != nil {
		pr.SummaryNote = "no summary produced: " + err.Error()
		return
	}
	pr.Summary = analysis.CleanDescription(text)
}

// Reports renders the per-camera context for the consolidation call.
func Reports(entries []data.AnalysisResult) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(e.CameraName)
		b.WriteString(": ")
		if !e.OK() {
			fmt.Fprintf(&b, "unavailable (%s)\n", e.Status)
			continue
		}
		b.WriteString(e.Description)
		if names := e.IdentifiedNames(); len(names) > 0 {
			b.WriteString(" [seen: ")
			b.WriteString(strings.Join(names, ", "))
			b.WriteString("]")
		}
		b.WriteString("\n")
	}
	return b.String()
}
