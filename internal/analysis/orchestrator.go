package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/metrics"
	"github.com/technosupport/ts-vigil/internal/retry"
)

type FrameSource interface {
	CurrentFrame(ctx context.Context, cameraID string) (data.Frame, error)
}

type FaceMatcher interface {
	Identify(ctx context.Context, image []byte) ([]data.FaceCandidate, error)
}

type VisionProvider interface {
	Analyze(ctx context.Context, req data.VisionRequest) (string, error)
}

type PersonDirectory interface {
	DisplayNames(ctx context.Context, personIDs []string) (map[string]string, error)
}

type FrameStore interface {
	SaveFrame(ctx context.Context, cameraID string, frame data.Frame) (string, error)
}

type Config struct {
	FrameRetryDelays []time.Duration
	FrameTimeout     time.Duration
	FaceTimeout      time.Duration
	StoreTimeout     time.Duration

	VisionTimeout       time.Duration
	VisionAttempts      int
	VisionBaseDelay     time.Duration
	VisionBackoffFactor float64

	Language             string
	NotificationMaxRunes int
}

func (c *Config) applyDefaults() {
	if c.FrameRetryDelays == nil {
		c.FrameRetryDelays = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}
	}
	if c.FrameTimeout == 0 {
		c.FrameTimeout = 10 * time.Second
	}
	if c.FaceTimeout == 0 {
		c.FaceTimeout = 10 * time.Second
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = 10 * time.Second
	}
	if c.VisionTimeout == 0 {
		c.VisionTimeout = 60 * time.Second
	}
	if c.VisionAttempts == 0 {
		c.VisionAttempts = 3
	}
	if c.VisionBaseDelay == 0 {
		c.VisionBaseDelay = time.Second
	}
	if c.VisionBackoffFactor == 0 {
		c.VisionBackoffFactor = 2
	}
	if c.NotificationMaxRunes == 0 {
		c.NotificationMaxRunes = 280
	}
}

// Collaborators groups the external services a run talks to. People and
// Store are optional.
type Collaborators struct {
	Frames FrameSource
	Faces  FaceMatcher
	Vision VisionProvider
	People PersonDirectory
	Store  FrameStore
}

type Orchestrator struct {
	config Config
	deps   Collaborators
}

func NewOrchestrator(cfg Config, deps Collaborators) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{config: cfg, deps: deps}
}

// Run performs one analysis. It always returns a well-formed result; every
// failure is encoded in the status and reason.
func (o *Orchestrator) Run(ctx context.Context, adm data.AdmittedTrigger) (res data.AnalysisResult) {
	done := metrics.StartAnalysis()
	res = data.AnalysisResult{
		ID:          uuid.New(),
		CameraID:    adm.CameraID,
		CameraName:  adm.Camera.DisplayName(),
		TriggerKind: adm.Trigger.Kind(),
		CapturedAt:  adm.AdmittedAt,
	}
	logger := log.With().
		Str("camera_id", adm.CameraID).
		Str("trigger_id", adm.ID.String()).
		Str("trigger", string(adm.Trigger.Kind())).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("analysis panicked")
			res.Status = data.AnalysisAIFailed
			res.Reason = fmt.Sprintf("AI analysis failed: internal error: %v", r)
			res.Description = ""
			res.NotificationText = ""
		}
		done(string(res.Status))
	}()

	frame, err := o.captureFrame(ctx, adm.CameraID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("camera unreachable")
		res.Status = data.AnalysisCameraUnreachable
		res.Reason = err.Error()
		return res
	}
	res.Frame = frame.Image
	if !frame.CapturedAt.IsZero() {
		res.CapturedAt = frame.CapturedAt
	}
	res.FrameRef = o.storeFrame(ctx, adm.CameraID, frame, logger)
	res.Faces = o.identify(ctx, frame.Image, logger)

	text, err := o.callVision(ctx, data.VisionRequest{
		Image:   frame.Image,
		Context: TriggerContext(adm.Trigger),
		Prompt:  BuildPrompt(adm, res.Faces, o.config.Language),
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("AI analysis failed")
		res.Status = data.AnalysisAIFailed
		res.Reason = "AI analysis failed: " + err.Error()
		return res
	}

	res.Description = CleanDescription(text)
	res.NotificationText = o.notificationText(ctx, adm.Camera, res, logger)
	res.Status = data.AnalysisOK
	logger.Info().Int("faces", len(res.Faces)).Msg("analysis complete")
	return res
}

func (o *Orchestrator) captureFrame(ctx context.Context, cameraID string, logger zerolog.Logger) (data.Frame, error) {
	var frame data.Frame
	policy := retry.Policy{
		Attempts: len(o.config.FrameRetryDelays) + 1,
		Backoff:  retry.Schedule(o.config.FrameRetryDelays...),
	}
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, o.config.FrameTimeout)
		defer cancel()
		f, err := o.deps.Frames.CurrentFrame(callCtx, cameraID)
		if err != nil {
			logger.Debug().Err(err).Int("attempt", attempt).Msg("frame capture failed")
			return err
		}
		if len(f.Image) == 0 {
			return errors.New("empty frame")
		}
		frame = f
		return nil
	})
	if err != nil {
		if !errors.Is(err, data.ErrCameraUnreachable) {
			err = fmt.Errorf("%w: %v", data.ErrCameraUnreachable, err)
		}
		return data.Frame{}, fmt.Errorf("%w (after %d attempts)", err, attempts)
	}
	return frame, nil
}

func (o *Orchestrator) storeFrame(ctx context.Context, cameraID string, frame data.Frame, logger zerolog.Logger) string {
	if o.deps.Store == nil {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, o.config.StoreTimeout)
	defer cancel()
	ref, err := o.deps.Store.SaveFrame(callCtx, cameraID, frame)
	if err != nil {
		logger.Warn().Err(err).Msg("frame upload failed")
		return ""
	}
	return ref
}

// identify is best-effort: any matcher error yields an empty list.
func (o *Orchestrator) identify(ctx context.Context, image []byte, logger zerolog.Logger) []data.KnownFaceMatch {
	if o.deps.Faces == nil {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, o.config.FaceTimeout)
	defer cancel()

	candidates, err := o.deps.Faces.Identify(callCtx, image)
	if err != nil {
		logger.Warn().Err(fmt.Errorf("%w: %v", data.ErrFaceMatchDegraded, err)).Msg("continuing without face matches")
		return nil
	}

	ids := lo.Uniq(lo.FilterMap(candidates, func(c data.FaceCandidate, _ int) (string, bool) {
		return c.PersonID, c.PersonID != ""
	}))
	names := map[string]string{}
	if len(ids) > 0 && o.deps.People != nil {
		if resolved, err := o.deps.People.DisplayNames(callCtx, ids); err != nil {
			logger.Warn().Err(err).Msg("person name lookup failed")
		} else {
			names = resolved
		}
	}

	matches := make([]data.KnownFaceMatch, 0, len(candidates))
	for _, c := range candidates {
		m := data.KnownFaceMatch{PersonID: c.PersonID, Confidence: c.Confidence, Box: c.Box}
		switch {
		case c.PersonID == "":
			m.DisplayName = "unidentified person"
		case names[c.PersonID] != "":
			m.DisplayName = names[c.PersonID]
		default:
			m.DisplayName = c.PersonID
		}
		matches = append(matches, m)
	}
	return matches
}

func (o *Orchestrator) callVision(ctx context.Context, req data.VisionRequest, logger zerolog.Logger) (string, error) {
	return CallVision(ctx, o.deps.Vision, req, o.visionPolicy(), o.config.VisionTimeout, logger)
}

func (o *Orchestrator) visionPolicy() retry.Policy {
	return retry.Policy{
		Attempts: o.config.VisionAttempts,
		Backoff:  retry.Exponential(o.config.VisionBaseDelay, o.config.VisionBackoffFactor),
	}
}

// CallVision runs one logical provider call under policy. Only one attempt is
// in flight at a time.
func CallVision(ctx context.Context, vision VisionProvider, req data.VisionRequest, policy retry.Policy, timeout time.Duration, logger zerolog.Logger) (string, error) {
	var text string
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		out, err := vision.Analyze(callCtx, req)
		if err != nil {
			outcome := "transient"
			if data.IsPermanent(err) {
				outcome = "permanent"
			}
			metrics.RecordVisionCall(outcome)
			logger.Warn().Err(err).Int("attempt", attempt).Str("outcome", outcome).Msg("vision call failed")
			return err
		}
		metrics.RecordVisionCall("ok")
		text = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%d attempt(s): %w", attempts, err)
	}
	return text, nil
}

func (o *Orchestrator) notificationText(ctx context.Context, cam data.Camera, res data.AnalysisResult, logger zerolog.Logger) string {
	if cam.NotificationPrompt != "" {
		text, err := o.callVision(ctx, data.VisionRequest{
			Context: res.Description,
			Prompt:  RenderTemplate(cam.NotificationPrompt, res),
		}, logger)
		if err == nil && text != "" {
			return Summarize(CleanDescription(text), o.config.NotificationMaxRunes)
		}
		logger.Warn().Err(err).Msg("notification text call failed, deriving locally")
	}
	return Summarize(res.Description, o.config.NotificationMaxRunes)
}
