// Package pipeline is the ingestion surface. It admits triggers through the
// gate, runs them on per-camera lanes, and carries each result through
// dispatch and recording.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/metrics"
	"github.com/technosupport/ts-vigil/internal/triggers"
)

var (
	ErrUnknownCamera = errors.New("unknown camera")
	ErrPatrolRunning = errors.New("patrol already running")
	ErrNoCameras     = errors.New("no cameras in scope")
	// ErrUnauthorizedSender rejects message replies to addresses that are not
	// configured recipients.
	ErrUnauthorizedSender = errors.New("sender is not a configured recipient")
)

type CameraRegistry interface {
	Camera(id string) (data.Camera, bool)
	Cameras() []data.Camera
}

type Analyzer interface {
	Run(ctx context.Context, adm data.AdmittedTrigger) data.AnalysisResult
}

type PatrolRunner interface {
	RunPatrol(ctx context.Context, cams []data.Camera, trigger data.Trigger) data.PatrolResult
}

type Notifier interface {
	DispatchAnalysis(ctx context.Context, res data.AnalysisResult, recipients []data.Recipient) []data.DeliveryOutcome
	DispatchPatrol(ctx context.Context, pr data.PatrolResult, recipients []data.Recipient) []data.DeliveryOutcome
}

type Recorder interface {
	RecordAnalysis(ctx context.Context, res data.AnalysisResult, outcomes []data.DeliveryOutcome) (string, error)
	RecordPatrol(ctx context.Context, pr data.PatrolResult, outcomes []data.DeliveryOutcome) (string, error)
}

type Config struct {
	QueueBound int
	// RunTimeout bounds one analysis or patrol including dispatch and recording.
	RunTimeout time.Duration

	// PatrolRecipients receive patrol summaries. Message senders are added.
	PatrolRecipients []data.Recipient
	// DefaultRecipients are used when a camera has none configured.
	DefaultRecipients []data.Recipient

	DedupTTL     time.Duration
	DedupMaxKeys int
}

type Deps struct {
	Cameras  CameraRegistry
	Analyzer Analyzer
	Patrol   PatrolRunner
	Notifier Notifier
	Recorder Recorder
}

type Engine struct {
	config Config
	deps   Deps

	gate  *triggers.Gate
	coord *triggers.Coordinator
	dedup *triggers.Dedup

	ctx        context.Context
	cancel     context.CancelFunc
	patrols    sync.WaitGroup
	patrolling atomic.Bool
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 3 * time.Minute
	}
	if cfg.DedupTTL == 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config: cfg,
		deps:   deps,
		gate:   triggers.NewGate(time.Now),
		dedup:  triggers.NewDedup(cfg.DedupMaxKeys, cfg.DedupTTL),
		ctx:    ctx,
		cancel: cancel,
	}
	e.coord = triggers.NewCoordinator(e, cfg.QueueBound)
	return e
}

// Stop discards queued triggers, cancels in-flight work and waits for lanes
// and patrols to return.
func (e *Engine) Stop() {
	e.cancel()
	e.coord.Stop()
	e.patrols.Wait()
}

// Busy reports whether a camera has an analysis in flight.
func (e *Engine) Busy(cameraID string) bool {
	return e.coord.Busy(cameraID)
}

func (e *Engine) PatrolRunning() bool {
	return e.patrolling.Load()
}

// Run executes one admitted trigger on its lane: analyze, dispatch, record.
func (e *Engine) Run(ctx context.Context, adm data.AdmittedTrigger) {
	ctx, cancel := context.WithTimeout(ctx, e.config.RunTimeout)
	defer cancel()

	logger := log.With().
		Str("trigger_id", adm.ID.String()).
		Str("camera_id", adm.CameraID).
		Str("trigger", string(adm.Trigger.Kind())).
		Logger()

	res := e.deps.Analyzer.Run(ctx, adm)

	recipients := e.analysisRecipients(adm)
	outcomes := e.deps.Notifier.DispatchAnalysis(ctx, res, recipients)

	id, err := e.deps.Recorder.RecordAnalysis(ctx, res, outcomes)
	if err != nil {
		logger.Error().Err(err).Msg("analysis not recorded")
	}

	logger.Info().
		Str("event_id", id).
		Str("status", string(res.Status)).
		Str("delivery", string(data.SummarizeDeliveries(outcomes))).
		Msg("trigger handled")
}

func (e *Engine) analysisRecipients(adm data.AdmittedTrigger) []data.Recipient {
	base := adm.Camera.Recipients
	if len(base) == 0 {
		base = e.config.DefaultRecipients
	}
	if m, ok := adm.Trigger.(data.MessageTrigger); ok {
		return mergeRecipients(base, []data.Recipient{m.Source})
	}
	return mergeRecipients(base, nil)
}

// mergeRecipients keeps the first occurrence of each channel/target pair and
// drops recipients without a target.
func mergeRecipients(base, extra []data.Recipient) []data.Recipient {
	all := append(append([]data.Recipient{}, base...), extra...)
	all = lo.Filter(all, func(r data.Recipient, _ int) bool { return r.Target != "" || isBusChannel(r.Channel) })
	return lo.UniqBy(all, func(r data.Recipient) string { return r.Key() })
}

// Bus recipients may leave the target empty and publish on the default topic.
func isBusChannel(c data.ChannelKind) bool {
	return c == data.ChannelNATS || c == data.ChannelKafka || c == data.ChannelMQTT
}

func (e *Engine) admit(cam data.Camera, t data.Trigger) triggers.Ack {
	kind := string(t.Kind())
	adm, err := e.gate.Admit(cam, t)
	if err != nil {
		metrics.RecordTrigger(kind, string(triggers.Suppressed))
		log.Debug().Str("camera_id", cam.ID).Str("trigger", kind).Err(err).Msg("trigger suppressed")
		return triggers.SuppressedAck(err)
	}

	res := e.coord.Submit(adm)
	if !res.Accepted {
		metrics.RecordTrigger(kind, string(triggers.Suppressed))
		log.Debug().Str("camera_id", cam.ID).Str("trigger", kind).Err(res.Reason).Msg("trigger dropped")
		return triggers.SuppressedAck(res.Reason)
	}

	metrics.RecordTrigger(kind, string(triggers.Admitted))
	ack := triggers.AdmittedAck(adm.ID)
	if res.Dropped != nil {
		id := res.Dropped.ID
		ack.DroppedTriggerID = &id
		log.Warn().
			Str("camera_id", cam.ID).
			Str("dropped_trigger_id", id.String()).
			Str("dropped_trigger", string(res.Dropped.Trigger.Kind())).
			Msg("lane queue full, oldest trigger dropped")
	}
	return ack
}

func (e *Engine) camera(id string) (data.Camera, bool) {
	return e.deps.Cameras.Camera(id)
}

func (e *Engine) SubmitWebhookTrigger(cameraID string, payload map[string]any, idempotencyKey string) triggers.Ack {
	cam, ok := e.camera(cameraID)
	if !ok {
		return triggers.SuppressedAck(ErrUnknownCamera)
	}
	if e.dedup.Seen(cameraID, idempotencyKey) {
		metrics.RecordTrigger(string(data.TriggerWebhook), string(triggers.Suppressed))
		return triggers.SuppressedAck(triggers.ErrDuplicateWebhook)
	}
	source, _ := payload["source"].(string)
	return e.admit(cam, data.WebhookTrigger{Payload: payload, Source: source})
}

func (e *Engine) SubmitMotionSignal(cameraID string, score float64) triggers.Ack {
	cam, ok := e.camera(cameraID)
	if !ok {
		return triggers.SuppressedAck(ErrUnknownCamera)
	}
	return e.admit(cam, data.MotionTrigger{Score: score})
}

func (e *Engine) SubmitScheduleTrigger(cameraID string, at time.Time) triggers.Ack {
	cam, ok := e.camera(cameraID)
	if !ok {
		return triggers.SuppressedAck(ErrUnknownCamera)
	}
	return e.admit(cam, data.ScheduleTrigger{ScheduledAt: at})
}

// SubmitMessageTrigger routes a chat message. Camera mentions become a lane
// trigger on that camera; everything else runs a patrol that replies to the
// sender. A sender with a target must be a configured camera, patrol or
// default recipient; a sender without one gets no reply.
func (e *Engine) SubmitMessageTrigger(text string, source data.Recipient) triggers.Ack {
	cams := e.deps.Cameras.Cameras()
	if source.Target == "" {
		source = data.Recipient{}
	} else if !e.knownRecipient(source, cams) {
		log.Warn().Str("sender", source.String()).Str("channel", string(source.Channel)).Msg("message from unauthorized sender")
		metrics.RecordTrigger(string(data.TriggerMessage), string(triggers.Suppressed))
		return triggers.SuppressedAck(ErrUnauthorizedSender)
	}
	cls := ClassifyMessage(text, cams)
	trig := data.MessageTrigger{Text: text, Source: source, Instruction: cls.Instruction}

	log.Info().
		Str("intent", string(cls.Intent)).
		Str("camera_id", cls.CameraID).
		Str("sender", source.String()).
		Msg("message received")

	switch cls.Intent {
	case IntentCamera:
		cam, ok := e.camera(cls.CameraID)
		if !ok {
			return triggers.SuppressedAck(ErrUnknownCamera)
		}
		return e.admit(cam, trig)
	case IntentFindPerson:
		return e.startPatrol(patrolScope(cams), trig, []data.Recipient{source}, cls.Person)
	default:
		return e.startPatrol(patrolScope(cams), trig, []data.Recipient{source}, "")
	}
}

func (e *Engine) knownRecipient(r data.Recipient, cams []data.Camera) bool {
	key := r.Key()
	match := func(c data.Recipient) bool { return c.Key() == key }
	if lo.ContainsBy(e.config.PatrolRecipients, match) || lo.ContainsBy(e.config.DefaultRecipients, match) {
		return true
	}
	return lo.ContainsBy(cams, func(c data.Camera) bool { return lo.ContainsBy(c.Recipients, match) })
}

// RequestPatrol patrols every camera, or only scope when it names one.
func (e *Engine) RequestPatrol(scope string) triggers.Ack {
	cams := patrolScope(e.deps.Cameras.Cameras())
	if scope != "" {
		cam, ok := e.camera(scope)
		if !ok {
			return triggers.SuppressedAck(ErrUnknownCamera)
		}
		cams = []data.Camera{cam}
	}
	return e.startPatrol(cams, data.PatrolTrigger{RequestedBy: "request"}, nil, "")
}

func (e *Engine) SchedulePatrol(at time.Time) triggers.Ack {
	return e.startPatrol(patrolScope(e.deps.Cameras.Cameras()), data.PatrolTrigger{RequestedBy: "schedule"}, nil, "")
}

func patrolScope(cams []data.Camera) []data.Camera {
	return lo.Filter(cams, func(c data.Camera, _ int) bool { return c.Accepts(data.TriggerPatrol) })
}

func (e *Engine) startPatrol(cams []data.Camera, t data.Trigger, extra []data.Recipient, findPerson string) triggers.Ack {
	kind := string(t.Kind())
	if len(cams) == 0 {
		metrics.RecordTrigger(kind, string(triggers.Suppressed))
		return triggers.SuppressedAck(ErrNoCameras)
	}
	if e.ctx.Err() != nil {
		return triggers.SuppressedAck(triggers.ErrCoordinatorStopped)
	}
	if !e.patrolling.CompareAndSwap(false, true) {
		metrics.RecordTrigger(kind, string(triggers.Suppressed))
		return triggers.SuppressedAck(ErrPatrolRunning)
	}
	metrics.RecordTrigger(kind, string(triggers.Admitted))

	requestID := uuid.New()
	logger := log.With().Str("request_id", requestID.String()).Str("trigger", kind).Logger()

	e.patrols.Add(1)
	go func() {
		defer e.patrols.Done()
		defer e.patrolling.Store(false)
		e.runPatrol(cams, t, extra, findPerson, logger)
	}()
	return triggers.AdmittedAck(requestID)
}

func (e *Engine) runPatrol(cams []data.Camera, t data.Trigger, extra []data.Recipient, findPerson string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(e.ctx, e.config.RunTimeout)
	defer cancel()

	pr := e.deps.Patrol.RunPatrol(ctx, cams, t)
	logger = logger.With().Str("patrol_id", pr.ID.String()).Logger()

	if findPerson != "" {
		reply := FindPersonReply(findPerson, pr.Entries)
		if pr.Summary != "" {
			reply += "\n\n" + pr.Summary
		}
		pr.Summary = reply
	}

	base := e.config.PatrolRecipients
	if len(base) == 0 {
		base = e.config.DefaultRecipients
	}
	recipients := mergeRecipients(base, extra)
	outcomes := e.deps.Notifier.DispatchPatrol(ctx, pr, recipients)

	id, err := e.deps.Recorder.RecordPatrol(ctx, pr, outcomes)
	if err != nil {
		logger.Error().Err(err).Msg("patrol not recorded")
	}

	logger.Info().
		Str("event_id", id).
		Int("succeeded", len(pr.Succeeded())).
		Str("delivery", string(data.SummarizeDeliveries(outcomes))).
		Msg("patrol handled")
}
