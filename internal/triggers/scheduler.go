package triggers

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/data"
)

// CameraLister returns the current camera configuration.
type CameraLister interface {
	Cameras() []data.Camera
}

// ScheduleSink receives due schedule entries.
type ScheduleSink interface {
	SubmitScheduleTrigger(cameraID string, at time.Time) Ack
	SchedulePatrol(at time.Time) Ack
}

type SchedulerConfig struct {
	// Resolution is how often due entries are checked.
	Resolution     time.Duration
	PatrolInterval time.Duration
}

// Scheduler fires per-camera interval triggers and the periodic patrol. Due
// times are tracked per camera and picked up from the lister on every tick,
// so config reloads apply without a restart.
type Scheduler struct {
	config  SchedulerConfig
	cameras CameraLister
	sink    ScheduleSink

	next       map[string]time.Time
	nextPatrol time.Time

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig, cameras CameraLister, sink ScheduleSink) *Scheduler {
	if cfg.Resolution == 0 {
		cfg.Resolution = 15 * time.Second
	}
	return &Scheduler{
		config:  cfg,
		cameras: cameras,
		sink:    sink,
		next:    make(map[string]time.Time),
		quit:    make(chan struct{}),
	}
}

// Start initiates the scheduling loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Resolution)
	defer ticker.Stop()

	s.tick(time.Now())
	for {
		select {
		case now := <-ticker.C:
			s.tick(now)
		case <-s.quit:
			return
		}
	}
}

// tick submits everything due at now. The first sighting of an entry only
// arms it; nothing fires at startup.
func (s *Scheduler) tick(now time.Time) {
	seen := make(map[string]struct{})
	for _, cam := range s.cameras.Cameras() {
		if cam.ScheduleInterval <= 0 || !cam.Accepts(data.TriggerSchedule) {
			continue
		}
		seen[cam.ID] = struct{}{}

		due, ok := s.next[cam.ID]
		if !ok {
			s.next[cam.ID] = now.Add(cam.ScheduleInterval)
			continue
		}
		if now.Before(due) {
			continue
		}
		s.next[cam.ID] = now.Add(cam.ScheduleInterval)
		ack := s.sink.SubmitScheduleTrigger(cam.ID, now)
		log.Debug().Str("camera_id", cam.ID).Str("decision", string(ack.Decision)).Msg("scheduled trigger fired")
	}
	for id := range s.next {
		if _, ok := seen[id]; !ok {
			delete(s.next, id)
		}
	}

	if s.config.PatrolInterval <= 0 {
		return
	}
	if s.nextPatrol.IsZero() {
		s.nextPatrol = now.Add(s.config.PatrolInterval)
		return
	}
	if !now.Before(s.nextPatrol) {
		s.nextPatrol = now.Add(s.config.PatrolInterval)
		ack := s.sink.SchedulePatrol(now)
		log.Info().Str("decision", string(ack.Decision)).Str("reason", ack.Reason).Msg("scheduled patrol fired")
	}
}
