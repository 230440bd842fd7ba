package triggers

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/data"
)

var (
	ErrLaneBusy           = errors.New("lane busy")
	ErrCoordinatorStopped = errors.New("coordinator stopped")
)

const DefaultQueueBound = 3

// Runner executes one admitted trigger. It is called from the camera's lane
// goroutine, never concurrently for the same camera.
type Runner interface {
	Run(ctx context.Context, adm data.AdmittedTrigger)
}

type SubmitResult struct {
	Accepted bool
	Reason   error
	// Dropped is the oldest queued trigger evicted to make room.
	Dropped *data.AdmittedTrigger
}

// Coordinator owns one serial lane per camera.
//
// Motion triggers only start on an idle lane. Explicit triggers queue FIFO up
// to the bound; past it the oldest queued trigger is evicted so the latest
// request is the one that survives.
type Coordinator struct {
	runner Runner
	bound  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	lanes   map[string]*lane
	stopped bool
}

type lane struct {
	cameraID string
	wake     chan struct{}

	mu    sync.Mutex
	busy  bool
	queue []data.AdmittedTrigger
}

func NewCoordinator(runner Runner, queueBound int) *Coordinator {
	if queueBound <= 0 {
		queueBound = DefaultQueueBound
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		runner: runner,
		bound:  queueBound,
		ctx:    ctx,
		cancel: cancel,
		lanes:  make(map[string]*lane),
	}
}

// Submit hands adm to its camera's lane and returns without waiting for it
// to run.
func (c *Coordinator) Submit(adm data.AdmittedTrigger) SubmitResult {
	l, err := c.lane(adm.CameraID)
	if err != nil {
		return SubmitResult{Reason: err}
	}

	var res SubmitResult
	l.mu.Lock()
	if data.IsExplicit(adm.Trigger) {
		if len(l.queue) >= c.bound {
			dropped := l.queue[0]
			l.queue = append(l.queue[1:], adm)
			res.Dropped = &dropped
		} else {
			l.queue = append(l.queue, adm)
		}
	} else {
		if l.busy || len(l.queue) > 0 {
			l.mu.Unlock()
			return SubmitResult{Reason: ErrLaneBusy}
		}
		l.queue = append(l.queue, adm)
	}
	l.mu.Unlock()

	res.Accepted = true
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return res
}

// Busy reports whether the camera has a run in flight.
func (c *Coordinator) Busy(cameraID string) bool {
	c.mu.Lock()
	l, ok := c.lanes[cameraID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.busy
}

// Pending reports how many triggers wait behind the current run.
func (c *Coordinator) Pending(cameraID string) int {
	c.mu.Lock()
	l, ok := c.lanes[cameraID]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Stop cancels in-flight runs, discards queued triggers and waits for every
// lane goroutine to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) lane(cameraID string) (*lane, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, ErrCoordinatorStopped
	}
	l, ok := c.lanes[cameraID]
	if !ok {
		l = &lane{cameraID: cameraID, wake: make(chan struct{}, 1)}
		c.lanes[cameraID] = l
		c.wg.Add(1)
		go c.runLane(l)
	}
	return l, nil
}

func (c *Coordinator) runLane(l *lane) {
	defer c.wg.Done()
	for {
		adm, ok := l.next()
		if !ok {
			select {
			case <-l.wake:
				continue
			case <-c.ctx.Done():
				l.discard()
				return
			}
		}
		if c.ctx.Err() != nil {
			l.discard()
			return
		}
		c.run(adm)
	}
}

func (c *Coordinator) run(adm data.AdmittedTrigger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("camera_id", adm.CameraID).
				Str("trigger_id", adm.ID.String()).
				Interface("panic", r).
				Msg("lane run panicked")
		}
	}()
	c.runner.Run(c.ctx, adm)
}

// next pops the head of the queue and marks the lane busy, or marks it idle
// when the queue is empty.
func (l *lane) next() (data.AdmittedTrigger, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		l.busy = false
		return data.AdmittedTrigger{}, false
	}
	adm := l.queue[0]
	l.queue[0] = data.AdmittedTrigger{}
	l.queue = l.queue[1:]
	l.busy = true
	return adm, true
}

func (l *lane) discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, adm := range l.queue {
		log.Warn().
			Str("camera_id", l.cameraID).
			Str("trigger_id", adm.ID.String()).
			Str("kind", string(adm.Trigger.Kind())).
			Msg("discarding queued trigger on shutdown")
	}
	l.queue = nil
	l.busy = false
}
