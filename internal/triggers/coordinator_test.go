package triggers_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/triggers"
)

// recordingRunner tracks concurrency per camera and the order runs happen in.
// Cameras listed in hold block until released.
type recordingRunner struct {
	mu      sync.Mutex
	active  map[string]int
	maxSeen map[string]int
	order   map[string][]string
	total   int
	delay   time.Duration

	hold    map[string]chan struct{}
	started chan data.AdmittedTrigger
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{
		active:  make(map[string]int),
		maxSeen: make(map[string]int),
		order:   make(map[string][]string),
		hold:    make(map[string]chan struct{}),
		started: make(chan data.AdmittedTrigger, 64),
	}
}

func (r *recordingRunner) Run(ctx context.Context, adm data.AdmittedTrigger) {
	r.mu.Lock()
	r.active[adm.CameraID]++
	if r.active[adm.CameraID] > r.maxSeen[adm.CameraID] {
		r.maxSeen[adm.CameraID] = r.active[adm.CameraID]
	}
	r.order[adm.CameraID] = append(r.order[adm.CameraID], label(adm))
	gate := r.hold[adm.CameraID]
	r.mu.Unlock()

	r.started <- adm
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.active[adm.CameraID]--
	r.total++
	r.mu.Unlock()
}

func (r *recordingRunner) Order(cameraID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order[cameraID]...)
}

func (r *recordingRunner) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func label(adm data.AdmittedTrigger) string {
	if w, ok := adm.Trigger.(data.WebhookTrigger); ok && w.Source != "" {
		return w.Source
	}
	return string(adm.Trigger.Kind())
}

func admit(cameraID string, t data.Trigger) data.AdmittedTrigger {
	return data.NewAdmittedTrigger(data.Camera{ID: cameraID}, t, time.Now())
}

func webhook(source string) data.Trigger {
	return data.WebhookTrigger{Source: source}
}

func TestCoordinator_AtMostOneRunPerCamera(t *testing.T) {
	runner := newRecordingRunner()
	runner.started = make(chan data.AdmittedTrigger, 1024)
	runner.delay = 2 * time.Millisecond
	coord := triggers.NewCoordinator(runner, 1000)
	defer coord.Stop()

	cameras := []string{"a", "b", "c"}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		for _, cam := range cameras {
			wg.Add(1)
			go func(cam string, i int) {
				defer wg.Done()
				res := coord.Submit(admit(cam, webhook(fmt.Sprintf("w%d", i))))
				assert.True(t, res.Accepted)
			}(cam, i)
		}
	}
	wg.Wait()

	require.Eventually(t, func() bool { return runner.Total() == 90 }, 5*time.Second, 5*time.Millisecond)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, cam := range cameras {
		assert.Equal(t, 1, runner.maxSeen[cam], cam)
	}
}

func TestCoordinator_WebhookQueuedBehindMotion(t *testing.T) {
	runner := newRecordingRunner()
	release := make(chan struct{})
	runner.hold["porch"] = release
	coord := triggers.NewCoordinator(runner, 3)
	defer coord.Stop()

	res := coord.Submit(admit("porch", data.MotionTrigger{Score: 0.7}))
	require.True(t, res.Accepted)
	<-runner.started
	assert.True(t, coord.Busy("porch"))

	res = coord.Submit(admit("porch", webhook("doorbell")))
	assert.True(t, res.Accepted)
	assert.Nil(t, res.Dropped)
	assert.Equal(t, 1, coord.Pending("porch"))

	close(release)
	require.Eventually(t, func() bool { return runner.Total() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"motion", "doorbell"}, runner.Order("porch"))
}

func TestCoordinator_MotionDroppedWhileBusy(t *testing.T) {
	runner := newRecordingRunner()
	release := make(chan struct{})
	runner.hold["porch"] = release
	coord := triggers.NewCoordinator(runner, 3)
	defer coord.Stop()

	require.True(t, coord.Submit(admit("porch", webhook("first"))).Accepted)
	<-runner.started

	res := coord.Submit(admit("porch", data.MotionTrigger{}))
	assert.False(t, res.Accepted)
	assert.ErrorIs(t, res.Reason, triggers.ErrLaneBusy)

	close(release)
	require.Eventually(t, func() bool { return runner.Total() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first"}, runner.Order("porch"))
}

func TestCoordinator_OverflowDropsOldestQueued(t *testing.T) {
	runner := newRecordingRunner()
	release := make(chan struct{})
	runner.hold["gate"] = release
	coord := triggers.NewCoordinator(runner, 3)
	defer coord.Stop()

	require.True(t, coord.Submit(admit("gate", webhook("running"))).Accepted)
	<-runner.started

	e1 := admit("gate", webhook("e1"))
	for _, adm := range []data.AdmittedTrigger{e1, admit("gate", webhook("e2")), admit("gate", webhook("e3"))} {
		res := coord.Submit(adm)
		require.True(t, res.Accepted)
		require.Nil(t, res.Dropped)
	}

	res := coord.Submit(admit("gate", webhook("e4")))
	assert.True(t, res.Accepted)
	require.NotNil(t, res.Dropped)
	assert.Equal(t, e1.ID, res.Dropped.ID)
	assert.Equal(t, 3, coord.Pending("gate"))

	close(release)
	require.Eventually(t, func() bool { return runner.Total() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"running", "e2", "e3", "e4"}, runner.Order("gate"))
}

func TestCoordinator_StuckCameraDoesNotBlockOthers(t *testing.T) {
	runner := newRecordingRunner()
	runner.hold["stuck"] = make(chan struct{})
	coord := triggers.NewCoordinator(runner, 3)
	defer coord.Stop()

	require.True(t, coord.Submit(admit("stuck", webhook("forever"))).Accepted)
	<-runner.started

	require.True(t, coord.Submit(admit("healthy", webhook("quick"))).Accepted)
	require.Eventually(t, func() bool { return runner.Total() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"quick"}, runner.Order("healthy"))
}

type panickyRunner struct {
	calls chan string
}

func (p *panickyRunner) Run(ctx context.Context, adm data.AdmittedTrigger) {
	p.calls <- label(adm)
	if label(adm) == "boom" {
		panic("runner exploded")
	}
}

func TestCoordinator_LaneSurvivesPanic(t *testing.T) {
	runner := &panickyRunner{calls: make(chan string, 4)}
	coord := triggers.NewCoordinator(runner, 3)
	defer coord.Stop()

	coord.Submit(admit("x", webhook("boom")))
	assert.Equal(t, "boom", <-runner.calls)

	coord.Submit(admit("x", webhook("after")))
	select {
	case got := <-runner.calls:
		assert.Equal(t, "after", got)
	case <-time.After(time.Second):
		t.Fatal("lane stopped after panic")
	}
}

func TestCoordinator_SubmitAfterStop(t *testing.T) {
	coord := triggers.NewCoordinator(newRecordingRunner(), 3)
	coord.Stop()

	res := coord.Submit(admit("x", webhook("late")))
	assert.False(t, res.Accepted)
	assert.ErrorIs(t, res.Reason, triggers.ErrCoordinatorStopped)
}
