package triggers

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/ts-vigil/internal/data"
)

var (
	ErrCooldown        = errors.New("cooldown active")
	ErrTriggerDisabled = errors.New("trigger disabled")
)

// Gate applies the per-camera motion cooldown. The last admission time per
// camera lives in an atomic so two racing motion signals resolve with one
// compare-and-set and no lock is held past the decision.
type Gate struct {
	last sync.Map // camera ID -> *atomic.Int64 (unix nanos)
	now  func() time.Time
}

func NewGate(now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{now: now}
}

// Admit returns the admitted trigger, or a non-nil error naming why the
// trigger was suppressed.
func (g *Gate) Admit(cam data.Camera, t data.Trigger) (data.AdmittedTrigger, error) {
	if !cam.Accepts(t.Kind()) {
		return data.AdmittedTrigger{}, ErrTriggerDisabled
	}

	now := g.now()
	stamp := now.UnixNano()
	slot := g.slot(cam.ID)

	switch t.(type) {
	case data.MotionTrigger:
		for {
			prev := slot.Load()
			if prev != 0 && stamp-prev < int64(cam.Cooldown) {
				return data.AdmittedTrigger{}, ErrCooldown
			}
			if slot.CompareAndSwap(prev, stamp) {
				break
			}
		}
	default:
		// Explicit triggers are never suppressed but still restart the cooldown.
		for {
			prev := slot.Load()
			if prev >= stamp || slot.CompareAndSwap(prev, stamp) {
				break
			}
		}
	}

	return data.NewAdmittedTrigger(cam, t, now), nil
}

// LastAdmission reports the last admission time for a camera.
func (g *Gate) LastAdmission(cameraID string) (time.Time, bool) {
	v, ok := g.last.Load(cameraID)
	if !ok {
		return time.Time{}, false
	}
	n := v.(*atomic.Int64).Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

func (g *Gate) slot(cameraID string) *atomic.Int64 {
	if v, ok := g.last.Load(cameraID); ok {
		return v.(*atomic.Int64)
	}
	v, _ := g.last.LoadOrStore(cameraID, new(atomic.Int64))
	return v.(*atomic.Int64)
}
