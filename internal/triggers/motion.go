package triggers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/data"
)

type FrameSource interface {
	CurrentFrame(ctx context.Context, cameraID string) (data.Frame, error)
}

type MotionSink interface {
	SubmitMotionSignal(cameraID string, score float64) Ack
}

type MotionConfig struct {
	PollInterval time.Duration
	// Threshold is the minimum perceptual-hash distance (0..64) counted as motion.
	Threshold    int
	FrameTimeout time.Duration
}

// MotionWatcher polls cameras with motion enabled and compares consecutive
// frames by perceptual hash. A distance at or above the threshold is reported
// as a motion signal with score distance/64.
type MotionWatcher struct {
	config  MotionConfig
	frames  FrameSource
	cameras CameraLister
	sink    MotionSink

	mu       sync.Mutex
	previous map[string]*goimagehash.ImageHash
	inflight sync.Map // camera ID -> *atomic.Bool

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewMotionWatcher(cfg MotionConfig, frames FrameSource, cameras CameraLister, sink MotionSink) *MotionWatcher {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	if cfg.FrameTimeout == 0 {
		cfg.FrameTimeout = 5 * time.Second
	}
	return &MotionWatcher{
		config:   cfg,
		frames:   frames,
		cameras:  cameras,
		sink:     sink,
		previous: make(map[string]*goimagehash.ImageHash),
		quit:     make(chan struct{}),
	}
}

func (w *MotionWatcher) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *MotionWatcher) Stop() {
	close(w.quit)
	w.wg.Wait()
}

func (w *MotionWatcher) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, cam := range w.cameras.Cameras() {
				if !cam.Accepts(data.TriggerMotion) {
					continue
				}
				w.poll(cam.ID)
			}
		case <-w.quit:
			return
		}
	}
}

// poll samples one camera unless its previous sample is still running.
func (w *MotionWatcher) poll(cameraID string) {
	v, _ := w.inflight.LoadOrStore(cameraID, new(atomic.Bool))
	flag := v.(*atomic.Bool)
	if !flag.CompareAndSwap(false, true) {
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer flag.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), w.config.FrameTimeout)
		defer cancel()

		frame, err := w.frames.CurrentFrame(ctx, cameraID)
		if err != nil {
			log.Debug().Err(err).Str("camera_id", cameraID).Msg("motion sample skipped")
			return
		}
		img, _, err := image.Decode(bytes.NewReader(frame.Image))
		if err != nil {
			log.Warn().Err(err).Str("camera_id", cameraID).Msg("motion sample undecodable")
			return
		}
		score, moved, err := w.Observe(cameraID, img)
		if err != nil {
			log.Warn().Err(err).Str("camera_id", cameraID).Msg("motion hash failed")
			return
		}
		if moved {
			ack := w.sink.SubmitMotionSignal(cameraID, score)
			log.Debug().Str("camera_id", cameraID).Float64("score", score).
				Str("decision", string(ack.Decision)).Msg("motion detected")
		}
	}()
}

// Observe hashes img and compares it with the previous frame of the camera.
// The first frame only establishes the baseline.
func (w *MotionWatcher) Observe(cameraID string, img image.Image) (float64, bool, error) {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, false, fmt.Errorf("perception hash: %w", err)
	}

	w.mu.Lock()
	prev := w.previous[cameraID]
	w.previous[cameraID] = hash
	w.mu.Unlock()

	if prev == nil {
		return 0, false, nil
	}
	dist, err := prev.Distance(hash)
	if err != nil {
		return 0, false, fmt.Errorf("hash distance: %w", err)
	}
	return float64(dist) / 64, dist >= w.config.Threshold, nil
}
