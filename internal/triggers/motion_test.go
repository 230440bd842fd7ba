package triggers_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/triggers"
)

func gradient(horizontal bool) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := x
			if !horizontal {
				v = y
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v * 4)})
		}
	}
	return img
}

func TestMotionWatcher_Observe(t *testing.T) {
	w := triggers.NewMotionWatcher(triggers.MotionConfig{Threshold: 1}, nil, nil, nil)

	score, moved, err := w.Observe("porch", gradient(true))
	require.NoError(t, err)
	assert.False(t, moved, "first frame is the baseline")
	assert.Zero(t, score)

	_, moved, err = w.Observe("porch", gradient(true))
	require.NoError(t, err)
	assert.False(t, moved, "identical frames are not motion")

	score, moved, err = w.Observe("porch", gradient(false))
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestMotionWatcher_ThresholdFiltersSmallChanges(t *testing.T) {
	w := triggers.NewMotionWatcher(triggers.MotionConfig{Threshold: 65}, nil, nil, nil)

	_, _, err := w.Observe("porch", gradient(true))
	require.NoError(t, err)
	_, moved, err := w.Observe("porch", gradient(false))
	require.NoError(t, err)
	assert.False(t, moved)
}

type frameQueue struct {
	frames chan []byte
}

func (f *frameQueue) CurrentFrame(ctx context.Context, cameraID string) (data.Frame, error) {
	select {
	case img := <-f.frames:
		return data.Frame{Image: img, CapturedAt: time.Now()}, nil
	case <-ctx.Done():
		return data.Frame{}, ctx.Err()
	}
}

type motionSink struct {
	signals chan float64
}

func (m *motionSink) SubmitMotionSignal(cameraID string, score float64) triggers.Ack {
	m.signals <- score
	return triggers.Ack{Decision: triggers.Admitted}
}

type cameraList []data.Camera

func (c cameraList) Cameras() []data.Camera { return c }

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestMotionWatcher_PollsAndSignals(t *testing.T) {
	frames := &frameQueue{frames: make(chan []byte, 2)}
	frames.frames <- encodePNG(t, gradient(true))
	frames.frames <- encodePNG(t, gradient(false))
	sink := &motionSink{signals: make(chan float64, 1)}

	w := triggers.NewMotionWatcher(triggers.MotionConfig{PollInterval: 5 * time.Millisecond, Threshold: 1, FrameTimeout: 50 * time.Millisecond},
		frames, cameraList{{ID: "porch"}, {ID: "hall", Triggers: []data.TriggerKind{data.TriggerWebhook}}}, sink)
	w.Start()
	defer w.Stop()

	select {
	case score := <-sink.signals:
		assert.Greater(t, score, 0.0)
	case <-time.After(2 * time.Second):
		t.Fatal("no motion signal")
	}
}
