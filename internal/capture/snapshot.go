// Package capture grabs still frames from cameras.
package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/technosupport/ts-vigil/internal/data"
)

type CameraResolver interface {
	Camera(id string) (data.Camera, bool)
}

const maxSnapshotBytes = 16 << 20

// SnapshotSource fetches JPEG stills from each camera's snapshot URL. Reads of
// the same camera are serialised; different cameras proceed in parallel.
type SnapshotSource struct {
	cameras CameraResolver
	client  *http.Client
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewSnapshotSource(cameras CameraResolver, timeout time.Duration) *SnapshotSource {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &SnapshotSource{
		cameras: cameras,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
		locks:   make(map[string]chan struct{}),
	}
}

func (s *SnapshotSource) lock(cameraID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[cameraID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[cameraID] = l
	}
	return l
}

func (s *SnapshotSource) CurrentFrame(ctx context.Context, cameraID string) (data.Frame, error) {
	cam, ok := s.cameras.Camera(cameraID)
	if !ok {
		return data.Frame{}, data.Permanent(fmt.Errorf("%w: unknown camera %q", data.ErrCameraUnreachable, cameraID))
	}
	if cam.SnapshotURL == "" {
		return data.Frame{}, data.Permanent(fmt.Errorf("%w: camera %q has no snapshot url", data.ErrCameraUnreachable, cameraID))
	}

	l := s.lock(cameraID)
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return data.Frame{}, fmt.Errorf("%w: %v", data.ErrCameraUnreachable, ctx.Err())
	}
	defer func() { <-l }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cam.SnapshotURL, nil)
	if err != nil {
		return data.Frame{}, data.Permanent(fmt.Errorf("%w: %v", data.ErrCameraUnreachable, err))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return data.Frame{}, fmt.Errorf("%w: %v", data.ErrCameraUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return data.Frame{}, fmt.Errorf("%w: snapshot status %d", data.ErrCameraUnreachable, resp.StatusCode)
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return data.Frame{}, fmt.Errorf("%w: %v", data.ErrCameraUnreachable, err)
	}
	if len(img) == 0 {
		return data.Frame{}, fmt.Errorf("%w: empty snapshot", data.ErrCameraUnreachable)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(img)
	}
	return data.Frame{Image: img, ContentType: ct, CapturedAt: s.now()}, nil
}
