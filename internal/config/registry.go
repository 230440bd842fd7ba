package config

import (
	"sync"

	"github.com/technosupport/ts-vigil/internal/data"
)

// Registry is the live camera set. Readers always get copies.
type Registry struct {
	mu   sync.RWMutex
	cams []data.Camera
	byID map[string]int
}

func NewRegistry(cams []data.Camera) *Registry {
	r := &Registry{}
	r.Replace(cams)
	return r
}

func (r *Registry) Camera(id string) (data.Camera, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return data.Camera{}, false
	}
	return r.cams[i].Snapshot(), true
}

// Cameras returns snapshots in configured order.
func (r *Registry) Cameras() []data.Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]data.Camera, len(r.cams))
	for i, c := range r.cams {
		out[i] = c.Snapshot()
	}
	return out
}

func (r *Registry) Replace(cams []data.Camera) {
	byID := make(map[string]int, len(cams))
	own := make([]data.Camera, len(cams))
	for i, c := range cams {
		own[i] = c.Snapshot()
		byID[c.ID] = i
	}
	r.mu.Lock()
	r.cams, r.byID = own, byID
	r.mu.Unlock()
}
