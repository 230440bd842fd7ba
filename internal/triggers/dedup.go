package triggers

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrDuplicateWebhook = errors.New("duplicate webhook")

// Dedup remembers recently seen webhook idempotency keys.
type Dedup struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
	now   func() time.Time
}

func NewDedup(maxKeys int, ttl time.Duration) *Dedup {
	if maxKeys <= 0 {
		maxKeys = 4096
	}
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{cache: c, ttl: ttl, now: time.Now}
}

// Seen records the key and reports whether it was already seen within the
// TTL. An empty key is never a duplicate.
func (d *Dedup) Seen(cameraID, key string) bool {
	if key == "" {
		return false
	}
	k := cameraID + "|" + key
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if addedAt, ok := d.cache.Get(k); ok && now.Sub(addedAt) < d.ttl {
		return true
	}
	d.cache.Add(k, now)
	return false
}
