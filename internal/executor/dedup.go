package executor

import (
	"sync"
	"time"
)

// Dedup suppresses identical orders submitted again within a TTL. It is safe
// for concurrent use.
type Dedup struct {
	seen map[string]time.Time // order key -> last seen time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given window. A zero ttl disables it.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether key was recorded within the TTL. Expired
// entries are pruned on the way.
func (d *Dedup) IsDuplicate(key string) bool {
	if d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
	_, ok := d.seen[key]
	return ok
}

// Record marks key as placed. Only filled orders are recorded so a failed
// order can be retried straight away.
func (d *Dedup) Record(key string) {
	if d.ttl <= 0 {
		return
	}
	d.mu.Lock()
	d.seen[key] = d.now()
	d.mu.Unlock()
}
