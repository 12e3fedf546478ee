package ingest

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	DefaultDedupWindow   = 5 * time.Minute
	DefaultDedupCapacity = 10_000
)

// Deduplicator remembers recently seen idempotency keys.
type Deduplicator interface {
	// Seen records key and reports whether it was already recorded inside the window.
	Seen(ctx context.Context, key string) (bool, error)
	// Forget removes key so that a later resubmission is accepted.
	Forget(ctx context.Context, key string) error
}

type seenKey struct {
	key       string
	expiresAt time.Time
}

// MemoryDeduplicator is a bounded in-process window. When full, the oldest
// key is evicted first.
type MemoryDeduplicator struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	order    *list.List
	keys     map[string]*list.Element
	now      func() time.Time
}

func NewMemoryDeduplicator(window time.Duration, capacity int) *MemoryDeduplicator {
	if window <= 0 {
		window = DefaultDedupWindow
	}

	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}

	return &MemoryDeduplicator{
		window:   window,
		capacity: capacity,
		order:    list.New(),
		keys:     make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (d *MemoryDeduplicator) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)

	if _, ok := d.keys[key]; ok {
		return true, nil
	}

	for d.order.Len() >= d.capacity {
		d.remove(d.order.Front())
	}

	d.keys[key] = d.order.PushBack(seenKey{key: key, expiresAt: now.Add(d.window)})

	return false, nil
}

func (d *MemoryDeduplicator) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if element, ok := d.keys[key]; ok {
		d.remove(element)
	}

	return nil
}

// Len is the number of keys currently remembered.
func (d *MemoryDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.order.Len()
}

// expire drops keys from the front of the list, which holds the oldest insertions.
func (d *MemoryDeduplicator) expire(now time.Time) {
	for element := d.order.Front(); element != nil; element = d.order.Front() {
		entry, _ := element.Value.(seenKey)
		if entry.expiresAt.After(now) {
			return
		}

		d.remove(element)
	}
}

func (d *MemoryDeduplicator) remove(element *list.Element) {
	entry, _ := d.order.Remove(element).(seenKey)
	delete(d.keys, entry.key)
}
