// Package dedupe tracks client idempotency keys so a retried upload is not
// stored and counted against the participant twice.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

const defaultMaxSize = 50000

// Outcome of claiming a key.
type Outcome int

const (
	// Claimed means the caller now owns the key and must Complete or Release it.
	Claimed Outcome = iota
	// InFlight means another request holds the key and has not finished.
	InFlight
	// Done means the key already produced a submission.
	Done
)

// Deduper records idempotency keys per participant.
type Deduper interface {
	// Claim atomically reserves key for userID. On Done the previously
	// stored submission id is returned.
	Claim(ctx context.Context, userID, key string) (Outcome, int64)

	// Complete marks a claimed key as having produced submissionID.
	Complete(ctx context.Context, userID, key string, submissionID int64)

	// Release forgets a claimed key so the request can be retried, used when
	// the attempt was refused or failed before anything was stored.
	Release(ctx context.Context, userID, key string)

	Size() int64
}

type entry struct {
	key          string
	done         bool
	submissionID int64
}

// inMemoryDeduper keeps keys in insertion order and evicts the oldest once
// maxSize is reached. maxSize <= 0 means unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.entries = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func scoped(userID, key string) string {
	return userID + "\x00" + key
}

func (d *inMemoryDeduper) Claim(_ context.Context, userID, key string) (Outcome, int64) {
	k := scoped(userID, key)

	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.entries[k]; ok {
		e := el.Value.(*entry)
		if e.done {
			return Done, e.submissionID
		}
		return InFlight, 0
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		d.evictOldest()
	}
	d.entries[k] = d.order.PushBack(&entry{key: k})
	return Claimed, 0
}

func (d *inMemoryDeduper) Complete(_ context.Context, userID, key string, submissionID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.entries[scoped(userID, key)]; ok {
		e := el.Value.(*entry)
		e.done = true
		e.submissionID = submissionID
	}
}

func (d *inMemoryDeduper) Release(_ context.Context, userID, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := scoped(userID, key)
	if el, ok := d.entries[k]; ok {
		d.order.Remove(el)
		delete(d.entries, k)
	}
}

// evictOldest requires mu held. In-flight keys are skipped when a completed
// one exists so a running request keeps its claim.
func (d *inMemoryDeduper) evictOldest() {
	for el := d.order.Front(); el != nil; el = el.Next() {
		if e := el.Value.(*entry); e.done {
			d.order.Remove(el)
			delete(d.entries, e.key)
			return
		}
	}
	if el := d.order.Front(); el != nil {
		d.order.Remove(el)
		delete(d.entries, el.Value.(*entry).key)
	}
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(d.order.Len())
}
