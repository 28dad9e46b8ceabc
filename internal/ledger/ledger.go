// Package ledger implements the per-principal security event trail: an
// append-only, size-bounded FIFO ring. Events are immutable once appended and
// the oldest entry is overwritten in place when the cap is exceeded, so a
// principal's history never grows past the cap and never triggers a
// resize-and-copy.
package ledger

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/vigil/internal/models"
	"github.com/google/uuid"
)

const DefaultCap = 50

type Ledger struct {
	mu     sync.RWMutex
	cap    int
	rings  map[string]*ring
	logger *slog.Logger
	clock  func() time.Time
}

// ring is a fixed-capacity circular buffer. head indexes the oldest entry.
type ring struct {
	buf  []models.SecurityEvent
	head int
	size int
}

func New(capacity int, logger *slog.Logger) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Ledger{
		cap:    capacity,
		rings:  make(map[string]*ring),
		logger: logger,
		clock:  time.Now,
	}
}

// SetClock substitutes the time source. Test use only.
func (l *Ledger) SetClock(clock func() time.Time) {
	l.clock = clock
}

// Append records an event for a principal, evicting the oldest entry first
// when the ring is full. Missing ID, timestamp, or correlation id are filled
// in. The stored event is never mutated afterwards.
func (l *Ledger) Append(principalID string, event models.SecurityEvent) models.SecurityEvent {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = uuid.New().String()
	}
	event.PrincipalID = principalID

	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.rings[principalID]
	if !ok {
		r = &ring{buf: make([]models.SecurityEvent, l.cap)}
		l.rings[principalID] = r
	}

	if r.size == l.cap {
		// overwrite the oldest slot and advance head
		r.buf[r.head] = event
		r.head = (r.head + 1) % l.cap
	} else {
		r.buf[(r.head+r.size)%l.cap] = event
		r.size++
	}

	l.logger.Debug("security event appended",
		slog.String("principal_id", principalID),
		slog.String("event_type", string(event.Type)),
		slog.String("correlation_id", event.CorrelationID),
	)

	return event
}

// Count returns the number of retained events for a principal.
func (l *Ledger) Count(principalID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if r, ok := l.rings[principalID]; ok {
		return r.size
	}
	return 0
}

// Query returns a lazy sequence of a principal's events at or after since,
// optionally filtered by type, ordered by timestamp ascending. The snapshot
// is taken under the read lock; iteration happens outside it. Iteration
// stops early when ctx is done. The sequence is single-use: ranging over it
// a second time yields nothing.
func (l *Ledger) Query(ctx context.Context, principalID string, since time.Time, types ...models.EventType) iter.Seq[models.SecurityEvent] {
	l.mu.RLock()
	r, ok := l.rings[principalID]
	var snapshot []models.SecurityEvent
	if ok {
		snapshot = make([]models.SecurityEvent, 0, r.size)
		for i := 0; i < r.size; i++ {
			snapshot = append(snapshot, r.buf[(r.head+i)%l.cap])
		}
	}
	l.mu.RUnlock()

	var typeSet map[models.EventType]bool
	if len(types) > 0 {
		typeSet = make(map[models.EventType]bool, len(types))
		for _, t := range types {
			typeSet[t] = true
		}
	}

	var consumed atomic.Bool
	return func(yield func(models.SecurityEvent) bool) {
		if !consumed.CompareAndSwap(false, true) {
			return
		}
		for _, ev := range snapshot {
			if ctx.Err() != nil {
				return
			}
			if ev.Timestamp.Before(since) {
				continue
			}
			if typeSet != nil && !typeSet[ev.Type] {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}
