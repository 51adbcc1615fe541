// Package events implements the publish/subscribe pipeline that turns store
// writes into routed deliveries: Publisher receives the store's explicit
// after-insert notifications, Subscriber drains them on a dedicated
// goroutine (replaying any events left pending from a prior run first), and
// EventTracker buffers row IDs until they are ready to hand off to the
// router.
//
// modernc.org/sqlite does not expose a commit/update hook through
// database/sql, so Publisher is driven by Store.SetNotify rather than a
// driver-level hook (see DESIGN.md).
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	nimbus "github.com/everydev1618/nimbus"
)

// DBEvent carries one committed message row awaiting routing.
type DBEvent struct {
	RowID int64
}

// Store is the subset of *store.Store the event pipeline depends on,
// narrowed to avoid an import cycle and to keep this package testable
// against a fake.
type Store interface {
	MessageByRowID(rowID int64) (nimbus.Msg, int64, error)
	PersistEvent(rowID int64) error
	ReadPendingEvents() ([]int64, error)
	MarkEventHandled(rowID int64) error
}

// Router is the subset of the router package EventTracker hands decoded
// messages off to.
type Router interface {
	Route(nimbus.RichMsg)
}

// Publisher is the producer side of the pipeline: Store calls Notify once
// per committed message row, and Publisher forwards it onto the single
// channel given at construction time.
type Publisher struct {
	out chan<- DBEvent
}

// NewPublisher returns a Publisher that forwards onto out.
func NewPublisher(out chan<- DBEvent) *Publisher {
	return &Publisher{out: out}
}

// Notify is installed via store.Store.SetNotify. It never blocks the
// caller's transaction commit: a full channel means the Subscriber is
// behind, and the row stays durable in the events table either way, so it
// is safe to drop the live notification and let startup recovery catch it.
func (p *Publisher) Notify(rowID int64) {
	select {
	case p.out <- DBEvent{RowID: rowID}:
	default:
		slog.Warn("events: publisher channel full, dropping live notification", "row_id", rowID)
	}
}

// Subscriber owns the dedicated goroutine draining Publisher's channel. It
// runs startup recovery (replaying any events the store still marks
// pending) before entering its steady-state loop.
type Subscriber struct {
	in      <-chan DBEvent
	tracker *EventTracker
	store   Store

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSubscriber builds a Subscriber reading from in and handing flushed
// batches to tracker.
func NewSubscriber(in <-chan DBEvent, tracker *EventTracker, st Store) *Subscriber {
	return &Subscriber{
		in:      in,
		tracker: tracker,
		store:   st,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs recovery synchronously, then launches the steady-state loop in
// its own goroutine. Recovery replays every event the store still marks
// pending before the first live notification is processed, so nothing
// committed before a restart is silently skipped (see DESIGN.md).
func (s *Subscriber) Start() error {
	if err := s.recoverPending(); err != nil {
		return err
	}
	go s.loop()
	return nil
}

func (s *Subscriber) recoverPending() error {
	pending, err := s.store.ReadPendingEvents()
	if err != nil {
		return err
	}
	for _, rowID := range pending {
		s.tracker.Track(DBEvent{RowID: rowID})
	}
	return nil
}

func (s *Subscriber) loop() {
	defer close(s.done)
	ticker := s.tracker.ageTicker()
	defer ticker.stop()

	for {
		select {
		case evt := <-s.in:
			s.tracker.Track(evt)
		case <-ticker.c:
			s.tracker.checkAge()
		case <-s.stop:
			s.tracker.drain()
			return
		}
	}
}

// Stop signals the steady-state loop to drain and exit, and waits for it.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// EventBuffer accumulates DBEvent row IDs until the batch should flush,
// mirroring the original's size-or-age EventBuffer.
type EventBuffer struct {
	mu        sync.Mutex
	events    []DBEvent
	openedAt  time.Time
	maxSize   int
	maxAge    time.Duration
}

// NewEventBuffer returns an empty buffer with the given thresholds.
func NewEventBuffer(maxSize int, maxAge time.Duration) *EventBuffer {
	return &EventBuffer{maxSize: maxSize, maxAge: maxAge}
}

// Add appends evt, recording the batch's open time on the first insert.
func (b *EventBuffer) Add(evt DBEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		b.openedAt = time.Now()
	}
	b.events = append(b.events, evt)
}

// Overflown reports whether the buffer has reached its size threshold.
func (b *EventBuffer) Overflown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events) >= b.maxSize
}

// HasMatured reports whether the oldest unflushed event has aged past the
// buffer's age threshold.
func (b *EventBuffer) HasMatured() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return false
	}
	return time.Since(b.openedAt) >= b.maxAge
}

// ShouldFlush reports Overflown() || HasMatured().
func (b *EventBuffer) ShouldFlush() bool {
	return b.Overflown() || b.HasMatured()
}

// Flush empties the buffer and returns what it held.
func (b *EventBuffer) Flush() []DBEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// EventTracker owns an EventBuffer and routes flushed batches to msgs
// decoded from the store, handing each off to Router in row order.
//
// The age check is driven by github.com/robfig/cron/v3, repurposed here as
// a one-second-tick ticker rather than a calendar scheduler (see
// DESIGN.md).
type EventTracker struct {
	buffer *EventBuffer
	store  Store
	router Router
}

// NewEventTracker builds a tracker over buffer, backed by st for message
// lookup/event-status updates and handing decoded messages to r.
func NewEventTracker(buffer *EventBuffer, st Store, r Router) *EventTracker {
	return &EventTracker{buffer: buffer, store: st, router: r}
}

// Track appends evt to the buffer and flushes if the buffer now qualifies.
func (t *EventTracker) Track(evt DBEvent) {
	t.buffer.Add(evt)
	if t.buffer.ShouldFlush() {
		t.flush()
	}
}

// checkAge flushes purely on the age threshold, called by the subscriber's
// periodic ticker so a buffer under the size threshold still doesn't stall
// indefinitely waiting for one more event.
func (t *EventTracker) checkAge() {
	if t.buffer.HasMatured() {
		t.flush()
	}
}

// drain force-flushes whatever remains, used on shutdown.
func (t *EventTracker) drain() {
	t.flush()
}

// flush persists each buffered event before routing it: persisting first is
// what gives the at-least-once guarantee, since a crash between persist and
// route still leaves the row in `events` for Subscriber.recoverPending to
// replay on the next startup. An event whose persist fails is left in the
// buffer's wake rather than routed, so it is never delivered without a
// durable record backing it.
func (t *EventTracker) flush() {
	batch := t.buffer.Flush()
	for _, evt := range batch {
		if err := t.store.PersistEvent(evt.RowID); err != nil {
			slog.Warn("events: failed to persist event, dropping from this batch", "row_id", evt.RowID, "err", err)
			continue
		}
		msg, seq, err := t.store.MessageByRowID(evt.RowID)
		if err != nil {
			slog.Warn("events: failed to resolve event row, leaving pending", "row_id", evt.RowID, "err", err)
			continue
		}
		t.router.Route(nimbus.RichMsg{Msg: msg, Seq: seq})
		if err := t.store.MarkEventHandled(evt.RowID); err != nil {
			slog.Warn("events: failed to mark event handled", "row_id", evt.RowID, "err", err)
		}
	}
}

type ageTicker struct {
	c     <-chan time.Time
	entry cron.EntryID
	cr    *cron.Cron
}

func (a *ageTicker) stop() {
	if a.cr != nil {
		a.cr.Stop()
	}
}

// ageTicker builds a one-second cron-driven tick channel used to flush
// age-matured buffers even when no new event arrives to trigger the check.
func (t *EventTracker) ageTicker() *ageTicker {
	tick := make(chan time.Time, 1)
	c := cron.New(cron.WithSeconds())
	id, err := c.AddFunc("@every 1s", func() {
		select {
		case tick <- time.Now():
		default:
		}
	})
	if err != nil {
		slog.Warn("events: failed to schedule age ticker, falling back to time.Tick", "err", err)
		return &ageTicker{c: time.Tick(time.Second)}
	}
	c.Start()
	return &ageTicker{c: tick, entry: id, cr: c}
}
