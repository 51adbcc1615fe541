// Package catalog implements the process-wide actor registry: defining and
// restoring actors from their persisted Producer, dispatching incoming
// messages to the right live instance, and evicting actors that exceed
// their panic-tolerance budget.
package catalog

import (
	"fmt"
	"log/slog"
	"sync"

	nimbus "github.com/everydev1618/nimbus"
)

// panicTolerance is the number of recovered panics at which a single actor
// is evicted, matching the original's PANIC_TOLERANCE.
const panicTolerance = 3

// Store is the subset of the durable store the catalog depends on.
type Store interface {
	SaveProducer(addr nimbus.Address, defText string) error
	RetrieveActorDef(actorID string) (defText string, lastSeq int64, err error)
	IsActorDefined(actorID string) (bool, error)
	RemoveActorPermanent(actorID string) error
	Persist(mail nimbus.Mail) error
}

// Starter is an optional Actor capability invoked once after an actor is
// defined or restored into the cache.
type Starter interface {
	Start()
}

// Shutdowner is an optional Actor capability invoked when an existing cache
// entry is replaced by DefineActor or removed by Evict. Panic-tolerance
// eviction does not invoke it.
type Shutdowner interface {
	Shutdown()
}

// CachedActor is one live actor instance together with its sequence
// high-water mark and buffered reply outputs, mirroring catalog/actors.rs.
type CachedActor struct {
	mu       sync.Mutex
	Exe      nimbus.Actor
	Sequence int64
	Outputs  []nimbus.Mail
}

// Receive delivers mail to the cached instance, recovering from any panic
// so the delegate goroutine that called in survives. ok is false if the
// actor panicked; the caller is responsible for tallying that against the
// panic-tolerance budget. delivered is false when seq has already been
// observed (seq <= Sequence): the actor's sequence high-water mark only
// ever moves forward, so a message at or behind it is a duplicate or
// out-of-sequence delivery and is dropped without invoking the actor,
// guaranteeing no actor ever observes a given msg_seq twice.
func (c *CachedActor) Receive(mail nimbus.Mail, seq int64) (reply *nimbus.Mail, ok bool, delivered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= c.Sequence {
		return nil, true, false
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("catalog: actor panicked handling mail", "panic", rec)
			ok = false
			reply = nil
		}
	}()
	reply = c.Exe.Receive(mail)
	c.Sequence = seq
	if reply != nil {
		c.Outputs = append(c.Outputs, *reply)
	}
	return reply, true, true
}

// Catalog is the process-wide actor registry. One instance is shared by the
// router and the transport listener.
type Catalog struct {
	store Store
	dial  func(addr nimbus.Address, mail nimbus.Mail) error

	mu     sync.Mutex
	actors map[uint64]*CachedActor

	panicMu sync.Mutex
	panics  map[uint64]int
	evicted map[uint64]bool
}

// New builds a Catalog backed by st. dial is used by SendOff to deliver
// mail addressed to a non-local actor; it may be nil if this process never
// originates remote sends.
func New(st Store, dial func(addr nimbus.Address, mail nimbus.Mail) error) *Catalog {
	return &Catalog{
		store:   st,
		dial:    dial,
		actors:  make(map[uint64]*CachedActor),
		panics:  make(map[uint64]int),
		evicted: make(map[uint64]bool),
	}
}

// DefineActor persists producer as addr's definition, builds a fresh
// instance, and installs it in the cache, evicting and shutting down
// whatever was previously cached at that address. The new instance carries
// over the old one's sequence high-water mark and buffered outputs.
func (c *Catalog) DefineActor(addr nimbus.Address, producer nimbus.Producer) error {
	defText, err := nimbus.MarshalProducer(producer)
	if err != nil {
		return fmt.Errorf("nimbus/catalog: %w: marshal producer for %s: %v", nimbus.ErrRegistration, addr.IDString(), err)
	}
	if err := c.store.SaveProducer(addr, defText); err != nil {
		return fmt.Errorf("nimbus/catalog: %w: save producer for %s: %v", nimbus.ErrRegistration, addr.IDString(), err)
	}

	exe, err := producer.Build()
	if err != nil {
		return fmt.Errorf("nimbus/catalog: %w: build actor for %s: %v", nimbus.ErrRegistration, addr.IDString(), err)
	}

	c.mu.Lock()
	old := c.actors[addr.ID()]
	fresh := &CachedActor{Exe: exe}
	if old != nil {
		old.mu.Lock()
		fresh.Sequence = old.Sequence
		fresh.Outputs = old.Outputs
		old.mu.Unlock()
	}
	c.actors[addr.ID()] = fresh
	c.mu.Unlock()

	if old != nil {
		if s, ok := old.Exe.(Shutdowner); ok {
			s.Shutdown()
		}
	}
	c.clearEviction(addr.ID())

	if s, ok := exe.(Starter); ok {
		s.Start()
	}
	return nil
}

// RestoreActor reconstructs addr's actor from its persisted definition and
// installs it in the cache with its sequence resumed from the last message
// recorded for it, matching catalog/mod.rs's restore.
func (c *Catalog) RestoreActor(addr nimbus.Address) (*CachedActor, error) {
	defText, lastSeq, err := c.store.RetrieveActorDef(addr.IDString())
	if err != nil {
		return nil, err
	}
	producer, err := nimbus.UnmarshalProducer(defText)
	if err != nil {
		return nil, fmt.Errorf("nimbus/catalog: %w: unmarshal producer for %s: %v", nimbus.ErrRestoration, addr.IDString(), err)
	}
	exe, err := producer.Build()
	if err != nil {
		return nil, fmt.Errorf("nimbus/catalog: %w: build restored actor for %s: %v", nimbus.ErrRestoration, addr.IDString(), err)
	}

	cached := &CachedActor{Exe: exe, Sequence: lastSeq}
	c.mu.Lock()
	c.actors[addr.ID()] = cached
	c.mu.Unlock()
	c.clearEviction(addr.ID())

	if s, ok := exe.(Starter); ok {
		s.Start()
	}
	return cached, nil
}

// IsActorDefined reports whether addr has a persisted definition, whether
// or not it is currently cached.
func (c *Catalog) IsActorDefined(addr nimbus.Address) (bool, error) {
	return c.store.IsActorDefined(addr.IDString())
}

// lookup returns the cached actor for id, restoring it from the store if it
// is not already resident. Evicted actors are never auto-restored; the
// caller must explicitly DefineActor again.
func (c *Catalog) lookup(addr nimbus.Address) (*CachedActor, error) {
	c.panicMu.Lock()
	evicted := c.evicted[addr.ID()]
	c.panicMu.Unlock()
	if evicted {
		return nil, fmt.Errorf("nimbus/catalog: %w: %s", nimbus.ErrActorEvicted, addr.IDString())
	}

	c.mu.Lock()
	cached, ok := c.actors[addr.ID()]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	defined, err := c.store.IsActorDefined(addr.IDString())
	if err != nil {
		return nil, err
	}
	if !defined {
		return nil, fmt.Errorf("nimbus/catalog: %w: %s", nimbus.ErrActorNotDefined, addr.IDString())
	}
	return c.RestoreActor(addr)
}

// HandleInvocation is the entry point the router calls for every routed
// message: resolve (or restore) the recipient's cached actor, gate delivery
// against its sequence high-water mark, deliver the message, persist and
// hand off any reply, and tally panics against the actor's tolerance
// budget.
func (c *Catalog) HandleInvocation(rm nimbus.RichMsg) {
	msg := rm.Msg
	if msg.To == nil {
		slog.Warn("catalog: dropping message with no destination", "msg_id", msg.ID)
		return
	}
	addr := *msg.To

	cached, err := c.lookup(addr)
	if err != nil {
		slog.Warn("catalog: failed to resolve actor for invocation", "actor_id", addr.IDString(), "err", err)
		return
	}

	reply, ok, delivered := cached.Receive(nimbus.Trade(msg), rm.Seq)
	if !ok {
		c.recordPanic(addr)
		return
	}
	if !delivered {
		slog.Warn("catalog: dropped out-of-sequence delivery", "actor_id", addr.IDString(), "msg_id", msg.ID, "msg_seq", rm.Seq)
		return
	}
	if reply == nil {
		return
	}
	if err := c.SendOff(*reply); err != nil {
		slog.Warn("catalog: failed to send off reply", "actor_id", addr.IDString(), "err", err)
	}
}

// SendOff durably records mail and, when its destination is not this
// process, hands it to the dial function for network delivery. Persistence
// happens unconditionally, before the network attempt, so a transport
// failure never loses the message (see spec error-handling design).
func (c *Catalog) SendOff(mail nimbus.Mail) error {
	if err := c.store.Persist(mail); err != nil {
		return fmt.Errorf("nimbus/catalog: %w: persist outbound mail: %v", nimbus.ErrStorage, err)
	}

	for _, msg := range mail.TakeAll() {
		if msg.To == nil || msg.To.IsLocal() {
			continue
		}
		if c.dial == nil {
			continue
		}
		if err := c.dial(*msg.To, nimbus.Trade(msg)); err != nil {
			return fmt.Errorf("nimbus/catalog: %w: dial %s: %v", nimbus.ErrMessageTransport, msg.To.IDString(), err)
		}
	}
	return nil
}

// recordPanic tallies a recovered panic against addr's budget, evicting it
// once the tally reaches panicTolerance. This reimplements catalog/panics.rs's
// PanicWatch using Go's per-call recover() instead of a global panic hook —
// Go has no equivalent of Rust's process-wide panic::set_hook, so the tally
// happens at the one call site (CachedActor.Receive) that can observe the
// panic at all (see DESIGN.md).
func (c *Catalog) recordPanic(addr nimbus.Address) {
	c.panicMu.Lock()
	defer c.panicMu.Unlock()
	c.panics[addr.ID()]++
	if c.panics[addr.ID()] >= panicTolerance {
		c.evicted[addr.ID()] = true
		delete(c.panics, addr.ID())
		c.mu.Lock()
		delete(c.actors, addr.ID())
		c.mu.Unlock()
		slog.Error("catalog: actor exceeded panic tolerance and was evicted", "actor_id", addr.IDString(), "tolerance", panicTolerance)
	}
}

func (c *Catalog) clearEviction(id uint64) {
	c.panicMu.Lock()
	delete(c.evicted, id)
	delete(c.panics, id)
	c.panicMu.Unlock()
}

// Evict removes addr from the cache without consulting the panic budget,
// used by administrative shutdown paths.
func (c *Catalog) Evict(addr nimbus.Address) {
	c.mu.Lock()
	cached, ok := c.actors[addr.ID()]
	delete(c.actors, addr.ID())
	c.mu.Unlock()
	if ok {
		if s, ok := cached.Exe.(Shutdowner); ok {
			s.Shutdown()
		}
	}
}

// ListCached returns the address IDs of every actor currently resident in
// the cache, for diagnostics.
func (c *Catalog) ListCached() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.actors))
	for id := range c.actors {
		ids = append(ids, id)
	}
	return ids
}
