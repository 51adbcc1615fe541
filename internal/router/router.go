// Package router implements the routing tier between the event pipeline and
// the catalog: a small worker pool pulling messages off a shared channel
// and handing each to the catalog for per-actor invocation.
//
// Delegate workers originally looped on a shared Arc<Mutex<Receiver>>.recv();
// Go's channels let every worker simply range over one shared buffered
// channel with no explicit mutex, the idiomatic Go equivalent of that fan-out.
package router

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	nimbus "github.com/everydev1618/nimbus"
)

// Catalog is the subset of the catalog package Router dispatches into.
type Catalog interface {
	HandleInvocation(nimbus.RichMsg)
}

// Router fans incoming messages out across a fixed worker pool. There is no
// ordering guarantee across workers; per-actor ordering is restored by the
// catalog's own sequence gating against each RichMsg's Seq.
type Router struct {
	jobs    chan nimbus.RichMsg
	catalog Catalog
	wg      sync.WaitGroup

	stopOnce sync.Once
	done     chan struct{}
}

// New starts a Router with one worker per logical CPU, matching the
// original's default delegate count.
func New(catalog Catalog) *Router {
	return NewWithWorkers(catalog, runtime.NumCPU())
}

// NewWithWorkers starts a Router with an explicit worker count.
func NewWithWorkers(catalog Catalog, workers int) *Router {
	if workers < 1 {
		workers = 1
	}
	r := &Router{
		jobs:    make(chan nimbus.RichMsg, workers*4),
		catalog: catalog,
		done:    make(chan struct{}),
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.delegate(i)
	}
	return r
}

func (r *Router) delegate(id int) {
	defer r.wg.Done()
	for rm := range r.jobs {
		r.invoke(rm)
	}
	_ = id
}

func (r *Router) invoke(rm nimbus.RichMsg) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("router: delegate recovered from panic routing message", "msg_id", rm.Msg.ID, "panic", rec)
		}
	}()
	r.catalog.HandleInvocation(rm)
}

// Route enqueues msg for delegation, carrying its store-assigned sequence
// number through to the catalog's duplicate-delivery gate. It blocks if
// every worker is busy and the queue is full, applying natural
// backpressure to the subscriber that is feeding it.
func (r *Router) Route(rm nimbus.RichMsg) {
	select {
	case <-r.done:
		slog.Warn("router: dropping message enqueued after shutdown", "msg_id", rm.Msg.ID)
		return
	default:
	}
	select {
	case r.jobs <- rm:
	case <-r.done:
		slog.Warn("router: dropping message enqueued after shutdown", "msg_id", rm.Msg.ID)
	}
}

// RouteContext enqueues rm, honoring ctx cancellation instead of blocking
// forever if the router is saturated.
func (r *Router) RouteContext(ctx context.Context, rm nimbus.RichMsg) error {
	select {
	case <-r.done:
		return nimbus.ErrMessageTransport
	default:
	}
	select {
	case r.jobs <- rm:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return nimbus.ErrMessageTransport
	}
}

// Shutdown stops accepting new work and waits for in-flight deliveries to
// finish.
func (r *Router) Shutdown() {
	r.stopOnce.Do(func() {
		close(r.done)
		close(r.jobs)
	})
	r.wg.Wait()
}
