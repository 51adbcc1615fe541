package router

import (
	"sync"
	"testing"
	"time"

	nimbus "github.com/everydev1618/nimbus"
)

type fakeCatalog struct {
	mu       sync.Mutex
	received []nimbus.RichMsg
	panicOn  uint64
}

func (f *fakeCatalog) HandleInvocation(rm nimbus.RichMsg) {
	if f.panicOn != 0 && rm.Msg.To != nil && rm.Msg.To.ID() == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	f.received = append(f.received, rm)
	f.mu.Unlock()
}

func (f *fakeCatalog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestRouterDeliversAllMessages(t *testing.T) {
	cat := &fakeCatalog{}
	r := NewWithWorkers(cat, 4)
	defer r.Shutdown()

	from := nimbus.NewAddress("a", "", "", "127.0.0.1", 7171)
	to := nimbus.NewAddress("b", "", "", "127.0.0.1", 7172)

	const n = 50
	for i := 0; i < n; i++ {
		r.Route(nimbus.RichMsg{Msg: nimbus.NewTextMsg(&from, &to, "hi"), Seq: int64(i + 1)})
	}

	deadline := time.Now().Add(2 * time.Second)
	for cat.count() < n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := cat.count(); got != n {
		t.Fatalf("delivered %d messages, want %d", got, n)
	}
}

func TestRouterSurvivesDelegatePanic(t *testing.T) {
	from := nimbus.NewAddress("a", "", "", "127.0.0.1", 7171)
	bad := nimbus.NewAddress("bad", "", "", "127.0.0.1", 7172)
	good := nimbus.NewAddress("good", "", "", "127.0.0.1", 7173)

	cat := &fakeCatalog{panicOn: bad.ID()}
	r := NewWithWorkers(cat, 2)
	defer r.Shutdown()

	r.Route(nimbus.RichMsg{Msg: nimbus.NewTextMsg(&from, &bad, "boom"), Seq: 1})
	r.Route(nimbus.RichMsg{Msg: nimbus.NewTextMsg(&from, &good, "fine"), Seq: 1})

	deadline := time.Now().Add(2 * time.Second)
	for cat.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := cat.count(); got != 1 {
		t.Fatalf("delivered %d non-panicking messages, want 1", got)
	}
}
