package catalog

import (
	"fmt"
	"sync"
	"testing"

	nimbus "github.com/everydev1618/nimbus"
)

type fakeStore struct {
	mu       sync.Mutex
	defs     map[string]string
	seqs     map[string]int64
	persisted []nimbus.Mail
}

func newFakeStore() *fakeStore {
	return &fakeStore{defs: map[string]string{}, seqs: map[string]int64{}}
}

func (s *fakeStore) SaveProducer(addr nimbus.Address, defText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[addr.IDString()] = defText
	return nil
}

func (s *fakeStore) RetrieveActorDef(actorID string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[actorID]
	if !ok {
		return "", 0, fmt.Errorf("nimbus/catalog: %w: %s", nimbus.ErrActorNotDefined, actorID)
	}
	return def, s.seqs[actorID], nil
}

func (s *fakeStore) IsActorDefined(actorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[actorID]
	return ok, nil
}

func (s *fakeStore) RemoveActorPermanent(actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, actorID)
	delete(s.seqs, actorID)
	return nil
}

func (s *fakeStore) Persist(mail nimbus.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = append(s.persisted, mail)
	return nil
}

type echoProducer struct{ Prefix string }

func (p *echoProducer) Tag() string { return "catalog-test.echo" }
func (p *echoProducer) Build() (nimbus.Actor, error) {
	prefix := p.Prefix
	return nimbus.ActorFunc(func(m nimbus.Mail) *nimbus.Mail {
		for _, msg := range m.TakeAll() {
			reply := msg.Reply(nimbus.TextContent(prefix + msg.Content.AsText()))
			out := nimbus.Trade(reply)
			return &out
		}
		return nil
	}), nil
}

type panicProducer struct{}

func (p *panicProducer) Tag() string { return "catalog-test.panic" }
func (p *panicProducer) Build() (nimbus.Actor, error) {
	return nimbus.ActorFunc(func(m nimbus.Mail) *nimbus.Mail {
		panic("always fails")
	}), nil
}

func init() {
	nimbus.RegisterProducer("catalog-test.echo", func() nimbus.Producer { return &echoProducer{} })
	nimbus.RegisterProducer("catalog-test.panic", func() nimbus.Producer { return &panicProducer{} })
}

func TestDefineAndHandleInvocation(t *testing.T) {
	st := newFakeStore()
	cat := New(st, nil)

	from := nimbus.NewAddress("client", "", "", "127.0.0.1", 7171)
	addr := nimbus.NewAddress("worker", "", "", "127.0.0.1", 7172)

	if err := cat.DefineActor(addr, &echoProducer{Prefix: "re: "}); err != nil {
		t.Fatalf("DefineActor: %v", err)
	}

	cat.HandleInvocation(nimbus.RichMsg{Msg: nimbus.NewTextMsg(&from, &addr, "hello"), Seq: 1})

	st.mu.Lock()
	n := len(st.persisted)
	st.mu.Unlock()
	if n != 1 {
		t.Fatalf("persisted %d mails, want 1", n)
	}
}

func TestHandleInvocationDropsOutOfSequenceDuplicate(t *testing.T) {
	st := newFakeStore()
	cat := New(st, nil)

	from := nimbus.NewAddress("client", "", "", "127.0.0.1", 7171)
	addr := nimbus.NewAddress("worker", "", "", "127.0.0.1", 7172)

	if err := cat.DefineActor(addr, &echoProducer{Prefix: "re: "}); err != nil {
		t.Fatalf("DefineActor: %v", err)
	}

	msg := nimbus.NewTextMsg(&from, &addr, "hello")
	cat.HandleInvocation(nimbus.RichMsg{Msg: msg, Seq: 3})
	cat.HandleInvocation(nimbus.RichMsg{Msg: msg, Seq: 3})
	cat.HandleInvocation(nimbus.RichMsg{Msg: msg, Seq: 2})

	st.mu.Lock()
	n := len(st.persisted)
	st.mu.Unlock()
	if n != 1 {
		t.Fatalf("persisted %d mails for duplicate/out-of-sequence deliveries, want 1", n)
	}
}

func TestRestoreActorResumesSequence(t *testing.T) {
	st := newFakeStore()
	addr := nimbus.NewAddress("worker", "", "", "127.0.0.1", 7171)

	text, err := nimbus.MarshalProducer(&echoProducer{Prefix: ""})
	if err != nil {
		t.Fatalf("MarshalProducer: %v", err)
	}
	st.defs[addr.IDString()] = text
	st.seqs[addr.IDString()] = 7

	cat := New(st, nil)
	cached, err := cat.RestoreActor(addr)
	if err != nil {
		t.Fatalf("RestoreActor: %v", err)
	}
	if cached.Sequence != 7 {
		t.Errorf("Sequence = %d, want 7", cached.Sequence)
	}
}

func TestHandleInvocationUndefinedActorIsDropped(t *testing.T) {
	st := newFakeStore()
	cat := New(st, nil)

	from := nimbus.NewAddress("client", "", "", "127.0.0.1", 7171)
	ghost := nimbus.NewAddress("ghost", "", "", "127.0.0.1", 7172)

	cat.HandleInvocation(nimbus.RichMsg{Msg: nimbus.NewTextMsg(&from, &ghost, "hello"), Seq: 1})

	st.mu.Lock()
	n := len(st.persisted)
	st.mu.Unlock()
	if n != 0 {
		t.Fatalf("persisted %d mails for an undefined actor, want 0", n)
	}
}

func TestPanicToleranceEvictsAfterThreshold(t *testing.T) {
	st := newFakeStore()
	cat := New(st, nil)

	from := nimbus.NewAddress("client", "", "", "127.0.0.1", 7171)
	addr := nimbus.NewAddress("flaky", "", "", "127.0.0.1", 7172)

	if err := cat.DefineActor(addr, &panicProducer{}); err != nil {
		t.Fatalf("DefineActor: %v", err)
	}

	for i := 0; i < panicTolerance; i++ {
		cat.HandleInvocation(nimbus.RichMsg{Msg: nimbus.NewTextMsg(&from, &addr, "x"), Seq: int64(i + 1)})
	}

	defined, err := cat.IsActorDefined(addr)
	if err != nil {
		t.Fatalf("IsActorDefined: %v", err)
	}
	if !defined {
		t.Error("actor definition should survive eviction")
	}

	if _, err := cat.lookup(addr); err == nil {
		t.Fatal("expected lookup to report the actor as evicted")
	}
}
