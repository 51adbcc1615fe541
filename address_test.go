package nimbus

import "testing"

func TestNewAddressAppliesDefaults(t *testing.T) {
	a := NewAddress("worker", "", "", "127.0.0.1", 7171)
	if a.Class != "default" {
		t.Errorf("Class = %q, want %q", a.Class, "default")
	}
	if a.Namespace != "system" {
		t.Errorf("Namespace = %q, want %q", a.Namespace, "system")
	}
	if a.ID() == 0 {
		t.Error("ID() = 0, want non-zero hash")
	}
}

func TestAddressIDIsDeterministic(t *testing.T) {
	a := NewAddress("worker", "default", "system", "127.0.0.1", 7171)
	b := NewAddress("worker", "default", "system", "127.0.0.1", 7171)
	if a.ID() != b.ID() {
		t.Errorf("identical addresses hashed differently: %d != %d", a.ID(), b.ID())
	}
}

func TestAddressIDChangesWithFields(t *testing.T) {
	base := NewAddress("worker", "default", "system", "127.0.0.1", 7171)
	cases := []Address{
		base.WithPort(7172),
		NewAddress("other", "default", "system", "127.0.0.1", 7171),
		NewAddress("worker", "special", "system", "127.0.0.1", 7171),
	}
	for i, c := range cases {
		if c.ID() == base.ID() {
			t.Errorf("case %d: ID unchanged after field differs", i)
		}
	}
}

func TestWithHostRejectsInvalidIP(t *testing.T) {
	a := NewAddress("worker", "default", "system", "127.0.0.1", 7171)
	b := a.WithHost("not-an-ip")
	if b.ID() != a.ID() || b.Host != a.Host {
		t.Error("WithHost should be a no-op on an unparseable host")
	}
}

func TestAddressSocketAddr(t *testing.T) {
	a := NewAddress("worker", "", "", "127.0.0.1", 7171)
	sa, ok := a.SocketAddr()
	if !ok {
		t.Fatal("SocketAddr() ok = false, want true")
	}
	if sa.Port != 7171 {
		t.Errorf("Port = %d, want 7171", sa.Port)
	}
	if !sa.IP.IsLoopback() {
		t.Error("expected loopback IP")
	}
}

func TestAddressSocketAddrEmptyHost(t *testing.T) {
	a := NewAddress("worker", "", "", "", 0)
	if _, ok := a.SocketAddr(); ok {
		t.Error("SocketAddr() ok = true for empty host, want false")
	}
}

func TestAddressIsLocalLoopback(t *testing.T) {
	a := NewAddress("worker", "", "", "127.0.0.1", 7171)
	if !a.IsLocal() {
		t.Error("IsLocal() = false for loopback address")
	}
}
