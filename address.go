package nimbus

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net"
)

// Address identifies a named actor endpoint. Two addresses with equal
// non-ID fields always compute the same ID, so the ID is safe to use as a
// routing key across processes without ever being persisted as the
// authoritative identity — it is a content hash, not an allocated one.
type Address struct {
	id        uint64
	Name      string
	Class     string
	Namespace string
	Host      string
	Port      uint16
}

// NewAddress builds an Address for name on host:port, computing its ID.
// class and namespace default to "default" and "system" when empty, mirroring
// the defaults the original runtime applied to every locally-created address.
func NewAddress(name, class, namespace, host string, port uint16) Address {
	if class == "" {
		class = "default"
	}
	if namespace == "" {
		namespace = "system"
	}
	a := Address{
		Name:      name,
		Class:     class,
		Namespace: namespace,
		Host:      host,
		Port:      port,
	}
	a.rehash()
	return a
}

// WithPort returns a copy of a with Port replaced and the ID recomputed.
func (a Address) WithPort(port uint16) Address {
	a.Port = port
	a.rehash()
	return a
}

// WithHost returns a copy of a with Host replaced and the ID recomputed.
// An unparseable host leaves a unchanged, matching the original's
// defensive no-op on a malformed IP.
func (a Address) WithHost(host string) Address {
	if net.ParseIP(host) == nil {
		return a
	}
	a.Host = host
	a.rehash()
	return a
}

// rehash recomputes id from every other field, always starting from id=0 so
// the hash is reproducible regardless of the previous id value.
func (a *Address) rehash() {
	a.id = 0
	a.id = addressHash(a)
}

// ID returns the 64-bit content hash identifying this address.
func (a Address) ID() uint64 {
	return a.id
}

// IDString returns the ID in its textual form, the key used for the
// actors.actor_id and messages.actor_id store columns.
func (a Address) IDString() string {
	return fmt.Sprintf("%d", a.id)
}

// SocketAddr returns the host:port this address resolves to, or the zero
// value and false if Host is empty.
func (a Address) SocketAddr() (*net.TCPAddr, bool) {
	if a.Host == "" {
		return nil, false
	}
	ip := net.ParseIP(a.Host)
	if ip == nil {
		return nil, false
	}
	return &net.TCPAddr{IP: ip, Port: int(a.Port)}, true
}

// IsLocal reports whether this address resolves to loopback or to any
// address bound to the local host's interfaces.
func (a Address) IsLocal() bool {
	sa, ok := a.SocketAddr()
	if !ok {
		return false
	}
	if sa.IP.IsLoopback() {
		return true
	}
	locals, err := localIPs()
	if err != nil {
		return false
	}
	for _, ip := range locals {
		if ip.Equal(sa.IP) {
			return true
		}
	}
	return false
}

func localIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips, nil
}

// addressHash computes the deterministic content hash over every field of a
// except id. A plain FNV-1a over a length-prefixed field encoding is used
// rather than a general-purpose struct hasher: nothing in the dependency
// corpus provides one, and the encoding needs to be stable across process
// restarts and Go versions, which rules out reflection-based hashers keyed
// on memory layout (see DESIGN.md).
func addressHash(a *Address) uint64 {
	h := fnv.New64a()
	writeLP(h, a.Name)
	writeLP(h, a.Class)
	writeLP(h, a.Namespace)
	writeLP(h, a.Host)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], a.Port)
	h.Write(portBuf[:])
	return h.Sum64()
}

func writeLP(h interface{ Write([]byte) (int, error) }, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}
