package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"

	nimbus "github.com/everydev1618/nimbus"
)

// Dispatcher is the subset of the catalog the Listener hands inbound mail
// to. SendOff persists before acting, so remote-originated mail goes
// through the same Store→Publisher→EventTracker→Router→Catalog durability
// pipeline a local send already does, rather than being invoked in-memory
// with nothing durable backing it.
type Dispatcher interface {
	SendOff(nimbus.Mail) error
}

// Listener accepts framed Mail over TCP and dispatches each contained Msg,
// grounded on the original's routing/listener.rs MessageListener/serve/
// ingress loop.
type Listener struct {
	addr       string
	dispatcher Dispatcher

	ln     net.Listener
	closed chan struct{}
}

// NewListener builds a Listener bound to addr (host:port) once Run is
// called.
func NewListener(addr string, dispatcher Dispatcher) *Listener {
	return &Listener{addr: addr, dispatcher: dispatcher, closed: make(chan struct{})}
}

// Run binds the listening socket and serves until Close is called or an
// unrecoverable accept error occurs.
func (l *Listener) Run() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("nimbus/transport: %w: listen on %s: %v", nimbus.ErrMessageTransport, l.addr, err)
	}
	l.ln = ln
	slog.Info("transport: listener started", "addr", l.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("transport: accept failed", "err", err)
			continue
		}
		go l.serve(conn)
	}
}

// Close stops the accept loop and closes the listening socket.
func (l *Listener) Close() error {
	close(l.closed)
	if l.ln != nil {
		return l.ln.Close()
	}
	return nil
}

// serve reads one framed Mail from conn, dispatches every Msg it carries,
// acknowledges, and closes — one frame per connection, matching the
// original's per-message connection lifecycle.
func (l *Listener) serve(conn net.Conn) {
	defer conn.Close()

	// correlationID ties this connection's log lines together; it never
	// touches the wire or the durable record, which keep Msg.ID as their
	// identity.
	correlationID := uuid.New().String()

	payload, err := ReadFrame(conn)
	if err != nil {
		slog.Warn("transport: failed to read frame", "correlation_id", correlationID, "remote", conn.RemoteAddr(), "err", err)
		return
	}

	mail, err := DecodeMail(payload)
	if err != nil {
		slog.Warn("transport: failed to decode mail", "correlation_id", correlationID, "remote", conn.RemoteAddr(), "err", err)
		return
	}

	if mail.CommandIs("stop") {
		slog.Info("transport: received stop command", "correlation_id", correlationID, "remote", conn.RemoteAddr())
		conn.Write([]byte("ok"))
		go l.Close()
		return
	}
	if mail.IsCommand() {
		slog.Warn("transport: ignoring unknown command", "correlation_id", correlationID, "remote", conn.RemoteAddr(), "command", mail.TakeAll()[0].Content.AsText())
		conn.Write([]byte("ok"))
		return
	}

	slog.Info("transport: dispatching inbound mail", "correlation_id", correlationID, "remote", conn.RemoteAddr())
	if err := l.dispatcher.SendOff(mail); err != nil {
		slog.Warn("transport: failed to send off inbound mail", "correlation_id", correlationID, "remote", conn.RemoteAddr(), "err", err)
	}
	conn.Write([]byte("ok"))
}
