package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"

	nimbus "github.com/everydev1618/nimbus"
)

// bootupRetryDelay is how long Messenger waits after spawning a resident
// listener before retrying the dial, matching the original's
// Duration::from_millis(100) in routing/messenger.rs.
const bootupRetryDelay = 100 * time.Millisecond

// Messenger sends mail to remote addresses over TCP, grouping a Bulk send
// by destination the way the original's Messenger::send groups by
// SocketAddr before writing.
type Messenger struct {
	residentListener string
	dialTimeout      time.Duration
}

// NewMessenger builds a Messenger. residentListener is the path to the
// executable Messenger spawns when a loopback destination refuses the
// connection — see Config.ResidentListener.
func NewMessenger(residentListener string) *Messenger {
	return &Messenger{residentListener: residentListener, dialTimeout: 5 * time.Second}
}

// Send delivers mail to addr, grouping nothing itself (callers group by
// destination before invoking Send per address) and auto-spawning the
// resident listener on a refused loopback connection before one retry.
func (m *Messenger) Send(addr nimbus.Address, mail nimbus.Mail) error {
	sockAddr, ok := addr.SocketAddr()
	if !ok {
		return fmt.Errorf("nimbus/transport: %w: address %s has no socket address", nimbus.ErrMessageTransport, addr.IDString())
	}

	correlationID := uuid.New().String()
	slog.Info("transport: sending mail", "correlation_id", correlationID, "to", sockAddr.String())

	conn, err := net.DialTimeout("tcp", sockAddr.String(), m.dialTimeout)
	if err != nil {
		if addr.IsLocal() && isConnRefused(err) && m.residentListener != "" {
			if bootErr := m.bootupListener(); bootErr != nil {
				return fmt.Errorf("nimbus/transport: %w: bootup resident listener: %v", nimbus.ErrMessageTransport, bootErr)
			}
			time.Sleep(bootupRetryDelay)
			conn, err = net.DialTimeout("tcp", sockAddr.String(), m.dialTimeout)
		}
		if err != nil {
			return fmt.Errorf("nimbus/transport: %w: dial %s: %v", nimbus.ErrMessageTransport, sockAddr, err)
		}
	}
	defer conn.Close()

	payload, err := EncodeMail(mail)
	if err != nil {
		return fmt.Errorf("nimbus/transport: %w: encode mail for %s: %v", nimbus.ErrSerialization, sockAddr, err)
	}
	if err := WriteFrame(conn, payload); err != nil {
		return err
	}

	ack := make([]byte, 2)
	if _, err := conn.Read(ack); err != nil {
		return fmt.Errorf("nimbus/transport: %w: read ack from %s: %v", nimbus.ErrMessageTransport, sockAddr, err)
	}
	return nil
}

// SendGrouped groups msgs by destination host:port and sends one Bulk per
// group, mirroring the original's group_by(SocketAddr) before dispatch: two
// actors sharing one socket address are batched into a single connection
// rather than split by address identity.
func (m *Messenger) SendGrouped(msgs []nimbus.Msg) error {
	groups := make(map[string][]nimbus.Msg)
	addrs := make(map[string]nimbus.Address)
	for _, msg := range msgs {
		if msg.To == nil {
			continue
		}
		sockAddr, ok := msg.To.SocketAddr()
		if !ok {
			continue
		}
		key := sockAddr.String()
		groups[key] = append(groups[key], msg)
		addrs[key] = *msg.To
	}

	var firstErr error
	for key, group := range groups {
		mail := nimbus.BulkMail(group)
		if len(group) == 1 {
			mail = nimbus.Trade(group[0])
		}
		if err := m.Send(addrs[key], mail); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// bootupListener spawns the configured resident listener executable as a
// detached background process, the Go equivalent of the original's
// std::process::Command::new(path).spawn() in routing/messenger.rs.
func (m *Messenger) bootupListener() error {
	cmd := exec.Command(m.residentListener)
	return cmd.Start()
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
