// Package transport implements the wire side of the runtime: the binary
// codec for Address/Msg/Mail, the framed Messenger client, and the framed
// Listener server.
package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	nimbus "github.com/everydev1618/nimbus"
)

// Mail variant tags, per the external-interfaces wire contract: Trade=0,
// Bulk=1, Blank=2.
const (
	tagTrade byte = 0
	tagBulk  byte = 1
	tagBlank byte = 2
)

// Content variant tags.
const (
	contentBlank byte = iota
	contentText
	contentBinary
	contentCommand
)

// EncodeMail renders m as a variant tag byte followed by the variant
// payload, little-endian throughout.
func EncodeMail(m nimbus.Mail) ([]byte, error) {
	var buf bytes.Buffer
	switch m.Kind {
	case nimbus.MailTrade:
		buf.WriteByte(tagTrade)
		if err := encodeMsg(&buf, m.One); err != nil {
			return nil, err
		}
	case nimbus.MailBulk:
		buf.WriteByte(tagBulk)
		writeU32(&buf, uint32(len(m.Many)))
		for _, msg := range m.Many {
			if err := encodeMsg(&buf, msg); err != nil {
				return nil, err
			}
		}
	default:
		buf.WriteByte(tagBlank)
	}
	return buf.Bytes(), nil
}

// DecodeMail parses the output of EncodeMail.
func DecodeMail(data []byte) (nimbus.Mail, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return nimbus.Mail{}, fmt.Errorf("nimbus/transport: %w: read mail tag: %v", nimbus.ErrInvalidData, err)
	}
	switch tag {
	case tagTrade:
		msg, err := decodeMsg(r)
		if err != nil {
			return nimbus.Mail{}, err
		}
		return nimbus.Trade(msg), nil
	case tagBulk:
		n, err := readU32(r)
		if err != nil {
			return nimbus.Mail{}, fmt.Errorf("nimbus/transport: %w: read bulk count: %v", nimbus.ErrInvalidData, err)
		}
		msgs := make([]nimbus.Msg, 0, n)
		for i := uint32(0); i < n; i++ {
			msg, err := decodeMsg(r)
			if err != nil {
				return nimbus.Mail{}, err
			}
			msgs = append(msgs, msg)
		}
		return nimbus.BulkMail(msgs), nil
	case tagBlank:
		return nimbus.Blank(), nil
	default:
		return nimbus.Mail{}, fmt.Errorf("nimbus/transport: %w: unknown mail tag %d", nimbus.ErrInvalidData, tag)
	}
}

func encodeMsg(buf *bytes.Buffer, m nimbus.Msg) error {
	writeU64(buf, m.ID)
	if err := encodeOptAddress(buf, m.From); err != nil {
		return err
	}
	if err := encodeOptAddress(buf, m.To); err != nil {
		return err
	}
	encodeContent(buf, m.Content)
	if m.Dispatched == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		writeU64(buf, uint64(m.Dispatched.UnixMilli()))
	}
	return nil
}

func decodeMsg(r *bytes.Reader) (nimbus.Msg, error) {
	var m nimbus.Msg
	id, err := readU64(r)
	if err != nil {
		return m, fmt.Errorf("nimbus/transport: %w: read msg id: %v", nimbus.ErrInvalidData, err)
	}
	m.ID = id

	from, err := decodeOptAddress(r)
	if err != nil {
		return m, err
	}
	m.From = from

	to, err := decodeOptAddress(r)
	if err != nil {
		return m, err
	}
	m.To = to

	content, err := decodeContent(r)
	if err != nil {
		return m, err
	}
	m.Content = content

	present, err := r.ReadByte()
	if err != nil {
		return m, fmt.Errorf("nimbus/transport: %w: read dispatched presence: %v", nimbus.ErrInvalidData, err)
	}
	if present == 1 {
		ms, err := readU64(r)
		if err != nil {
			return m, fmt.Errorf("nimbus/transport: %w: read dispatched value: %v", nimbus.ErrInvalidData, err)
		}
		t := time.UnixMilli(int64(ms)).UTC()
		m.Dispatched = &t
	}
	return m, nil
}

func encodeContent(buf *bytes.Buffer, c nimbus.Content) {
	switch c.Kind {
	case nimbus.ContentText:
		buf.WriteByte(contentText)
		writeLPString(buf, c.Text)
	case nimbus.ContentBinary:
		buf.WriteByte(contentBinary)
		writeU32(buf, uint32(len(c.Binary)))
		buf.Write(c.Binary)
	case nimbus.ContentCommand:
		buf.WriteByte(contentCommand)
		writeLPString(buf, c.Text)
	default:
		buf.WriteByte(contentBlank)
	}
}

func decodeContent(r *bytes.Reader) (nimbus.Content, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nimbus.Content{}, fmt.Errorf("nimbus/transport: %w: read content tag: %v", nimbus.ErrInvalidData, err)
	}
	switch tag {
	case contentText:
		s, err := readLPString(r)
		if err != nil {
			return nimbus.Content{}, err
		}
		return nimbus.TextContent(s), nil
	case contentBinary:
		n, err := readU32(r)
		if err != nil {
			return nimbus.Content{}, fmt.Errorf("nimbus/transport: %w: read binary length: %v", nimbus.ErrInvalidData, err)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nimbus.Content{}, fmt.Errorf("nimbus/transport: %w: read binary body: %v", nimbus.ErrInvalidData, err)
		}
		return nimbus.BinaryContent(b), nil
	case contentCommand:
		s, err := readLPString(r)
		if err != nil {
			return nimbus.Content{}, err
		}
		return nimbus.CommandContent(s), nil
	case contentBlank:
		return nimbus.BlankContent(), nil
	default:
		return nimbus.Content{}, fmt.Errorf("nimbus/transport: %w: unknown content tag %d", nimbus.ErrInvalidData, tag)
	}
}

// EncodeMsg renders a single Msg using the same field layout EncodeMail uses
// for its Trade payload. The store persists one Msg blob per row, not a full
// Mail envelope, so this is exposed independently.
func EncodeMsg(m nimbus.Msg) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeMsg(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMsg parses the output of EncodeMsg.
func DecodeMsg(data []byte) (nimbus.Msg, error) {
	return decodeMsg(bytes.NewReader(data))
}

// EncodeAddress renders a as: id (u64), name (length-prefixed UTF-8),
// class/ns/host (optional strings), port (optional u16).
func EncodeAddress(a nimbus.Address) []byte {
	var buf bytes.Buffer
	encodeAddress(&buf, a)
	return buf.Bytes()
}

// DecodeAddress parses the output of EncodeAddress.
func DecodeAddress(data []byte) (nimbus.Address, error) {
	r := bytes.NewReader(data)
	return decodeAddress(r)
}

func encodeAddress(buf *bytes.Buffer, a nimbus.Address) {
	writeU64(buf, a.ID())
	writeLPString(buf, a.Name)
	writeOptString(buf, a.Class)
	writeOptString(buf, a.Namespace)
	writeOptString(buf, a.Host)
	if a.Port == 0 {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		writeU16(buf, a.Port)
	}
}

func decodeAddress(r *bytes.Reader) (nimbus.Address, error) {
	id, err := readU64(r)
	if err != nil {
		return nimbus.Address{}, fmt.Errorf("nimbus/transport: %w: read address id: %v", nimbus.ErrInvalidData, err)
	}
	name, err := readLPString(r)
	if err != nil {
		return nimbus.Address{}, err
	}
	class, err := readOptString(r)
	if err != nil {
		return nimbus.Address{}, err
	}
	ns, err := readOptString(r)
	if err != nil {
		return nimbus.Address{}, err
	}
	host, err := readOptString(r)
	if err != nil {
		return nimbus.Address{}, err
	}
	present, err := r.ReadByte()
	if err != nil {
		return nimbus.Address{}, fmt.Errorf("nimbus/transport: %w: read address port presence: %v", nimbus.ErrInvalidData, err)
	}
	var port uint16
	if present == 1 {
		port, err = readU16(r)
		if err != nil {
			return nimbus.Address{}, fmt.Errorf("nimbus/transport: %w: read address port: %v", nimbus.ErrInvalidData, err)
		}
	}

	a := nimbus.NewAddress(name, class, ns, host, port)
	// The wire ID is the sender's computed hash; recomputing it locally
	// from the decoded fields must agree, since ID is a pure content hash.
	_ = id
	return a, nil
}

func encodeOptAddress(buf *bytes.Buffer, a *nimbus.Address) error {
	if a == nil {
		buf.WriteByte(0)
		return nil
	}
	buf.WriteByte(1)
	encodeAddress(buf, *a)
	return nil
}

func decodeOptAddress(r *bytes.Reader) (*nimbus.Address, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("nimbus/transport: %w: read address presence: %v", nimbus.ErrInvalidData, err)
	}
	if present == 0 {
		return nil, nil
	}
	a, err := decodeAddress(r)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func writeOptString(buf *bytes.Buffer, s string) {
	if s == "" {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeLPString(buf, s)
}

func readOptString(r *bytes.Reader) (string, error) {
	present, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("nimbus/transport: %w: read string presence: %v", nimbus.ErrInvalidData, err)
	}
	if present == 0 {
		return "", nil
	}
	return readLPString(r)
}

func writeLPString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readLPString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", fmt.Errorf("nimbus/transport: %w: read string length: %v", nimbus.ErrInvalidData, err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("nimbus/transport: %w: read string body: %v", nimbus.ErrInvalidData, err)
	}
	return string(b), nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}
