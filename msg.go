package nimbus

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// ContentKind tags the variant carried by a Content value.
type ContentKind uint8

const (
	ContentBlank ContentKind = iota
	ContentText
	ContentBinary
	ContentCommand
)

// Content is the tagged union a Msg carries: Text, Binary, Command, or Blank.
// Only the field matching Kind is meaningful.
type Content struct {
	Kind   ContentKind
	Text   string
	Binary []byte
}

// TextContent wraps s as a Text content value.
func TextContent(s string) Content { return Content{Kind: ContentText, Text: s} }

// BinaryContent wraps b as a Binary content value.
func BinaryContent(b []byte) Content { return Content{Kind: ContentBinary, Binary: b} }

// CommandContent wraps cmd as a Command content value.
func CommandContent(cmd string) Content { return Content{Kind: ContentCommand, Text: cmd} }

// BlankContent is the empty content variant.
func BlankContent() Content { return Content{Kind: ContentBlank} }

// IsCommand reports whether c carries a Command variant.
func (c Content) IsCommand() bool { return c.Kind == ContentCommand }

// CommandIs reports whether c is the Command variant equal to name.
func (c Content) CommandIs(name string) bool {
	return c.Kind == ContentCommand && c.Text == name
}

// AsText returns the text payload for Text and Command variants, and ""
// otherwise.
func (c Content) AsText() string {
	switch c.Kind {
	case ContentText, ContentCommand:
		return c.Text
	default:
		return ""
	}
}

// Msg is a single unit of mail. Its ID is assigned at construction and never
// changes; sending a Msg with a nil To is a no-op at the grouping stage
// (Messenger.SendGrouped skips it; Mail.TakeAll still returns it).
type Msg struct {
	ID         uint64
	From       *Address
	To         *Address
	Content    Content
	Dispatched *time.Time
}

// NewMsg constructs a Msg with a fresh random ID.
func NewMsg(from, to *Address, content Content) Msg {
	return Msg{
		ID:      randomID(),
		From:    from,
		To:      to,
		Content: content,
	}
}

// NewTextMsg is a convenience constructor for a Text-content Msg.
func NewTextMsg(from, to *Address, text string) Msg {
	return NewMsg(from, to, TextContent(text))
}

// Reply builds the response Msg to m: from/to are swapped, a fresh ID is
// assigned, and content is replaced.
func (m Msg) Reply(content Content) Msg {
	reply := NewMsg(m.To, m.From, content)
	return reply
}

// RichMsg pairs a Msg with the per-actor msg_seq the store assigned it on
// insert. It is carried only on the dispatch path from the event pipeline
// through the router into the catalog, which gates delivery against it.
type RichMsg struct {
	Msg Msg
	Seq int64
}

func randomID() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; fall back to a time-derived value rather than panic.
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(buf[:])
}
