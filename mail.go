package nimbus

// MailKind tags the Mail envelope variant.
type MailKind uint8

const (
	MailBlank MailKind = iota
	MailTrade
	MailBulk
)

// Mail is the envelope carrying one or more Msg: a single Trade, a Bulk of
// several, or Blank (no payload — used as a lifecycle signal and as the
// buffer-flush trigger).
type Mail struct {
	Kind MailKind
	One  Msg
	Many []Msg
}

// Blank is the empty Mail value.
func Blank() Mail { return Mail{Kind: MailBlank} }

// Trade wraps a single Msg.
func Trade(m Msg) Mail { return Mail{Kind: MailTrade, One: m} }

// BulkMail wraps several Msg values.
func BulkMail(msgs []Msg) Mail { return Mail{Kind: MailBulk, Many: msgs} }

// TakeAll normalizes any Mail variant into a flat slice of Msg.
func (m Mail) TakeAll() []Msg {
	switch m.Kind {
	case MailTrade:
		return []Msg{m.One}
	case MailBulk:
		return m.Many
	default:
		return nil
	}
}

// IsCommand reports whether m carries exactly one Command-content Msg.
func (m Mail) IsCommand() bool {
	all := m.TakeAll()
	return len(all) == 1 && all[0].Content.IsCommand()
}

// CommandIs reports whether m is a single Command Msg equal to name.
func (m Mail) CommandIs(name string) bool {
	all := m.TakeAll()
	return len(all) == 1 && all[0].Content.CommandIs(name)
}
