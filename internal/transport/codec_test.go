package transport

import (
	"bytes"
	"testing"

	nimbus "github.com/everydev1618/nimbus"
)

func TestAddressRoundTrip(t *testing.T) {
	a := nimbus.NewAddress("worker", "default", "system", "127.0.0.1", 7171)
	encoded := EncodeAddress(a)
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if decoded.ID() != a.ID() {
		t.Errorf("decoded ID = %d, want %d", decoded.ID(), a.ID())
	}
	if decoded.Name != a.Name || decoded.Host != a.Host || decoded.Port != a.Port {
		t.Errorf("decoded address = %+v, want fields matching %+v", decoded, a)
	}
}

func TestMsgRoundTrip(t *testing.T) {
	from := nimbus.NewAddress("a", "", "", "127.0.0.1", 7171)
	to := nimbus.NewAddress("b", "", "", "127.0.0.1", 7172)
	m := nimbus.NewTextMsg(&from, &to, "hello there")

	encoded, err := EncodeMsg(m)
	if err != nil {
		t.Fatalf("EncodeMsg: %v", err)
	}
	decoded, err := DecodeMsg(encoded)
	if err != nil {
		t.Fatalf("DecodeMsg: %v", err)
	}
	if decoded.ID != m.ID {
		t.Errorf("decoded ID = %d, want %d", decoded.ID, m.ID)
	}
	if decoded.Content.AsText() != "hello there" {
		t.Errorf("decoded text = %q, want %q", decoded.Content.AsText(), "hello there")
	}
	if decoded.From.ID() != from.ID() || decoded.To.ID() != to.ID() {
		t.Error("decoded From/To addresses do not match originals")
	}
}

func TestMailRoundTripVariants(t *testing.T) {
	from := nimbus.NewAddress("a", "", "", "127.0.0.1", 7171)
	to := nimbus.NewAddress("b", "", "", "127.0.0.1", 7172)
	m1 := nimbus.NewTextMsg(&from, &to, "one")
	m2 := nimbus.NewMsg(&from, &to, nimbus.BinaryContent([]byte{0x00, 0x01, 0xff}))

	cases := []nimbus.Mail{
		nimbus.Blank(),
		nimbus.Trade(m1),
		nimbus.BulkMail([]nimbus.Msg{m1, m2}),
	}
	for i, mail := range cases {
		encoded, err := EncodeMail(mail)
		if err != nil {
			t.Fatalf("case %d: EncodeMail: %v", i, err)
		}
		decoded, err := DecodeMail(encoded)
		if err != nil {
			t.Fatalf("case %d: DecodeMail: %v", i, err)
		}
		if decoded.Kind != mail.Kind {
			t.Errorf("case %d: kind = %v, want %v", i, decoded.Kind, mail.Kind)
		}
		if len(decoded.TakeAll()) != len(mail.TakeAll()) {
			t.Errorf("case %d: len = %d, want %d", i, len(decoded.TakeAll()), len(mail.TakeAll()))
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("some binary-safe \x00\x01\xff payload")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadFrame = %q, want %q", got, payload)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected an error for an oversized frame length")
	}
}
