package nimbus

import "testing"

func TestMailTakeAll(t *testing.T) {
	a := NewAddress("a", "", "", "127.0.0.1", 7171)
	b := NewAddress("b", "", "", "127.0.0.1", 7172)
	m1 := NewTextMsg(&a, &b, "one")
	m2 := NewTextMsg(&a, &b, "two")

	tests := []struct {
		name string
		mail Mail
		want int
	}{
		{"blank", Blank(), 0},
		{"trade", Trade(m1), 1},
		{"bulk", BulkMail([]Msg{m1, m2}), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.mail.TakeAll()
			if len(got) != tt.want {
				t.Errorf("TakeAll() len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestMailIsCommand(t *testing.T) {
	a := NewAddress("a", "", "", "127.0.0.1", 7171)
	b := NewAddress("b", "", "", "127.0.0.1", 7172)

	cmd := Trade(NewMsg(&a, &b, CommandContent("stop")))
	if !cmd.IsCommand() {
		t.Error("IsCommand() = false, want true")
	}
	if !cmd.CommandIs("stop") {
		t.Error("CommandIs(\"stop\") = false, want true")
	}

	text := Trade(NewTextMsg(&a, &b, "hello"))
	if text.IsCommand() {
		t.Error("IsCommand() = true for text mail, want false")
	}

	bulk := BulkMail([]Msg{NewMsg(&a, &b, CommandContent("stop")), NewMsg(&a, &b, CommandContent("stop"))})
	if bulk.IsCommand() {
		t.Error("IsCommand() = true for a bulk of two, want false")
	}
}
