package nimbus

import "testing"

func TestNewMsgAssignsID(t *testing.T) {
	from := NewAddress("a", "", "", "127.0.0.1", 7171)
	to := NewAddress("b", "", "", "127.0.0.1", 7172)
	m1 := NewTextMsg(&from, &to, "hi")
	m2 := NewTextMsg(&from, &to, "hi")
	if m1.ID == 0 {
		t.Error("ID = 0, want non-zero")
	}
	if m1.ID == m2.ID {
		t.Error("two fresh messages got the same ID")
	}
}

func TestMsgReplySwapsFromTo(t *testing.T) {
	from := NewAddress("a", "", "", "127.0.0.1", 7171)
	to := NewAddress("b", "", "", "127.0.0.1", 7172)
	m := NewTextMsg(&from, &to, "ping")

	reply := m.Reply(TextContent("pong"))
	if reply.From.ID() != to.ID() {
		t.Errorf("reply.From = %d, want %d", reply.From.ID(), to.ID())
	}
	if reply.To.ID() != from.ID() {
		t.Errorf("reply.To = %d, want %d", reply.To.ID(), from.ID())
	}
	if reply.Content.AsText() != "pong" {
		t.Errorf("reply content = %q, want pong", reply.Content.AsText())
	}
	if reply.ID == m.ID {
		t.Error("reply reused the original message ID")
	}
}

func TestContentVariants(t *testing.T) {
	if !CommandContent("stop").IsCommand() {
		t.Error("CommandContent should report IsCommand() true")
	}
	if !CommandContent("stop").CommandIs("stop") {
		t.Error("CommandIs(\"stop\") should match")
	}
	if CommandContent("stop").CommandIs("go") {
		t.Error("CommandIs(\"go\") should not match a \"stop\" command")
	}
	if TextContent("hi").AsText() != "hi" {
		t.Error("TextContent.AsText() mismatch")
	}
	if BlankContent().AsText() != "" {
		t.Error("BlankContent.AsText() should be empty")
	}
}
