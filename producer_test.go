package nimbus

import "testing"

type echoProducer struct {
	Greeting string `yaml:"greeting"`
}

func (p *echoProducer) Tag() string { return "test.echo" }

func (p *echoProducer) Build() (Actor, error) {
	greeting := p.Greeting
	return ActorFunc(func(m Mail) *Mail {
		for _, msg := range m.TakeAll() {
			reply := msg.Reply(TextContent(greeting + msg.Content.AsText()))
			out := Trade(reply)
			return &out
		}
		return nil
	}), nil
}

func init() {
	RegisterProducer("test.echo", func() Producer { return &echoProducer{} })
}

func TestMarshalUnmarshalProducerRoundTrip(t *testing.T) {
	p := &echoProducer{Greeting: "hello, "}
	text, err := MarshalProducer(p)
	if err != nil {
		t.Fatalf("MarshalProducer: %v", err)
	}

	restored, err := UnmarshalProducer(text)
	if err != nil {
		t.Fatalf("UnmarshalProducer: %v", err)
	}
	if restored.Tag() != "test.echo" {
		t.Errorf("Tag() = %q, want test.echo", restored.Tag())
	}

	actor, err := restored.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	a := NewAddress("a", "", "", "127.0.0.1", 7171)
	b := NewAddress("b", "", "", "127.0.0.1", 7172)
	reply := actor.Receive(Trade(NewTextMsg(&a, &b, "world")))
	if reply == nil {
		t.Fatal("expected a reply")
	}
	got := reply.One.Content.AsText()
	if got != "hello, world" {
		t.Errorf("reply text = %q, want %q", got, "hello, world")
	}
}

func TestUnmarshalProducerUnknownTag(t *testing.T) {
	_, err := UnmarshalProducer("tag: test.nonexistent\nspec: {}\n")
	if err == nil {
		t.Fatal("expected an error for an unregistered tag")
	}
}
