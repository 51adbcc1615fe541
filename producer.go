package nimbus

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// Producer is a serializable factory sufficient to reconstruct an Actor
// instance. Tag must be a stable string: it is persisted as part of the
// actor definition and is the only thing that survives a process restart,
// so renaming a Producer's Go type never breaks recovery but renaming its
// Tag does.
type Producer interface {
	Tag() string
	Build() (Actor, error)
}

// producerFactory returns a zero-value Producer of the correct concrete
// type, ready to be unmarshaled into.
type producerFactory func() Producer

var (
	registryMu sync.RWMutex
	registry   = map[string]producerFactory{}
)

// RegisterProducer associates tag with a factory that yields a zero-value
// Producer of the corresponding type. Call this from an init() in the
// package defining the Producer, the same way the original runtime's
// tag-to-constructor table was populated at compile time — this is the only
// polymorphism mechanism for Producer, since tags (not Go types) are what
// gets persisted.
func RegisterProducer(tag string, factory func() Producer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[tag] = factory
}

// definitionEnvelope is the persisted shape of a Producer: a stable tag plus
// the producer's own YAML encoding, deferred via yaml.Node so the registry
// lookup can happen before the concrete type is known.
type definitionEnvelope struct {
	Tag  string    `yaml:"tag"`
	Spec yaml.Node `yaml:"spec"`
}

// MarshalProducer renders p to the text stored in the actors.actor_def
// column.
func MarshalProducer(p Producer) (string, error) {
	var specNode yaml.Node
	if err := specNode.Encode(p); err != nil {
		return "", fmt.Errorf("nimbus: encode producer spec: %w", err)
	}
	env := definitionEnvelope{Tag: p.Tag(), Spec: specNode}
	out, err := yaml.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("nimbus: encode producer envelope: %w", err)
	}
	return string(out), nil
}

// UnmarshalProducer reconstructs a Producer from its persisted text, using
// the tag to look up the registered factory.
func UnmarshalProducer(text string) (Producer, error) {
	var env definitionEnvelope
	if err := yaml.Unmarshal([]byte(text), &env); err != nil {
		return nil, fmt.Errorf("nimbus: decode producer envelope: %w", err)
	}

	registryMu.RLock()
	factory, ok := registry[env.Tag]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("nimbus: %w: unregistered producer tag %q", ErrRestoration, env.Tag)
	}

	p := factory()
	if err := env.Spec.Decode(p); err != nil {
		return nil, fmt.Errorf("nimbus: decode producer spec for tag %q: %w", env.Tag, err)
	}
	return p, nil
}
