package nimbus

import "errors"

// Sentinel errors identifying the taxonomy from the error-handling design:
// Registration, Restoration, MessageTransport, Serialization, Storage, and
// InvalidData. Opening the backing store file is the one fatal case and is
// not part of this taxonomy — it terminates the process directly.
var (
	// ErrRegistration indicates a producer definition failed to serialize
	// or the store write during define failed.
	ErrRegistration = errors.New("nimbus: registration error")

	// ErrRestoration indicates no producer was found for an address, or
	// its definition failed to deserialize.
	ErrRestoration = errors.New("nimbus: restoration error")

	// ErrMessageTransport indicates a network send/receive failure. The
	// message remains durable in the store regardless.
	ErrMessageTransport = errors.New("nimbus: message transport error")

	// ErrSerialization indicates a binary or text codec failure.
	ErrSerialization = errors.New("nimbus: serialization error")

	// ErrStorage indicates a database I/O failure.
	ErrStorage = errors.New("nimbus: storage error")

	// ErrInvalidData indicates a malformed payload.
	ErrInvalidData = errors.New("nimbus: invalid data")

	// ErrActorNotDefined indicates the addressed actor has no known
	// definition and could not be restored.
	ErrActorNotDefined = errors.New("nimbus: actor not defined")

	// ErrActorEvicted indicates the addressed actor reached its
	// panic-tolerance budget and was evicted; it stays evicted until
	// redefined.
	ErrActorEvicted = errors.New("nimbus: actor evicted after panic tolerance exceeded")
)

// OpError decorates a sentinel error with the address and operation that
// produced it.
type OpError struct {
	Op      string
	ActorID string
	Err     error
}

func (e *OpError) Error() string {
	if e.ActorID == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " [" + e.ActorID + "]: " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }
