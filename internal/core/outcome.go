package core

import "fmt"

// Revision identifies the most recent request a coordinator still
// considers authoritative. Revisions start at 1.
type Revision uint64

// Kind tags an Outcome.
type Kind int

const (
	KindSuccess Kind = iota + 1
	KindError
	KindAborted
	KindOutdated
)

var kindNames = map[Kind]string{
	KindSuccess:  "success",
	KindError:    "error",
	KindAborted:  "aborted",
	KindOutdated: "outdated",
}

// Kinds lists every outcome kind in display order.
var Kinds = []Kind{KindSuccess, KindError, KindAborted, KindOutdated}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText lets Kind be used as a JSON map key and value.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the result of one request attempt. Exactly one of the four
// kinds is produced per attempt.
type Outcome[T any] struct {
	Kind       Kind
	Revision   Revision
	Payload    T      // set for KindSuccess
	Message    string // set for KindError
	StatusCode int    // HTTP status when a response was received
}

func Success[T any](rev Revision, payload T) Outcome[T] {
	return Outcome[T]{Kind: KindSuccess, Revision: rev, Payload: payload}
}

func Failure[T any](rev Revision, message string) Outcome[T] {
	return Outcome[T]{Kind: KindError, Revision: rev, Message: message}
}

func Aborted[T any](rev Revision) Outcome[T] {
	return Outcome[T]{Kind: KindAborted, Revision: rev}
}

func Outdated[T any](rev Revision) Outcome[T] {
	return Outcome[T]{Kind: KindOutdated, Revision: rev}
}

// Applicable reports whether the outcome may change displayed state.
func (o Outcome[T]) Applicable() bool {
	return o.Kind == KindSuccess || o.Kind == KindError
}

// Err maps a non-success outcome to its error class. It returns nil for
// successful outcomes.
func (o Outcome[T]) Err() error {
	switch o.Kind {
	case KindSuccess:
		return nil
	case KindError:
		return fmt.Errorf("%w: %s", ErrTransport, o.Message)
	case KindAborted:
		return fmt.Errorf("%w: revision %d", ErrCancelled, o.Revision)
	case KindOutdated:
		return fmt.Errorf("%w: revision %d", ErrOutdated, o.Revision)
	default:
		return fmt.Errorf("%w: unknown outcome %v", ErrInternal, o.Kind)
	}
}
