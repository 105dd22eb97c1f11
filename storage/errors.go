package storage

import "fmt"

// Kind classifies a BrokerError the way the broker core reports failures:
// every error carries a kind code plus contextual payload (sql text, uri,
// id) rather than a distinct Go type per call site.
type Kind byte

const (
	KindUnknown Kind = iota
	KindStorage
	KindNotFound
	KindOnSaveMessage
	KindOnSubscription
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "STORAGE"
	case KindNotFound:
		return "NOT_FOUND"
	case KindOnSaveMessage:
		return "ON_SAVE_MESSAGE"
	case KindOnSubscription:
		return "ON_SUBSCRIPTION"
	case KindInvalidState:
		return "INVALID_STATE"
	default:
		return "UNKNOWN"
	}
}

// BrokerError is the single error type surfaced by the core. Message is a
// human-readable description; Context carries the sql text, uri, or id
// relevant to the failure; Err is the wrapped underlying cause, if any.
type BrokerError struct {
	Kind    Kind
	Message string
	Context string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// NewError builds a BrokerError with no wrapped cause.
func NewError(kind Kind, message, context string) *BrokerError {
	return &BrokerError{Kind: kind, Message: message, Context: context}
}

// WrapError builds a BrokerError around an existing error.
func WrapError(kind Kind, message, context string, err error) *BrokerError {
	return &BrokerError{Kind: kind, Message: message, Context: context, Err: err}
}

// Retag returns a copy of err with its Kind replaced, preserving the wrapped
// cause and context. Used by call sites such as SaveMessage that receive a
// KindStorage failure from the pool and must re-tag it to a narrower kind.
func Retag(err error, kind Kind) *BrokerError {
	var be *BrokerError
	if as, ok := err.(*BrokerError); ok {
		be = as
	} else {
		return WrapError(kind, err.Error(), "", err)
	}
	return &BrokerError{Kind: kind, Message: be.Message, Context: be.Context, Err: be.Err}
}
