package er7

import "fmt"

// DecodeErrorKind classifies decoder failures
type DecodeErrorKind string

const (
	// KindMalformed means the payload is text but not a usable ER7 message
	KindMalformed DecodeErrorKind = "MALFORMED"
	// KindUnsupportedInput means the payload could not be read as text at all
	KindUnsupportedInput DecodeErrorKind = "UNSUPPORTED_INPUT"
)

// DecodeError reports why a payload could not be decoded.
// Field is set when a single field value was the problem (e.g. "ORC-9").
type DecodeError struct {
	Kind    DecodeErrorKind
	Field   string
	Message string
	Cause   error
}

func (e *DecodeError) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	if e.Cause != nil {
		return msg + " (" + e.Cause.Error() + ")"
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

func malformed(msg string) *DecodeError {
	return &DecodeError{Kind: KindMalformed, Message: msg}
}

func malformedField(field string, cause error) *DecodeError {
	return &DecodeError{Kind: KindMalformed, Field: field, Message: "unparseable value", Cause: cause}
}
