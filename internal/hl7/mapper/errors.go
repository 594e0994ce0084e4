package mapper

import (
	"fmt"

	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
)

// ErrorKind classifies a mapping failure
type ErrorKind string

const (
	KindMissingSegment   ErrorKind = "MISSING_SEGMENT"
	KindDuplicateSegment ErrorKind = "DUPLICATE_SEGMENT"
	KindInvalidField     ErrorKind = "INVALID_FIELD"
)

// MappingError represents a mapping error with context
type MappingError struct {
	Kind    ErrorKind
	Segment er7.SegmentType
	Field   string
	Message string
	Cause   error
}

func (e *MappingError) Error() string {
	switch e.Kind {
	case KindMissingSegment:
		return fmt.Sprintf("missing segment %s", e.Segment)
	case KindDuplicateSegment:
		return fmt.Sprintf("segment %s must appear once", e.Segment)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *MappingError) Unwrap() error {
	return e.Cause
}

func missingSegment(t er7.SegmentType) *MappingError {
	return &MappingError{Kind: KindMissingSegment, Segment: t}
}

func duplicateSegment(t er7.SegmentType) *MappingError {
	return &MappingError{Kind: KindDuplicateSegment, Segment: t}
}

func invalidField(field, value string, cause error) *MappingError {
	return &MappingError{
		Kind:    KindInvalidField,
		Segment: er7.SegmentType(field[:3]),
		Field:   field,
		Message: fmt.Sprintf("cannot parse %q", value),
		Cause:   cause,
	}
}
