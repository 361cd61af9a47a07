package errors

import (
	"errors"
	"maps"
	"slices"
)

// StructuredError is an error with a cause and metadata fields, which are
// rendered as slog attributes by Log and as indented lines by Fprint. The
// "hint" field is reserved for a suggestion about how to resolve the error.
type StructuredError struct {
	err      error
	metadata map[string]any
	cause    error
}

// Error implements the error interface. It doesn't include the cause.
func (e StructuredError) Error() string {
	return e.err.Error()
}

// Unwrap allows errors.Is and errors.As to match both the error and its cause.
func (e StructuredError) Unwrap() []error {
	var errs []error
	if e.err != nil {
		errs = append(errs, e.err)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// Cause returns the cause of this error.
func (e StructuredError) Cause() error {
	return e.cause
}

// Hint returns the hint field of this error, if any.
func (e StructuredError) Hint() string {
	hint, _ := e.metadata["hint"].(string)
	return hint
}

// Metadata returns a copy of the metadata fields.
func (e StructuredError) Metadata() map[string]any {
	if e.metadata == nil {
		return nil
	}
	return maps.Clone(e.metadata)
}

// fieldKeys returns the metadata keys in sorted order, except the hint.
func (e StructuredError) fieldKeys() []string {
	keys := make([]string, 0, len(e.metadata))
	for k := range e.metadata {
		if k != "hint" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// NewRuntimeError returns an error that happened while running a command. The
// cause and hint are optional. The fields are key/value pairs.
func NewRuntimeError(msg string, cause error, hint string, fields ...any) error {
	if hint != "" {
		fields = append(fields, "hint", hint)
	}

	return WithCause(errors.New(msg), cause, fields...)
}

// WithCause adds a cause and metadata to err. If err is already a
// StructuredError, its metadata is merged with the new fields, which take
// precedence, and its cause is kept unless a new one is given.
func WithCause(err, cause error, fields ...any) *StructuredError {
	metadata := toMetadata(fields)

	if serr, ok := err.(*StructuredError); ok {
		combined := maps.Clone(serr.metadata)
		if combined == nil {
			combined = make(map[string]any, len(metadata))
		}
		maps.Copy(combined, metadata)
		if cause == nil {
			cause = serr.cause
		}
		return &StructuredError{err: serr.err, metadata: combined, cause: cause}
	}

	return &StructuredError{err: err, metadata: metadata, cause: cause}
}

func toMetadata(fields []any) map[string]any {
	if len(fields)%2 != 0 {
		panic("an even number of fields is required")
	}

	metadata := make(map[string]any, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			panic("keys must be strings")
		}
		metadata[key] = fields[i+1]
	}

	return metadata
}
