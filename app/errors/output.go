package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Log logs err with logger at the given level. The cause and metadata of a
// StructuredError are logged as attributes.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, err error) {
	var serr *StructuredError
	if !errors.As(err, &serr) {
		logger.Log(ctx, level, err.Error())
		return
	}

	args := make([]any, 0, len(serr.metadata)*2+2)
	if serr.cause != nil {
		args = append(args, "cause", serr.cause)
	}
	for _, k := range serr.fieldKeys() {
		args = append(args, k, serr.metadata[k])
	}
	if hint := serr.Hint(); hint != "" {
		args = append(args, "hint", hint)
	}

	logger.Log(ctx, level, serr.Error(), args...)
}

// Errorf writes err to stderr in a human readable format.
func Errorf(err error) {
	Fprint(os.Stderr, err)
}

// Fprint writes err to w in a human readable format: the message and cause on
// the first line, then the metadata fields, then the hint.
func Fprint(w io.Writer, err error) {
	var serr *StructuredError
	if !errors.As(err, &serr) {
		fmt.Fprintf(w, "Error: %s\n", err)
		return
	}

	if serr.cause != nil {
		fmt.Fprintf(w, "Error: %s: %s\n", serr.Error(), serr.cause)
	} else {
		fmt.Fprintf(w, "Error: %s\n", serr.Error())
	}
	for _, k := range serr.fieldKeys() {
		fmt.Fprintf(w, "  %s: %v\n", k, serr.metadata[k])
	}
	if hint := serr.Hint(); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}
