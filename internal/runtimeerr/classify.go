package runtimeerr

import (
	"context"
	"errors"
	"io/fs"
)

// Classify promotes an unknown error into a *RuntimeError at a system
// boundary (cache I/O, step adapters, context cancellation).
func Classify(err error) *RuntimeError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RuntimeError); ok {
		return re
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(CodeTimeout, "operation timed out").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return New(CodeCancelled, "operation cancelled").WithCause(err)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return New(CodeStorageNotFound, "not found").WithCause(err)
	}
	if errors.Is(err, fs.ErrPermission) {
		return New(CodePermissionDenied, "permission denied").WithCause(err)
	}
	return New(CodeUnknown, "an unexpected error occurred").WithCause(err)
}
