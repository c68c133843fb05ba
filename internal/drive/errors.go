package drive

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy. Every error returned by the components wraps exactly one of
// these so callers can branch with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrNameConflict      = errors.New("name conflict")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrIncompleteUpload  = errors.New("incomplete upload")
	ErrComposeFailure    = errors.New("compose failure")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrBackend           = errors.New("backend error")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// ErrDuplicateContent is returned by Database.CreateContent when a row with the
// same hash already exists.
var ErrDuplicateContent = errors.New("duplicate content hash")

// ErrBlobNotFound is returned by BlobStore implementations for absent keys.
var ErrBlobNotFound = errors.New("blob not found")

// IncompleteUploadError lists the chunk indices that are still missing when a
// merge is attempted.
type IncompleteUploadError struct {
	Missing []int
}

func (e *IncompleteUploadError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, idx := range e.Missing {
		parts[i] = fmt.Sprint(idx)
	}
	return fmt.Sprintf("incomplete upload: missing chunks [%s]", strings.Join(parts, ","))
}

func (e *IncompleteUploadError) Unwrap() error { return ErrIncompleteUpload }

// backendErr marks err as a storage backend failure while keeping it in the chain.
func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackend, err)
}
