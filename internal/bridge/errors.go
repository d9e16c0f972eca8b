package bridge

import (
	"errors"
	"fmt"
)

// Origin names the collaborator a failure came from.
type Origin string

const (
	OriginAuth     Origin = "auth"
	OriginStorage  Origin = "storage"
	OriginTracking Origin = "tracking"
	OriginQuota    Origin = "quota"
)

// CollaboratorFailure wraps an error returned by an external collaborator.
type CollaboratorFailure struct {
	Origin Origin
	Op     string
	Err    error
}

func (e *CollaboratorFailure) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Origin, e.Op, e.Err)
}

func (e *CollaboratorFailure) Unwrap() error { return e.Err }

// Reason is the collaborator's own failure text, without the origin prefix.
func (e *CollaboratorFailure) Reason() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// ReasonOf returns the collaborator reason when err carries one, else err.Error().
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var cf *CollaboratorFailure
	if errors.As(err, &cf) {
		return cf.Reason()
	}
	return err.Error()
}

var (
	// ErrUnsupportedFileType marks a selected file that is not png or jpeg.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrConcurrentSessionMutation rejects a login or logout issued while
	// another one is still outstanding.
	ErrConcurrentSessionMutation = errors.New("concurrent session mutation")
)

// UnrecognizedMessageError is returned for outbound tags outside the known set.
type UnrecognizedMessageError struct {
	Tag string
}

func (e *UnrecognizedMessageError) Error() string {
	return fmt.Sprintf("unrecognized message type %q", e.Tag)
}
