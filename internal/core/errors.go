// Error taxonomy shared by the pipeline and the presentation layer
package core

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure so callers can decide how to surface it
type Kind int

const (
	KindUnknown Kind = iota
	TransientIO
	ModelFailure
	FileIntegrity
	StateInvariant
	Configuration
)

func (k Kind) String() string {
	switch k {
	case TransientIO:
		return "transient_io"
	case ModelFailure:
		return "model_failure"
	case FileIntegrity:
		return "file_integrity"
	case StateInvariant:
		return "state_invariant"
	case Configuration:
		return "configuration"
	default:
		return "unknown"
	}
}

// ErrEmptyGallery is returned by operations that need a current record
var ErrEmptyGallery = errors.New("gallery is empty")

// ErrRecordGone is returned when an action targets a record that was removed
// after the action was prepared
var ErrRecordGone = errors.New("image is no longer in the gallery")

// Error wraps a failure with its kind and the operation that produced it
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err as a classified pipeline error. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind && existing.Op == op {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the outermost classification of err
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrEmptyGallery) || errors.Is(err, ErrRecordGone) {
		return StateInvariant
	}
	return KindUnknown
}

// Notification is the user-facing rendering of an error: a short message
// shown by default and the raw error text available on demand.
type Notification struct {
	Title   string
	Message string
	Detail  string
}

// Operation names used when wrapping worker failures
const (
	OpGenerate   = "generate"
	OpUpscale    = "upscale"
	OpBackup     = "backup"
	OpDelete     = "delete"
	OpEditPrompt = "edit prompt"
	OpSave       = "save"
)

// Notify builds the notification shown for err. Failures of a whole worker
// run get the message of that run, everything else a message per kind.
func Notify(err error) Notification {
	n := Notification{
		Title:   "Oops. Error occurred",
		Message: "Something went wrong",
	}
	if err == nil {
		return n
	}
	n.Detail = err.Error()

	var e *Error
	if errors.As(err, &e) && e.Kind != Configuration {
		switch e.Op {
		case OpGenerate:
			n.Message = "Do not panic and try different prompt"
			return n
		case OpUpscale:
			n.Message = "Upscaling failed!"
			return n
		case OpBackup:
			n.Message = "Backup failed"
			return n
		}
	}

	switch KindOf(err) {
	case TransientIO:
		n.Message = "File operation failed"
	case ModelFailure:
		n.Message = "Model failed to process the image"
	case FileIntegrity:
		n.Message = "Image file could not be read"
	case StateInvariant:
		n.Message = "No image selected"
		if errors.Is(err, ErrRecordGone) {
			n.Message = "The image is no longer in the gallery"
		}
	case Configuration:
		n.Message = "Configuration error, check your .env file"
	}
	return n
}
