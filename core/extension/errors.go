package extension

import (
	"errors"
	"fmt"
)

// Failure classes for a single extension. Every per-id error returned by the
// core wraps exactly one of these so callers can branch with errors.Is.
var (
	ErrAcquisition   = errors.New("acquisition failed")
	ErrArchive       = errors.New("archive invalid")
	ErrSignature     = errors.New("signature invalid")
	ErrManifest      = errors.New("manifest invalid")
	ErrPathTraversal = errors.New("path escapes sandbox")
)

// Error attaches the failing operation to one of the failure classes.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	default:
		return fmt.Sprint(e.Kind)
	}
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap classifies err as kind. A nil err still produces a classified error.
func Wrap(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf classifies a formatted message as kind.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns a short label for the failure class of err, used as a log
// field and metrics label.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPathTraversal):
		return "path_traversal"
	case errors.Is(err, ErrSignature):
		return "signature"
	case errors.Is(err, ErrManifest):
		return "manifest"
	case errors.Is(err, ErrArchive):
		return "archive"
	case errors.Is(err, ErrAcquisition):
		return "acquisition"
	default:
		return "internal"
	}
}
