package document

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
)

// ErrObjectNotFound is returned by object stores for missing keys.
var ErrObjectNotFound = fmt.Errorf("%w: object", domain.ErrNotFound)

// Stage names the composition step that failed.
type Stage string

const (
	StageLoad        Stage = "load"
	StageRender      Stage = "render"
	StageCertificate Stage = "certificate"
	StageMerge       Stage = "merge"
)

// ComposeError reports which entry and step broke a composition.
type ComposeError struct {
	Stage   Stage
	EntryID string
	Err     error
}

func (e *ComposeError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("compose %s failed", e.Stage)
	if e.EntryID != "" {
		msg += fmt.Sprintf(" for entry %s", e.EntryID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ComposeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RenderError classifies render-service failures as transient/permanent.
type RenderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "render error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *RenderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a render failure might succeed on a later run.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return renderErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
