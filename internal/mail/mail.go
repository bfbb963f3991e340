// Package mail sends composed delivery packages to recipients.
package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
)

const ContentTypePDF = "application/pdf"

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Message struct {
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

func (m Message) Validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", domain.ErrValidation)
	}
	for _, to := range m.To {
		if !domain.IsValidEmail(domain.NormalizeEmail(to)) {
			return fmt.Errorf("%w: invalid recipient %q", domain.ErrValidation, to)
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}
	return nil
}

// Sender delivers one message. Implementations must not retry internally.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Sender address used by every driver.
type From struct {
	Address string
	Name    string
}

func (f From) String() string {
	if f.Name == "" {
		return f.Address
	}
	return fmt.Sprintf("%s <%s>", f.Name, f.Address)
}

// DispatchError wraps a transport failure with the driver and recipients involved.
type DispatchError struct {
	Driver     string
	Recipients []string
	Err        error
}

func (e *DispatchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s dispatch to %s failed", e.Driver, strings.Join(e.Recipients, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DispatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
