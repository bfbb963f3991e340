package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Recipient is an email address that can receive auto-send packages.
type Recipient struct {
	ID        string
	Email     string
	Name      *string
	IsActive  bool
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

var emailPattern = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail reports whether a normalized address has a plausible shape.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ParseEmailList splits raw input on ';' and ',', normalizes every address and drops duplicates
// while keeping first-seen order. Any malformed address fails the whole list.
func ParseEmailList(raw string) ([]string, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == ','
	})

	seen := make(map[string]struct{}, len(fields))
	emails := make([]string, 0, len(fields))
	invalid := make([]string, 0)
	for _, field := range fields {
		email := NormalizeEmail(field)
		if email == "" {
			continue
		}
		if !IsValidEmail(email) {
			invalid = append(invalid, email)
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		emails = append(emails, email)
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: invalid email address(es): %s", ErrValidation, strings.Join(invalid, ", "))
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("%w: at least one email address is required", ErrValidation)
	}

	return emails, nil
}
