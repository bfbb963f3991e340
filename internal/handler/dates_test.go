package handler

import (
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
)

func TestParseDateRange(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+3", 3*60*60)
	str := func(v string) *string { return &v }

	tests := []struct {
		name     string
		from, to *string
		wantNil  bool
		wantFrom time.Time
		wantTo   time.Time
		wantErr  bool
	}{
		{name: "both empty", wantNil: true},
		{name: "blank strings", from: str(" "), to: str(""), wantNil: true},
		{
			name:     "days in location",
			from:     str("2026-03-01"),
			to:       str("2026-03-01"),
			wantFrom: time.Date(2026, 3, 1, 0, 0, 0, 0, loc),
			wantTo:   time.Date(2026, 3, 2, 0, 0, 0, 0, loc).Add(-time.Nanosecond),
		},
		{
			name:     "rfc3339 kept exact",
			from:     str("2026-03-01T08:00:00Z"),
			to:       str("2026-03-01T18:00:00Z"),
			wantFrom: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
		},
		{name: "only from", from: str("2026-03-01"), wantErr: true},
		{name: "inverted", from: str("2026-03-02"), to: str("2026-03-01"), wantErr: true},
		{name: "garbage", from: str("yesterday"), to: str("2026-03-01"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseDateRange(tt.from, tt.to, loc)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("parseDateRange() error = %v, want validation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDateRange() error = %v", err)
			}
			if tt.wantNil {
				if got != nil {
					t.Fatalf("parseDateRange() = %+v, want nil", got)
				}
				return
			}
			if !got.From.Equal(tt.wantFrom) || !got.To.Equal(tt.wantTo) {
				t.Fatalf("parseDateRange() = %s..%s, want %s..%s", got.From, got.To, tt.wantFrom, tt.wantTo)
			}
		})
	}
}
