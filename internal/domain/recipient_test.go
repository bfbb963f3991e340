package domain

import (
	"errors"
	"testing"
)

func TestParseEmailList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{
			name:  "semicolon and comma separated",
			input: "Ops@Example.com; finance@example.com,  logistics@example.org ",
			want:  []string{"ops@example.com", "finance@example.com", "logistics@example.org"},
		},
		{
			name:  "duplicates collapse case-insensitively",
			input: "a@example.com;A@EXAMPLE.COM;b@example.com",
			want:  []string{"a@example.com", "b@example.com"},
		},
		{
			name:  "empty segments ignored",
			input: ";;a@example.com,,",
			want:  []string{"a@example.com"},
		},
		{name: "malformed address", input: "a@example.com;not-an-email", wantErr: true},
		{name: "blank input", input: " ; , ", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseEmailList(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseEmailList() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEmailList() unexpected error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseEmailList() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("ParseEmailList()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSettingsUpdateApply(t *testing.T) {
	t.Parallel()

	s := Settings{ID: SettingsKey, IsEnabled: true, SelectedRecipientIDs: []string{"r1"}}
	enabled := false
	ids := []string{"r2", "r2", "r3"}
	actor := "u-1"

	SettingsUpdate{IsEnabled: &enabled, SelectedRecipientIDs: &ids, UpdatedBy: &actor}.Apply(&s)

	if s.IsEnabled {
		t.Fatal("IsEnabled should be false after update")
	}
	if len(s.SelectedRecipientIDs) != 2 || s.SelectedRecipientIDs[0] != "r2" {
		t.Fatalf("SelectedRecipientIDs = %v, want [r2 r3]", s.SelectedRecipientIDs)
	}
	if s.IncludeCertificates {
		t.Fatal("IncludeCertificates should be untouched")
	}
	if s.UpdatedBy == nil || *s.UpdatedBy != actor {
		t.Fatalf("UpdatedBy = %v, want %s", s.UpdatedBy, actor)
	}
}
