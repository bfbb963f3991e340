package domain

import "time"

// SettingsKey is the fixed primary key of the auto-send settings row.
const SettingsKey = "default"

// Settings holds the singleton auto-send configuration.
type Settings struct {
	ID                   string
	IsEnabled            bool
	SelectedRecipientIDs []string
	IncludeCertificates  bool
	UpdatedBy            *string
	UpdatedAt            time.Time
}

// SettingsUpdate is a partial update; nil fields are left untouched.
type SettingsUpdate struct {
	IsEnabled            *bool
	SelectedRecipientIDs *[]string
	IncludeCertificates  *bool
	UpdatedBy            *string
}

// Apply copies the set fields of u onto s.
func (u SettingsUpdate) Apply(s *Settings) {
	if s == nil {
		return
	}
	if u.IsEnabled != nil {
		s.IsEnabled = *u.IsEnabled
	}
	if u.SelectedRecipientIDs != nil {
		s.SelectedRecipientIDs = DedupeIDs(*u.SelectedRecipientIDs)
	}
	if u.IncludeCertificates != nil {
		s.IncludeCertificates = *u.IncludeCertificates
	}
	if u.UpdatedBy != nil {
		s.UpdatedBy = u.UpdatedBy
	}
}
