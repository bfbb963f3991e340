package repository

import (
	"time"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/lib/pq"
)

// BatchModel is the persistence model for auto_send_batches.
type BatchModel struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	Sequence    int64          `gorm:"not null;uniqueIndex"`
	DateFrom    time.Time      `gorm:"type:timestamptz;not null"`
	DateTo      time.Time      `gorm:"type:timestamptz;not null"`
	Trigger     domain.Trigger `gorm:"type:varchar(20);not null"`
	InitiatedBy *string        `gorm:"type:varchar(255)"`
	CreatedAt   time.Time
}

func (BatchModel) TableName() string {
	return "auto_send_batches"
}

// BatchItemModel is the persistence model for auto_send_batch_items.
type BatchItemModel struct {
	ID                  string            `gorm:"type:uuid;primaryKey"`
	BatchID             string            `gorm:"type:uuid;not null"`
	RecipientID         string            `gorm:"type:uuid;not null"`
	RecipientEmail      string            `gorm:"type:varchar(320);not null"`
	Sequence            int               `gorm:"not null"`
	EntryIDs            pq.StringArray    `gorm:"type:text[];not null"`
	IncludeCertificates bool              `gorm:"not null;default:false"`
	Status              domain.ItemStatus `gorm:"type:varchar(20);not null"`
	Error               *string           `gorm:"type:text"`
	SentAt              *time.Time        `gorm:"type:timestamptz"`
	ArtifactKey         *string           `gorm:"type:varchar(512)"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (BatchItemModel) TableName() string {
	return "auto_send_batch_items"
}

// RecipientModel is the persistence model for auto_send_recipients.
type RecipientModel struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	Email     string  `gorm:"type:varchar(320);not null;uniqueIndex"`
	Name      *string `gorm:"type:varchar(255)"`
	IsActive  bool    `gorm:"not null;default:true"`
	CreatedBy string  `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (RecipientModel) TableName() string {
	return "auto_send_recipients"
}

// SettingsModel is the persistence model for the auto_send_settings singleton.
type SettingsModel struct {
	ID                   string         `gorm:"type:varchar(32);primaryKey"`
	IsEnabled            bool           `gorm:"not null;default:false"`
	SelectedRecipientIDs pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	IncludeCertificates  bool           `gorm:"not null;default:false"`
	UpdatedBy            *string        `gorm:"type:varchar(255)"`
	UpdatedAt            time.Time
}

func (SettingsModel) TableName() string {
	return "auto_send_settings"
}

// FuelEntryModel maps the fuel_entries table owned by the delivery registry.
type FuelEntryModel struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	DeliveredAt     time.Time      `gorm:"type:timestamptz;not null"`
	DeliveryNumber  string         `gorm:"type:varchar(64);not null"`
	SupplierName    string         `gorm:"type:varchar(255);not null"`
	TransporterName string         `gorm:"type:varchar(255)"`
	VehiclePlate    string         `gorm:"type:varchar(32)"`
	ProductType     string         `gorm:"type:varchar(64);not null"`
	Liters          float64        `gorm:"type:numeric(12,2);not null"`
	CertificateKeys pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	CreatedAt       time.Time
}

func (FuelEntryModel) TableName() string {
	return "fuel_entries"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:          b.ID,
		Sequence:    b.Sequence,
		DateFrom:    b.DateFrom,
		DateTo:      b.DateTo,
		Trigger:     b.Trigger,
		InitiatedBy: b.InitiatedBy,
		CreatedAt:   b.CreatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:          m.ID,
		Sequence:    m.Sequence,
		DateFrom:    m.DateFrom,
		DateTo:      m.DateTo,
		Trigger:     m.Trigger,
		InitiatedBy: m.InitiatedBy,
		CreatedAt:   m.CreatedAt,
	}
}

func batchItemModelFromDomain(i *domain.BatchItem) *BatchItemModel {
	if i == nil {
		return nil
	}

	return &BatchItemModel{
		ID:                  i.ID,
		BatchID:             i.BatchID,
		RecipientID:         i.RecipientID,
		RecipientEmail:      i.RecipientEmail,
		Sequence:            i.Sequence,
		EntryIDs:            pq.StringArray(append([]string(nil), i.EntryIDs...)),
		IncludeCertificates: i.IncludeCertificates,
		Status:              i.Status,
		Error:               i.Error,
		SentAt:              i.SentAt,
		ArtifactKey:         i.ArtifactKey,
		CreatedAt:           i.CreatedAt,
		UpdatedAt:           i.UpdatedAt,
	}
}

func batchItemModelToDomain(m *BatchItemModel) *domain.BatchItem {
	if m == nil {
		return nil
	}

	return &domain.BatchItem{
		ID:                  m.ID,
		BatchID:             m.BatchID,
		RecipientID:         m.RecipientID,
		RecipientEmail:      m.RecipientEmail,
		Sequence:            m.Sequence,
		EntryIDs:            append([]string(nil), m.EntryIDs...),
		IncludeCertificates: m.IncludeCertificates,
		Status:              m.Status,
		Error:               m.Error,
		SentAt:              m.SentAt,
		ArtifactKey:         m.ArtifactKey,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func recipientModelFromDomain(r *domain.Recipient) *RecipientModel {
	if r == nil {
		return nil
	}

	return &RecipientModel{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		IsActive:  r.IsActive,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		IsActive:  m.IsActive,
		CreatedBy: m.CreatedBy,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func settingsModelFromDomain(s *domain.Settings) *SettingsModel {
	if s == nil {
		return nil
	}

	return &SettingsModel{
		ID:                   s.ID,
		IsEnabled:            s.IsEnabled,
		SelectedRecipientIDs: pq.StringArray(append([]string{}, s.SelectedRecipientIDs...)),
		IncludeCertificates:  s.IncludeCertificates,
		UpdatedBy:            s.UpdatedBy,
		UpdatedAt:            s.UpdatedAt,
	}
}

func settingsModelToDomain(m *SettingsModel) *domain.Settings {
	if m == nil {
		return nil
	}

	return &domain.Settings{
		ID:                   m.ID,
		IsEnabled:            m.IsEnabled,
		SelectedRecipientIDs: append([]string{}, m.SelectedRecipientIDs...),
		IncludeCertificates:  m.IncludeCertificates,
		UpdatedBy:            m.UpdatedBy,
		UpdatedAt:            m.UpdatedAt,
	}
}

func fuelEntryModelToDomain(m *FuelEntryModel) *domain.FuelEntry {
	if m == nil {
		return nil
	}

	return &domain.FuelEntry{
		ID:              m.ID,
		DeliveredAt:     m.DeliveredAt,
		DeliveryNumber:  m.DeliveryNumber,
		SupplierName:    m.SupplierName,
		TransporterName: m.TransporterName,
		VehiclePlate:    m.VehiclePlate,
		ProductType:     m.ProductType,
		Liters:          m.Liters,
		CertificateKeys: append([]string(nil), m.CertificateKeys...),
		CreatedAt:       m.CreatedAt,
	}
}
