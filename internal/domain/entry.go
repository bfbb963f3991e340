package domain

import "time"

// FuelEntry is a single fuel delivery record. The engine only reads entries.
type FuelEntry struct {
	ID              string
	DeliveredAt     time.Time
	DeliveryNumber  string
	SupplierName    string
	TransporterName string
	VehiclePlate    string
	ProductType     string
	Liters          float64
	CertificateKeys []string
	CreatedAt       time.Time
}
