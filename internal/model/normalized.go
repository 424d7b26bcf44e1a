package model

import "time"

// VehicleSpecs are the descriptive vehicle fields found in a search result.
// Every field is optional because the gateway populates them inconsistently.
type VehicleSpecs struct {
	VIN                string `json:"vin,omitempty"`
	Make               string `json:"make,omitempty"`
	Model              string `json:"model,omitempty"`
	Year               int    `json:"year,omitempty"`
	BodyType           string `json:"bodyType,omitempty"`
	FuelType           string `json:"fuelType,omitempty"`
	Colour             string `json:"colour,omitempty"`
	EngineNumber       string `json:"engineNumber,omitempty"`
	Transmission       string `json:"transmission,omitempty"`
	ComplianceDate     string `json:"complianceDate,omitempty"`
	Plate              string `json:"plate,omitempty"`
	State              string `json:"state,omitempty"`
	RegistrationExpiry string `json:"registrationExpiry,omitempty"`
}

// SecurityInterest is one PPSR registration over the vehicle.
type SecurityInterest struct {
	RegisteredBy       string     `json:"registeredBy"`
	Amount             *float64   `json:"amount,omitempty"`
	Date               *time.Time `json:"date,omitempty"`
	Type               string     `json:"type,omitempty"`
	RegistrationNumber string     `json:"registrationNumber,omitempty"`
}

// WriteOff records an insurance total-loss declaration.
type WriteOff struct {
	IsWrittenOff bool       `json:"isWrittenOff"`
	Category     string     `json:"category,omitempty"`
	Date         *time.Time `json:"date,omitempty"`
	State        string     `json:"state,omitempty"`
}

// NormalizedReport is the stable shape handed to email rendering and stored
// alongside the certificate. HasFinance always equals
// len(SecurityInterests) > 0.
type NormalizedReport struct {
	Identifier        VehicleIdentifier  `json:"identifier"`
	SearchNumber      string             `json:"searchNumber"`
	CertificateNumber string             `json:"certificateNumber"`
	SearchDate        *time.Time         `json:"searchDate,omitempty"`
	Vehicle           VehicleSpecs       `json:"vehicle"`
	SecurityInterests []SecurityInterest `json:"securityInterests"`
	HasFinance        bool               `json:"hasFinance"`
	Stolen            bool               `json:"stolen"`
	WriteOff          WriteOff           `json:"writeOff"`
}

// PrimaryInterest is the encumbrance shown in summaries, or nil.
func (r NormalizedReport) PrimaryInterest() *SecurityInterest {
	if len(r.SecurityInterests) == 0 {
		return nil
	}
	return &r.SecurityInterests[0]
}

// SeverityStatus is the headline classification of a report.
type SeverityStatus string

const (
	SeverityClear   SeverityStatus = "clear"
	SeverityWarning SeverityStatus = "warning"
	SeverityAlert   SeverityStatus = "alert"
)

// Severity is the customer-facing verdict for a report.
type Severity struct {
	Status  SeverityStatus `json:"status"`
	Message string         `json:"message"`
}
