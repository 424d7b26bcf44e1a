package model

import "time"

// ReportStatus is the lifecycle state of a purchased report.
type ReportStatus string

const (
	StatusPending   ReportStatus = "pending"
	StatusCompleted ReportStatus = "completed"
)

// ReportType is the product the customer paid for.
type ReportType string

const (
	// ReportStandard is the PPSR certificate with stolen and write-off checks.
	ReportStandard ReportType = "standard"
	// ReportPremium adds a market valuation.
	ReportPremium ReportType = "premium"
)

// ParseReportType falls back to the standard report for unknown values.
func ParseReportType(s string) ReportType {
	if ReportType(s) == ReportPremium {
		return ReportPremium
	}
	return ReportStandard
}

// Report mirrors a row of the `reports` table. OrderID is the payment
// processor's checkout session id and is unique, so replayed webhooks cannot
// create a second purchase.
type Report struct {
	ID                  string       // reports.id
	OrderID             string       // reports.order_id (unique)
	Email               string       // reports.email
	VIN                 string       // reports.vin
	Plate               string       // reports.plate
	State               string       // reports.state
	Type                ReportType   // reports.report_type
	AmountCents         int64        // reports.amount_cents
	Currency            string       // reports.currency
	Status              ReportStatus // reports.status
	SearchNumber        *string      // reports.search_number (nullable)
	CertificateNumber   *string      // reports.certificate_number (nullable)
	CertificateFilename *string      // reports.certificate_filename (nullable)
	PDFBase64           *string      // reports.pdf_base64 (nullable)
	NormalizedJSON      *string      // reports.normalized_json (nullable)
	Attempts            int          // reports.attempts
	LastError           *string      // reports.last_error (nullable, never an upstream message)
	DeliveredAt         *time.Time   // reports.delivered_at (nullable)
	CreatedAt           time.Time    // reports.created_at
	UpdatedAt           time.Time    // reports.updated_at
}

// Identifier rebuilds the vehicle identifier stored on the row.
func (r *Report) Identifier() VehicleIdentifier {
	if r.VIN != "" {
		return VehicleIdentifier{Kind: KindVIN, VIN: r.VIN}
	}
	return VehicleIdentifier{Kind: KindRego, Plate: r.Plate, State: AUState(r.State)}
}

// HasCertificate reports whether the acquisition step already succeeded.
func (r *Report) HasCertificate() bool {
	return r.PDFBase64 != nil && *r.PDFBase64 != ""
}
