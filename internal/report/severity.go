package report

import (
	"fmt"

	"github.com/carverify/carverify/internal/model"
)

// ClassifySeverity gives the headline verdict for r. A stolen vehicle is
// always an alert, whatever else is on record.
func ClassifySeverity(r model.NormalizedReport) model.Severity {
	finance := len(r.SecurityInterests) > 0
	writtenOff := r.WriteOff.IsWrittenOff

	switch {
	case r.Stolen:
		return model.Severity{
			Status:  model.SeverityAlert,
			Message: "This vehicle is recorded as stolen. Do not proceed with the purchase and contact police.",
		}
	case finance && writtenOff:
		return model.Severity{
			Status:  model.SeverityAlert,
			Message: "This vehicle has finance owing and is recorded as written off.",
		}
	case finance:
		return model.Severity{
			Status:  model.SeverityWarning,
			Message: financeMessage(r),
		}
	case writtenOff:
		msg := "This vehicle is recorded as written off."
		if r.WriteOff.Category != "" {
			msg = fmt.Sprintf("This vehicle is recorded as written off (%s).", r.WriteOff.Category)
		}
		return model.Severity{Status: model.SeverityWarning, Message: msg}
	default:
		return model.Severity{
			Status:  model.SeverityClear,
			Message: "No security interests, stolen records or write-off records were found for this vehicle.",
		}
	}
}

func financeMessage(r model.NormalizedReport) string {
	n := len(r.SecurityInterests)
	primary := r.PrimaryInterest()
	if primary != nil && primary.RegisteredBy != "" {
		if n == 1 {
			return fmt.Sprintf("This vehicle has a security interest registered by %s.", primary.RegisteredBy)
		}
		return fmt.Sprintf("This vehicle has %d security interests, the first registered by %s.", n, primary.RegisteredBy)
	}
	if n == 1 {
		return "This vehicle has a registered security interest."
	}
	return fmt.Sprintf("This vehicle has %d registered security interests.", n)
}
