package report

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carverify/carverify/internal/model"
)

func TestClassifySeverity(t *testing.T) {
	lender := []model.SecurityInterest{{RegisteredBy: "Acme Finance"}}
	tests := []struct {
		name   string
		report model.NormalizedReport
		status model.SeverityStatus
		prefix string
	}{
		{"clear", model.NormalizedReport{}, model.SeverityClear, "No security interests"},
		{"finance only", model.NormalizedReport{SecurityInterests: lender, HasFinance: true}, model.SeverityWarning, "This vehicle has a security interest registered by Acme Finance"},
		{"write-off only", model.NormalizedReport{WriteOff: model.WriteOff{IsWrittenOff: true, Category: "Repairable"}}, model.SeverityWarning, "This vehicle is recorded as written off (Repairable)"},
		{"finance and write-off", model.NormalizedReport{SecurityInterests: lender, HasFinance: true, WriteOff: model.WriteOff{IsWrittenOff: true}}, model.SeverityAlert, "This vehicle has finance owing and is recorded as written off"},
		{"stolen with finance", model.NormalizedReport{Stolen: true, SecurityInterests: lender, HasFinance: true}, model.SeverityAlert, "This vehicle is recorded as stolen"},
		{"stolen with everything", model.NormalizedReport{Stolen: true, SecurityInterests: lender, HasFinance: true, WriteOff: model.WriteOff{IsWrittenOff: true}}, model.SeverityAlert, "This vehicle is recorded as stolen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifySeverity(tt.report)
			assert.Equal(t, tt.status, got.Status)
			assert.Contains(t, got.Message, tt.prefix)
		})
	}
}

func TestClassifySeverityCountsInterests(t *testing.T) {
	r := model.NormalizedReport{SecurityInterests: []model.SecurityInterest{{RegisteredBy: "A"}, {RegisteredBy: "B"}}}
	assert.Equal(t, "This vehicle has 2 security interests, the first registered by A.", ClassifySeverity(r).Message)

	r = model.NormalizedReport{SecurityInterests: []model.SecurityInterest{{}}}
	assert.Equal(t, "This vehicle has a registered security interest.", ClassifySeverity(r).Message)
}
