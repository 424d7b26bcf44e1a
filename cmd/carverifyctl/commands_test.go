package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverify/carverify/internal/model"
)

func TestMaintenanceCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := maintenanceCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--at", "2026-03-04T10:00:00Z"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "BLOCKED:")
	assert.Contains(t, out.String(), "true")
	assert.Contains(t, out.String(), "3h0m0s")

	out.Reset()
	cmd = maintenanceCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--at", "2026-03-05T10:00:00Z"})
	require.NoError(t, cmd.Execute())
	assert.NotContains(t, out.String(), "WINDOW END")

	cmd = maintenanceCmd()
	cmd.SetArgs([]string{"--at", "yesterday"})
	assert.Error(t, cmd.Execute())
}

func TestVINCommandValidates(t *testing.T) {
	var out bytes.Buffer
	cmd := vinCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"6t1bf3fk50x078341"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "6T1BF3FK50X078341 is a valid VIN\n", out.String())

	cmd = vinCmd()
	cmd.SetArgs([]string{"SHORT"})
	assert.ErrorIs(t, cmd.Execute(), model.ErrInvalidVIN)
}

func TestPrintPending(t *testing.T) {
	var out bytes.Buffer
	printPending(&out, nil)
	assert.Equal(t, "no pending orders\n", out.String())

	out.Reset()
	code := "certificate_not_ready"
	printPending(&out, []model.Report{{
		OrderID: "cs_1", Plate: "ABC123", State: "QLD", Type: model.ReportStandard,
		Attempts: 2, LastError: &code, CreatedAt: time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC),
	}})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "LAST ERROR")
	assert.Contains(t, lines[1], "cs_1")
	assert.Contains(t, lines[1], "certificate_not_ready")
}

func TestOperatorKeyCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := operatorKeyCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--cost", "4"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "OPERATOR_KEY_HASH=$2a$04$")
}
