// Package workflow runs the certificate acquisition for one vehicle: the
// maintenance check, VIN resolution, search, certificate poll and
// normalisation, in that order.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carverify/carverify/internal/maintenance"
	"github.com/carverify/carverify/internal/metrics"
	"github.com/carverify/carverify/internal/model"
	"github.com/carverify/carverify/internal/ppsr"
	"github.com/carverify/carverify/internal/report"
	"github.com/carverify/carverify/pkg/log"
)

// DefaultTimeout bounds a whole acquisition.
const DefaultTimeout = 60 * time.Second

var (
	// ErrServiceUnavailable is returned inside the maintenance window. No
	// gateway call has been made when it is returned.
	ErrServiceUnavailable = errors.New("ppsr service unavailable")
	// ErrTimeout wraps the error of an acquisition that ran out of time.
	ErrTimeout = errors.New("acquisition timed out")
)

// Gateway is the part of the PPSR client the workflow drives.
type Gateway interface {
	LookupVIN(ctx context.Context, plate string, state model.AUState) (string, bool)
	SubmitSearch(ctx context.Context, req ppsr.SearchRequest) (*ppsr.SearchResult, error)
	SearchCertificateNumber(ctx context.Context, searchNumber string, policy ppsr.RetryPolicy) (*ppsr.SearchResult, error)
	DownloadCertificate(ctx context.Context, certificateNumber string, policy ppsr.RetryPolicy) (*ppsr.Certificate, error)
	RetryPolicy() ppsr.RetryPolicy
}

// Acquisition is everything a successful run produced.
type Acquisition struct {
	Identifier  model.VehicleIdentifier
	ResolvedVIN string
	Search      *ppsr.SearchResult
	Certificate *ppsr.Certificate
	Report      model.NormalizedReport
	Severity    model.Severity
}

// Acquirer runs acquisitions against a gateway.
type Acquirer struct {
	gateway Gateway
	guard   *maintenance.Guard
	timeout time.Duration
	log     log.Logger
}

// NewAcquirer builds an Acquirer. A zero timeout means DefaultTimeout and a
// nil guard uses the wall clock.
func NewAcquirer(gw Gateway, guard *maintenance.Guard, timeout time.Duration, logger log.Logger) *Acquirer {
	if guard == nil {
		guard = maintenance.NewGuard()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Acquirer{gateway: gw, guard: guard, timeout: timeout, log: logger.WithName("workflow")}
}

// Acquire produces the certificate and normalised report for id.
//
// Errors are ErrServiceUnavailable, *ppsr.AuthError, *ppsr.SearchError,
// *ppsr.CertificateNotReadyError or *ppsr.GatewayError, possibly wrapped
// with ErrTimeout. None of them carry credentials.
func (a *Acquirer) Acquire(ctx context.Context, id model.VehicleIdentifier) (*Acquisition, error) {
	start := time.Now()
	acq, err := a.acquire(ctx, id)
	metrics.WorkflowDuration.Observe(time.Since(start).Seconds())
	metrics.Workflows.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		a.log.Warn("acquisition failed", "identifier", id.String(), "code", ppsr.ErrorCode(err), "elapsed", time.Since(start))
		return nil, err
	}
	a.log.Info("acquisition complete",
		"identifier", id.String(),
		"search_number", acq.Search.SearchNumber,
		"certificate_number", acq.Certificate.Number,
		"severity", string(acq.Severity.Status),
		"elapsed", time.Since(start))
	return acq, nil
}

func (a *Acquirer) acquire(ctx context.Context, id model.VehicleIdentifier) (*Acquisition, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if st := a.guard.Status(); st.Blocked {
		return nil, fmt.Errorf("%w: maintenance window ends %s", ErrServiceUnavailable, st.WindowEnd.Format(time.RFC3339))
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	acq := &Acquisition{Identifier: id}
	req := ppsr.SearchRequest{VIN: id.VIN}
	if id.Kind == model.KindRego {
		req.Plate, req.State = id.Plate, id.State
		if vin, ok := a.gateway.LookupVIN(ctx, id.Plate, id.State); ok {
			req.VIN = vin
			acq.ResolvedVIN = vin
		}
	}

	policy := a.gateway.RetryPolicy()
	res, err := a.gateway.SubmitSearch(ctx, req)
	if err != nil {
		return nil, timedOut(ctx, err)
	}
	if res.CertificateNumber == "" {
		polled, err := a.gateway.SearchCertificateNumber(ctx, res.SearchNumber, policy)
		if err != nil {
			return nil, timedOut(ctx, err)
		}
		res = polled
	}
	acq.Search = res

	cert, err := a.gateway.DownloadCertificate(ctx, res.CertificateNumber, policy)
	if err != nil {
		return nil, timedOut(ctx, err)
	}
	acq.Certificate = cert

	acq.Report = report.Normalize(res.RawPayload, id, res.SearchNumber, res.CertificateNumber)
	if acq.Report.Vehicle.VIN == "" {
		acq.Report.Vehicle.VIN = acq.ResolvedVIN
	}
	acq.Severity = report.ClassifySeverity(acq.Report)
	return acq, nil
}

func timedOut(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// outcome is the metrics label for a finished run.
func outcome(err error) string {
	var (
		authErr     *ppsr.AuthError
		searchErr   *ppsr.SearchError
		notReadyErr *ppsr.CertificateNotReadyError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &authErr):
		return "auth_failed"
	case errors.As(err, &searchErr):
		return "search_rejected"
	case errors.As(err, &notReadyErr):
		return "not_ready"
	default:
		return "error"
	}
}
