// Package service turns a paid order into a delivered report.
package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/carverify/carverify/internal/mail"
	"github.com/carverify/carverify/internal/metrics"
	"github.com/carverify/carverify/internal/model"
	"github.com/carverify/carverify/internal/ppsr"
	"github.com/carverify/carverify/internal/queue"
	"github.com/carverify/carverify/internal/repository"
	"github.com/carverify/carverify/internal/storage"
	"github.com/carverify/carverify/internal/utils"
	"github.com/carverify/carverify/internal/valuation"
	"github.com/carverify/carverify/internal/workflow"
	"github.com/carverify/carverify/pkg/log"
)

// ErrNoCertificate is returned when delivery is asked for before the
// certificate has been acquired.
var ErrNoCertificate = errors.New("report has no certificate yet")

// storeTimeout bounds each report write made once acquisition has run.
const storeTimeout = 5 * time.Second

// storeCtx detaches ctx from its deadline so the outcome of an acquisition
// is recorded even when the caller's budget ran out during it.
func storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}

// ReportStore is the persistence the fulfiller needs.
type ReportStore interface {
	GetByOrderID(ctx context.Context, orderID string) (*model.Report, error)
	SaveCertificate(ctx context.Context, orderID string, c repository.CertificateRecord) error
	RecordFailure(ctx context.Context, orderID, code string) error
	MarkDelivered(ctx context.Context, orderID string, at time.Time) error
	MarkCompleted(ctx context.Context, orderID string) error
}

// Acquirer produces a certificate for a vehicle.
type Acquirer interface {
	Acquire(ctx context.Context, id model.VehicleIdentifier) (*workflow.Acquisition, error)
}

// Estimator prices a vehicle.
type Estimator interface {
	Estimate(ctx context.Context, specs model.VehicleSpecs) (*valuation.Valuation, error)
}

// Sender sends one email and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg mail.Message) (string, error)
}

// Dispatcher hands a ready report to the delivery consumer.
type Dispatcher interface {
	PublishReportReady(ctx context.Context, ev queue.ReportReadyEvent) error
}

// StoredReport is what gets persisted in reports.normalized_json.
type StoredReport struct {
	Report    model.NormalizedReport `json:"report"`
	Severity  model.Severity         `json:"severity"`
	Valuation *valuation.Valuation   `json:"valuation,omitempty"`
}

// DecodeStored reads the stored report of rep, or nil when there is none.
func DecodeStored(rep *model.Report) (*StoredReport, error) {
	if rep.NormalizedJSON == nil || *rep.NormalizedJSON == "" {
		return nil, nil
	}
	var s StoredReport
	if err := json.Unmarshal([]byte(*rep.NormalizedJSON), &s); err != nil {
		return nil, fmt.Errorf("decode stored report: %w", err)
	}
	return &s, nil
}

// Options wire a Fulfiller. Store and Acquirer are required; the rest are
// optional and their features are skipped when nil.
type Options struct {
	Store      ReportStore
	Acquirer   Acquirer
	Valuer     Estimator
	Archive    storage.Archive
	Mailer     Sender
	Dispatcher Dispatcher

	From          string
	ReplyTo       string
	LinkSecret    string
	LinkTTL       time.Duration
	PublicBaseURL string

	Logger log.Logger
	Now    func() time.Time
}

// Fulfiller acquires, stores and delivers purchased reports.
type Fulfiller struct {
	opts Options
	log  log.Logger
	now  func() time.Time
}

// NewFulfiller returns a Fulfiller for opts.
func NewFulfiller(opts Options) *Fulfiller {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = 7 * 24 * time.Hour
	}
	return &Fulfiller{opts: opts, log: logger.WithName("fulfiller"), now: now}
}

// Fulfil runs the paid order through acquisition and hands it to delivery.
// A completed order is returned unchanged. On failure the order stays
// pending with a sanitized error code and the error is returned.
func (f *Fulfiller) Fulfil(ctx context.Context, orderID string) (*model.Report, error) {
	rep, err := f.opts.Store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rep.Status == model.StatusCompleted {
		return rep, nil
	}
	logger := f.log.WithValues("order_id", orderID)

	if !rep.HasCertificate() {
		if err := f.acquire(ctx, rep, logger); err != nil {
			code := FailureCode(err)
			sctx, cancel := storeCtx(ctx)
			recErr := f.opts.Store.RecordFailure(sctx, orderID, code)
			cancel()
			if recErr != nil {
				logger.Error(recErr, "record failure")
			}
			logger.Warn("fulfilment failed", "code", code)
			return nil, err
		}
	}

	if err := f.dispatch(ctx, orderID, logger); err != nil {
		return nil, err
	}
	sctx, cancel := storeCtx(ctx)
	defer cancel()
	return f.opts.Store.GetByOrderID(sctx, orderID)
}

func (f *Fulfiller) acquire(ctx context.Context, rep *model.Report, logger log.Logger) error {
	acq, err := f.opts.Acquirer.Acquire(ctx, rep.Identifier())
	if err != nil {
		return err
	}

	stored := StoredReport{Report: acq.Report, Severity: acq.Severity}
	if rep.Type == model.ReportPremium && f.opts.Valuer != nil {
		v, err := f.opts.Valuer.Estimate(ctx, acq.Report.Vehicle)
		if err != nil {
			logger.Warn("valuation skipped", "err", err)
		} else {
			stored.Valuation = v
		}
	}

	if f.opts.Archive != nil {
		if pdf, err := acq.Certificate.PDF(); err != nil {
			logger.Warn("archive skipped", "err", err)
		} else if err := f.opts.Archive.Put(ctx, storage.CertificateKey(rep.OrderID, acq.Certificate.Filename), pdf); err != nil {
			logger.Warn("archive failed", "err", err)
		}
	}

	body, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode stored report: %w", err)
	}
	sctx, cancel := storeCtx(ctx)
	defer cancel()
	return f.opts.Store.SaveCertificate(sctx, rep.OrderID, repository.CertificateRecord{
		SearchNumber:      acq.Search.SearchNumber,
		CertificateNumber: acq.Certificate.Number,
		Filename:          acq.Certificate.Filename,
		PDFBase64:         acq.Certificate.PDFBase64,
		NormalizedJSON:    string(body),
	})
}

// dispatch publishes the ready event, delivering directly when there is
// no broker or publishing fails.
func (f *Fulfiller) dispatch(ctx context.Context, orderID string, logger log.Logger) error {
	if f.opts.Dispatcher != nil {
		err := f.opts.Dispatcher.PublishReportReady(ctx, queue.ReportReadyEvent{OrderID: orderID, ReadyAt: f.now().UTC()})
		if err == nil {
			return nil
		}
		logger.Warn("publish failed, delivering directly", "err", err)
	}
	return f.Deliver(ctx, orderID)
}

// Deliver emails the report unless it was already sent, then completes the
// order. A failed email is logged and does not fail delivery.
func (f *Fulfiller) Deliver(ctx context.Context, orderID string) error {
	return f.deliver(ctx, orderID, false)
}

// Resend emails the report again even if it was already delivered. Unlike
// Deliver it returns the send error.
func (f *Fulfiller) Resend(ctx context.Context, orderID string) error {
	return f.deliver(ctx, orderID, true)
}

func (f *Fulfiller) deliver(ctx context.Context, orderID string, force bool) error {
	sctx, cancel := storeCtx(ctx)
	rep, err := f.opts.Store.GetByOrderID(sctx, orderID)
	cancel()
	if err != nil {
		return err
	}
	if !rep.HasCertificate() {
		return ErrNoCertificate
	}
	logger := f.log.WithValues("order_id", orderID)

	if rep.DeliveredAt == nil || force {
		switch err := f.send(ctx, rep); {
		case err == nil:
			metrics.Deliveries.WithLabelValues("sent").Inc()
			sctx, cancel := storeCtx(ctx)
			err := f.opts.Store.MarkDelivered(sctx, orderID, f.now().UTC())
			cancel()
			if err != nil {
				return err
			}
		case errors.Is(err, mail.ErrDisabled):
			metrics.Deliveries.WithLabelValues("skipped").Inc()
			logger.Info("mail disabled, report not emailed")
			if force {
				return err
			}
		default:
			metrics.Deliveries.WithLabelValues("failed").Inc()
			logger.Error(err, "report email failed")
			if force {
				return err
			}
		}
	}

	if rep.Status == model.StatusCompleted {
		return nil
	}
	sctx, cancel = storeCtx(ctx)
	defer cancel()
	return f.opts.Store.MarkCompleted(sctx, orderID)
}

func (f *Fulfiller) send(ctx context.Context, rep *model.Report) error {
	if f.opts.Mailer == nil {
		return mail.ErrDisabled
	}
	stored, err := DecodeStored(rep)
	if err != nil {
		return err
	}
	if stored == nil {
		stored = &StoredReport{}
	}

	link, err := f.DownloadURL(rep.OrderID)
	if err != nil {
		return err
	}
	subject, html, err := mail.RenderReportEmail(mail.ReportPayload{
		OrderID:     rep.OrderID,
		Report:      stored.Report,
		Severity:    stored.Severity,
		Valuation:   stored.Valuation,
		DownloadURL: link,
	})
	if err != nil {
		return err
	}

	id, err := f.opts.Mailer.Send(ctx, mail.Message{
		From:        f.opts.From,
		To:          []string{rep.Email},
		ReplyTo:     f.opts.ReplyTo,
		Subject:     subject,
		HTML:        html,
		Attachments: []mail.Attachment{{Filename: certificateName(rep), Content: *rep.PDFBase64}},
	})
	if err != nil {
		return err
	}
	f.log.Info("report emailed", "order_id", rep.OrderID, "message_id", id)
	return nil
}

// DownloadURL is the signed certificate link for orderID, or "" when links
// are not configured.
func (f *Fulfiller) DownloadURL(orderID string) (string, error) {
	if f.opts.LinkSecret == "" || f.opts.PublicBaseURL == "" {
		return "", nil
	}
	tok, err := utils.NewDownloadToken(f.opts.LinkSecret, orderID, f.opts.LinkTTL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/v1/reports/%s/certificate?token=%s",
		strings.TrimRight(f.opts.PublicBaseURL, "/"), url.PathEscape(orderID), url.QueryEscape(tok)), nil
}

// FailureCode is the value persisted in reports.last_error for err.
func FailureCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, workflow.ErrServiceUnavailable):
		return "maintenance_window"
	case errors.Is(err, model.ErrInvalidVIN), errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrMissingPlate), errors.Is(err, model.ErrMissingIdentifier):
		return "invalid_identifier"
	case errors.Is(err, workflow.ErrTimeout):
		return "timeout:" + ppsr.ErrorCode(err)
	}
	return ppsr.ErrorCode(err)
}

// Certificate returns the stored PDF and its filename.
func Certificate(rep *model.Report) ([]byte, string, error) {
	if !rep.HasCertificate() {
		return nil, "", ErrNoCertificate
	}
	pdf, err := base64.StdEncoding.DecodeString(*rep.PDFBase64)
	if err != nil {
		return nil, "", fmt.Errorf("decode stored certificate: %w", err)
	}
	return pdf, certificateName(rep), nil
}

func certificateName(rep *model.Report) string {
	if rep.CertificateFilename != nil && *rep.CertificateFilename != "" {
		return *rep.CertificateFilename
	}
	return "certificate.pdf"
}
