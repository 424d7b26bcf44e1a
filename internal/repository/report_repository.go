package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carverify/carverify/internal/database"
	"github.com/carverify/carverify/internal/model"
)

const reportColumns = `id, order_id, email, vin, plate, state, report_type, amount_cents, currency, status,
search_number, certificate_number, certificate_filename, pdf_base64, normalized_json,
attempts, last_error, delivered_at, created_at, updated_at`

// ReportRepo stores purchased reports. All timestamps are UTC.
type ReportRepo struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewReportRepo returns a ReportRepo bound to db. driver selects the
// placeholder style.
func NewReportRepo(db *sql.DB, driver string) *ReportRepo {
	return &ReportRepo{db: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}
}

// CertificateRecord is what a successful acquisition stores on a report.
type CertificateRecord struct {
	SearchNumber      string
	CertificateNumber string
	Filename          string
	PDFBase64         string
	NormalizedJSON    string
}

func (r *ReportRepo) q(query string) string { return database.Rebind(r.driver, query) }

// Create inserts a pending report. It fills in ID and timestamps, and
// returns ErrDuplicate when the order id already exists.
func (r *ReportRepo) Create(ctx context.Context, rep *model.Report) error {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	now := r.now()
	rep.Status = model.StatusPending
	rep.CreatedAt, rep.UpdatedAt = now, now

	const ins = `INSERT INTO reports (id, order_id, email, vin, plate, state, report_type, amount_cents, currency, status, attempts, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.q(ins),
		rep.ID, rep.OrderID, rep.Email, nullable(rep.VIN), nullable(rep.Plate), nullable(rep.State),
		string(rep.Type), rep.AmountCents, rep.Currency, string(rep.Status), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetByOrderID returns the report for orderID or ErrNotFound.
func (r *ReportRepo) GetByOrderID(ctx context.Context, orderID string) (*model.Report, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+reportColumns+` FROM reports WHERE order_id = ?`), orderID)
	rep, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rep, err
}

// ListPending returns pending reports, oldest first.
func (r *ReportRepo) ListPending(ctx context.Context, limit int) ([]model.Report, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT `+reportColumns+` FROM reports WHERE status = ? ORDER BY created_at ASC LIMIT ?`),
		string(model.StatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

// SaveCertificate stores the acquisition result. The report stays pending
// until delivery has been attempted.
func (r *ReportRepo) SaveCertificate(ctx context.Context, orderID string, c CertificateRecord) error {
	const upd = `UPDATE reports SET search_number = ?, certificate_number = ?, certificate_filename = ?,
pdf_base64 = ?, normalized_json = ?, last_error = NULL, updated_at = ? WHERE order_id = ?`
	return r.exec(ctx, upd, c.SearchNumber, c.CertificateNumber, c.Filename, c.PDFBase64, c.NormalizedJSON, r.now(), orderID)
}

// RecordFailure counts a failed attempt. code must be a sanitised error
// code, never an upstream message.
func (r *ReportRepo) RecordFailure(ctx context.Context, orderID, code string) error {
	const upd = `UPDATE reports SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE order_id = ?`
	return r.exec(ctx, upd, code, r.now(), orderID)
}

// MarkDelivered records when the report email was accepted by the
// provider.
func (r *ReportRepo) MarkDelivered(ctx context.Context, orderID string, at time.Time) error {
	const upd = `UPDATE reports SET delivered_at = ?, updated_at = ? WHERE order_id = ?`
	return r.exec(ctx, upd, at.UTC(), r.now(), orderID)
}

// MarkCompleted moves the report to completed.
func (r *ReportRepo) MarkCompleted(ctx context.Context, orderID string) error {
	const upd = `UPDATE reports SET status = ?, last_error = NULL, updated_at = ? WHERE order_id = ?`
	return r.exec(ctx, upd, string(model.StatusCompleted), r.now(), orderID)
}

// exec runs an update and maps "no rows affected" to ErrNotFound.
func (r *ReportRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(s scanner) (*model.Report, error) {
	var (
		rep                                 model.Report
		vin, plate, state                   sql.NullString
		reportType, status                  string
		searchNo, certNo, filename, pdf, nj sql.NullString
		lastErr                             sql.NullString
		delivered                           sql.NullTime
	)
	err := s.Scan(
		&rep.ID, &rep.OrderID, &rep.Email, &vin, &plate, &state, &reportType, &rep.AmountCents, &rep.Currency, &status,
		&searchNo, &certNo, &filename, &pdf, &nj,
		&rep.Attempts, &lastErr, &delivered, &rep.CreatedAt, &rep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rep.VIN, rep.Plate, rep.State = vin.String, plate.String, state.String
	rep.Type = model.ReportType(reportType)
	rep.Status = model.ReportStatus(status)
	rep.SearchNumber = ptr(searchNo)
	rep.CertificateNumber = ptr(certNo)
	rep.CertificateFilename = ptr(filename)
	rep.PDFBase64 = ptr(pdf)
	rep.NormalizedJSON = ptr(nj)
	rep.LastError = ptr(lastErr)
	if delivered.Valid {
		t := delivered.Time
		rep.DeliveredAt = &t
	}
	return &rep, nil
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
