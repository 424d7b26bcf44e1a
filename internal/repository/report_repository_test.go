package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverify/carverify/internal/database"
	"github.com/carverify/carverify/internal/model"
)

var fixedNow = time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

func newMockRepo(t *testing.T, driver string) (*ReportRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := NewReportRepo(db, driver)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func reportRow() *sqlmock.Rows {
	cols := []string{"id", "order_id", "email", "vin", "plate", "state", "report_type", "amount_cents", "currency", "status",
		"search_number", "certificate_number", "certificate_filename", "pdf_base64", "normalized_json",
		"attempts", "last_error", "delivered_at", "created_at", "updated_at"}
	return sqlmock.NewRows(cols).AddRow(
		"r-1", "cs_123", "buyer@example.com", nil, "ABC123", "QLD", "premium", int64(2995), "aud", "pending",
		"S1", "C1", "cert.pdf", "JVBERg==", `{"stolen":false}`,
		2, "certificate_not_ready", nil, fixedNow, fixedNow,
	)
}

func TestCreate(t *testing.T) {
	repo, mock := newMockRepo(t, database.MySQL)
	rep := &model.Report{OrderID: "cs_123", Email: "buyer@example.com", VIN: "1HGBH41JXMN109186", Type: model.ReportStandard, AmountCents: 1495, Currency: "aud"}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reports (id, order_id")).
		WithArgs(sqlmock.AnyArg(), "cs_123", "buyer@example.com", "1HGBH41JXMN109186", nil, nil, "standard", int64(1495), "aud", "pending", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), rep))
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, model.StatusPending, rep.Status)
	assert.Equal(t, fixedNow, rep.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t, database.MySQL)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reports")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'cs_123' for key 'uq_reports_order_id'"})

	err := repo.Create(context.Background(), &model.Report{OrderID: "cs_123"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByOrderID(t *testing.T) {
	repo, mock := newMockRepo(t, database.MySQL)
	mock.ExpectQuery(regexp.QuoteMeta("FROM reports WHERE order_id = ?")).
		WithArgs("cs_123").
		WillReturnRows(reportRow())

	rep, err := repo.GetByOrderID(context.Background(), "cs_123")
	require.NoError(t, err)
	assert.Equal(t, "r-1", rep.ID)
	assert.Empty(t, rep.VIN)
	assert.Equal(t, "ABC123", rep.Plate)
	assert.Equal(t, model.ReportPremium, rep.Type)
	require.NotNil(t, rep.CertificateNumber)
	assert.Equal(t, "C1", *rep.CertificateNumber)
	assert.True(t, rep.HasCertificate())
	require.NotNil(t, rep.LastError)
	assert.Equal(t, "certificate_not_ready", *rep.LastError)
	assert.Nil(t, rep.DeliveredAt)
	assert.Equal(t, 2, rep.Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByOrderIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t, database.MySQL)
	mock.ExpectQuery(regexp.QuoteMeta("FROM reports WHERE order_id = ?")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByOrderID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresPlaceholders(t *testing.T) {
	repo, mock := newMockRepo(t, database.Postgres)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reports SET attempts = attempts + 1, last_error = $1, updated_at = $2 WHERE order_id = $3")).
		WithArgs("search_rejected:INVALID_SERIAL", fixedNow, "cs_123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordFailure(context.Background(), "cs_123", "search_rejected:INVALID_SERIAL"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatesReportNotFound(t *testing.T) {
	repo, mock := newMockRepo(t, database.MySQL)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reports SET status = ?")).
		WithArgs("completed", fixedNow, "nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.MarkCompleted(context.Background(), "nope"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingClampsLimit(t *testing.T) {
	repo, mock := newMockRepo(t, database.MySQL)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = ? ORDER BY created_at ASC LIMIT ?")).
		WithArgs("pending", 100).
		WillReturnRows(reportRow())

	got, err := repo.ListPending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cs_123", got[0].OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestReportLifecycleSQLite runs the repository against a real embedded
// database.
func TestReportLifecycleSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.SQLite, "file:"+filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.Migrate(ctx, db, database.SQLite))
	repo := NewReportRepo(db, database.SQLite)

	rep := &model.Report{OrderID: "cs_9", Email: "a@example.com", Plate: "ABC123", State: "QLD", Type: model.ReportStandard, AmountCents: 1495, Currency: "aud"}
	require.NoError(t, repo.Create(ctx, rep))
	err = repo.Create(ctx, &model.Report{OrderID: "cs_9", Email: "b@example.com", Type: model.ReportStandard})
	assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)

	require.NoError(t, repo.RecordFailure(ctx, "cs_9", "certificate_not_ready"))
	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	require.NoError(t, repo.SaveCertificate(ctx, "cs_9", CertificateRecord{
		SearchNumber: "S1", CertificateNumber: "C1", Filename: "cert.pdf", PDFBase64: "JVBERg==", NormalizedJSON: "{}",
	}))
	delivered := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkDelivered(ctx, "cs_9", delivered))
	require.NoError(t, repo.MarkCompleted(ctx, "cs_9"))

	got, err := repo.GetByOrderID(ctx, "cs_9")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Nil(t, got.LastError)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, got.DeliveredAt.Equal(delivered))
	assert.Equal(t, "cert.pdf", *got.CertificateFilename)

	pending, err = repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
