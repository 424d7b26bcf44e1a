package handler

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverify/carverify/internal/config"
	"github.com/carverify/carverify/internal/maintenance"
	"github.com/carverify/carverify/internal/model"
	"github.com/carverify/carverify/internal/payment"
	"github.com/carverify/carverify/internal/ppsr"
	"github.com/carverify/carverify/internal/repository"
	"github.com/carverify/carverify/internal/service"
	"github.com/carverify/carverify/internal/utils"
)

// memReports is an in-memory report store.
type memReports struct {
	byOrder map[string]*model.Report
}

func newMemReports(reps ...*model.Report) *memReports {
	m := &memReports{byOrder: map[string]*model.Report{}}
	for _, r := range reps {
		m.byOrder[r.OrderID] = r
	}
	return m
}

func (m *memReports) Create(_ context.Context, rep *model.Report) error {
	if _, ok := m.byOrder[rep.OrderID]; ok {
		return repository.ErrDuplicate
	}
	rep.Status = model.StatusPending
	m.byOrder[rep.OrderID] = rep
	return nil
}

func (m *memReports) RecordFailure(_ context.Context, id, code string) error {
	r, ok := m.byOrder[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.Attempts++
	r.LastError = &code
	return nil
}

func (m *memReports) GetByOrderID(_ context.Context, id string) (*model.Report, error) {
	if r, ok := m.byOrder[id]; ok {
		return r, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memReports) ListPending(context.Context, int) ([]model.Report, error) {
	var out []model.Report
	for _, r := range m.byOrder {
		if r.Status == model.StatusPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

type stubFulfiller struct {
	reports *memReports
	calls   []string
	err     error
}

func (s *stubFulfiller) Fulfil(_ context.Context, id string) (*model.Report, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.reports.byOrder[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	r.Status = model.StatusCompleted
	return r, nil
}

func (s *stubFulfiller) Resend(_ context.Context, id string) error {
	s.calls = append(s.calls, "resend:"+id)
	return s.err
}

func do(h echo.HandlerFunc, method, target, body string, params ...string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for i := 0; i+1 < len(params); i += 2 {
		c.SetParamNames(params[i])
		c.SetParamValues(params[i+1])
	}
	_ = h(c)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestMaintenanceStatus(t *testing.T) {
	blocked := NewCheckHandler(&maintenance.Guard{Now: func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }})
	rec := do(blocked.Maintenance, http.MethodGet, "/v1/maintenance", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10800", rec.Header().Get("Retry-After"))
	body := decode(t, rec)
	assert.Equal(t, true, body["blocked"])
	assert.Equal(t, "2026-03-04T13:00:00Z", body["window_end"])

	open := NewCheckHandler(&maintenance.Guard{Now: func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }})
	rec = do(open.Maintenance, http.MethodGet, "/v1/maintenance", "")
	assert.Equal(t, false, decode(t, rec)["blocked"])
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestPreflight(t *testing.T) {
	h := NewCheckHandler(nil)
	rec := do(h.Preflight, http.MethodPost, "/v1/checks/preflight", `{"plate":"abc 123","state":"nsw"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["identifier"].(map[string]any)
	assert.Equal(t, "ABC123", id["plate"])
	assert.Equal(t, "NSW", id["state"])

	rec = do(h.Preflight, http.MethodPost, "/v1/checks/preflight", `{"vin":"1HGCM82633A00435I"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = do(h.Preflight, http.MethodPost, "/v1/checks/preflight", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

type stubSessions struct {
	got payment.CheckoutRequest
	err error
}

func (s *stubSessions) CreateSession(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &payment.CheckoutSession{ID: "cs_1", URL: "https://pay.example/cs_1"}, nil
}

func TestCheckout(t *testing.T) {
	sessions := &stubSessions{}
	h := NewCheckoutHandler(config.PaymentConfig{Currency: "aud", StandardCents: 1495, PremiumCents: 2995}, sessions, nil)

	rec := do(h.Create, http.MethodPost, "/v1/checkout", `{"email":" Buyer@Example.com ","vin":"6t1bf3fk50x078341","report_type":"premium"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "https://pay.example/cs_1", decode(t, rec)["url"])
	assert.Equal(t, "buyer@example.com", sessions.got.Email)
	assert.Equal(t, int64(2995), sessions.got.AmountCents)
	assert.Equal(t, "6T1BF3FK50X078341", sessions.got.Identifier.VIN)

	rec = do(h.Create, http.MethodPost, "/v1/checkout", `{"email":"nope","vin":"6T1BF3FK50X078341"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sessions.err = &payment.CheckoutError{StatusCode: 401, Type: "invalid_request_error"}
	rec = do(h.Create, http.MethodPost, "/v1/checkout", `{"email":"a@example.com","vin":"6T1BF3FK50X078341"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "invalid_request_error")
}

const paidEvent = `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{
"id":"cs_9","payment_status":"paid","amount_total":1495,"currency":"aud",
"customer_details":{"email":"buyer@example.com"},"metadata":{"vin":"6T1BF3FK50X078341"}}}}`

func webhookReq(h *WebhookHandler, body, secret string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", strings.NewReader(body))
	req.Header.Set(payment.SignatureHeader, payment.Sign([]byte(body), secret, h.Now()))
	rec := httptest.NewRecorder()
	_ = h.Payment(e.NewContext(req, rec))
	return rec
}

func TestWebhook(t *testing.T) {
	reports := newMemReports()
	f := &stubFulfiller{reports: reports}
	h := NewWebhookHandler("whsec", payment.DefaultTolerance, time.Second, reports, f, nil)

	rec := webhookReq(h, paidEvent, "wrong")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.calls)

	rec = webhookReq(h, paidEvent, "whsec")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode(t, rec)["status"])
	assert.Equal(t, []string{"cs_9"}, f.calls)
	assert.Equal(t, "6T1BF3FK50X078341", reports.byOrder["cs_9"].VIN)

	rec = webhookReq(h, paidEvent, "whsec")
	assert.Equal(t, "already_received", decode(t, rec)["status"])
	assert.Len(t, f.calls, 1)
}

func TestWebhookFulfilmentFailureIsGeneric(t *testing.T) {
	reports := newMemReports()
	f := &stubFulfiller{reports: reports, err: &ppsr.SearchError{Code: "INVALID_SERIAL", Description: "serial rejected by upstream"}}
	h := NewWebhookHandler("whsec", payment.DefaultTolerance, time.Second, reports, f, nil)

	rec := webhookReq(h, paidEvent, "whsec")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processing", decode(t, rec)["status"])
	assert.NotContains(t, rec.Body.String(), "INVALID_SERIAL")
	assert.Equal(t, model.StatusPending, reports.byOrder["cs_9"].Status)
}

func TestWebhookHoldsOrderWithBadVehicle(t *testing.T) {
	reports := newMemReports()
	f := &stubFulfiller{reports: reports}
	h := NewWebhookHandler("whsec", payment.DefaultTolerance, time.Second, reports, f, nil)
	body := strings.Replace(paidEvent, `"vin":"6T1BF3FK50X078341"`, `"vin":"1HGBH41JXMN10918I"`, 1)

	rec := webhookReq(h, body, "whsec")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processing", decode(t, rec)["status"])
	assert.Empty(t, f.calls)

	rep := reports.byOrder["cs_9"]
	require.NotNil(t, rep)
	assert.Equal(t, model.StatusPending, rep.Status)
	assert.Equal(t, "1HGBH41JXMN10918I", rep.VIN)
	require.NotNil(t, rep.LastError)
	assert.Equal(t, "invalid_identifier", *rep.LastError)

	rec = webhookReq(h, body, "whsec")
	assert.Equal(t, "already_received", decode(t, rec)["status"])
	assert.Equal(t, 1, rep.Attempts)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	reports := newMemReports()
	f := &stubFulfiller{reports: reports}
	h := NewWebhookHandler("whsec", payment.DefaultTolerance, time.Second, reports, f, nil)

	rec := webhookReq(h, `{"id":"evt_2","type":"charge.refunded","data":{"object":{}}}`, "whsec")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])
	assert.Empty(t, f.calls)
}

func strPtr(s string) *string { return &s }

func readyReport() *model.Report {
	return &model.Report{
		OrderID: "cs_r", Email: "buyer@example.com", VIN: "6T1BF3FK50X078341",
		Type: model.ReportStandard, Status: model.StatusCompleted,
		PDFBase64: strPtr("JVBERi0xLjQ="), CertificateFilename: strPtr("PPSR-C1.pdf"),
		NormalizedJSON: strPtr(`{"report":{},"severity":{"status":"clear","message":"ok"}}`),
		LastError:      strPtr("search_rejected:INVALID_SERIAL"),
	}
}

func TestReportStatus(t *testing.T) {
	h := NewReportHandler(newMemReports(readyReport()), nil, "secret", nil)

	rec := do(h.Status, http.MethodGet, "/v1/reports/cs_r/status", "", "order_id", "cs_r")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "clear", body["severity"].(map[string]any)["status"])
	assert.NotContains(t, rec.Body.String(), "INVALID_SERIAL")

	rec = do(h.Status, http.MethodGet, "/v1/reports/x/status", "", "order_id", "x")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCertificateDownload(t *testing.T) {
	h := NewReportHandler(newMemReports(readyReport()), nil, "secret", nil)
	tok, err := utils.NewDownloadToken("secret", "cs_r", time.Hour)
	require.NoError(t, err)

	rec := do(h.Certificate, http.MethodGet, "/v1/reports/cs_r/certificate?token="+tok, "", "order_id", "cs_r")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "PPSR-C1.pdf")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = do(h.Certificate, http.MethodGet, "/v1/reports/cs_r/certificate?token=bad", "", "order_id", "cs_r")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	other, err := utils.NewDownloadToken("secret", "cs_other", time.Hour)
	require.NoError(t, err)
	rec = do(h.Certificate, http.MethodGet, "/v1/reports/cs_r/certificate?token="+other, "", "order_id", "cs_r")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCertificateDownloadQuotesFilename(t *testing.T) {
	rep := readyReport()
	rep.CertificateFilename = strPtr(`PPSR "C1"; x=y.pdf`)
	h := NewReportHandler(newMemReports(rep), nil, "secret", nil)
	tok, err := utils.NewDownloadToken("secret", "cs_r", time.Hour)
	require.NoError(t, err)

	rec := do(h.Certificate, http.MethodGet, "/v1/reports/cs_r/certificate?token="+tok, "", "order_id", "cs_r")
	require.Equal(t, http.StatusOK, rec.Code)
	disp, params, err := mime.ParseMediaType(rec.Header().Get(echo.HeaderContentDisposition))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disp)
	assert.Equal(t, `PPSR "C1"; x=y.pdf`, params["filename"])
	assert.NotContains(t, params, "x")
}

func TestOperatorLogin(t *testing.T) {
	hash, err := utils.HashKey("op-key", 4)
	require.NoError(t, err)
	h := NewOperatorHandler("secret", hash, time.Hour, newMemReports(), &stubFulfiller{}, 0, nil)

	rec := do(h.Login, http.MethodPost, "/v1/operator/login", `{"operator":"ops","key":"op-key"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	claims, err := utils.ParseOperatorToken("secret", decode(t, rec)["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, utils.RoleOperator, claims.Role)
	assert.Equal(t, "ops", claims.Subject)

	rec = do(h.Login, http.MethodPost, "/v1/operator/login", `{"operator":"ops","key":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOperatorReports(t *testing.T) {
	pending := &model.Report{OrderID: "cs_p", Email: "a@example.com", Plate: "ABC123", State: "QLD", Type: model.ReportStandard, Status: model.StatusPending, Attempts: 2, LastError: strPtr("certificate_not_ready")}
	reports := newMemReports(pending)
	f := &stubFulfiller{reports: reports}
	h := NewOperatorHandler("secret", "", time.Hour, reports, f, time.Second, nil)

	rec := do(h.Pending, http.MethodGet, "/v1/operator/reports/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["reports"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "certificate_not_ready", items[0].(map[string]any)["last_error"])
	assert.Equal(t, "QLD ABC123", items[0].(map[string]any)["vehicle"])

	rec = do(h.Retry, http.MethodPost, "/v1/operator/reports/cs_p/retry", "", "order_id", "cs_p")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode(t, rec)["status"])

	rec = do(h.Retry, http.MethodPost, "/v1/operator/reports/x/retry", "", "order_id", "x")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.err = &ppsr.CertificateNotReadyError{Attempts: 3}
	rec = do(h.Retry, http.MethodPost, "/v1/operator/reports/cs_p/retry", "", "order_id", "cs_p")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "certificate_not_ready", decode(t, rec)["code"])

	f.err = service.ErrNoCertificate
	rec = do(h.Resend, http.MethodPost, "/v1/operator/reports/cs_p/resend", "", "order_id", "cs_p")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.err = errors.New("smtp down")
	rec = do(h.Resend, http.MethodPost, "/v1/operator/reports/cs_p/resend", "", "order_id", "cs_p")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
