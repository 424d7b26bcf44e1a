package handler

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carverify/carverify/internal/model"
	"github.com/carverify/carverify/internal/repository"
	"github.com/carverify/carverify/internal/service"
	"github.com/carverify/carverify/internal/storage"
	"github.com/carverify/carverify/internal/utils"
	"github.com/carverify/carverify/pkg/log"
)

// ReportReader loads a report by order id.
type ReportReader interface {
	GetByOrderID(ctx context.Context, orderID string) (*model.Report, error)
}

// ReportHandler serves customer-facing report endpoints.
type ReportHandler struct {
	Reports    ReportReader
	Archive    storage.Archive // optional
	LinkSecret string
	Log        log.Logger
}

func NewReportHandler(r ReportReader, archive storage.Archive, linkSecret string, logger log.Logger) *ReportHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ReportHandler{Reports: r, Archive: archive, LinkSecret: linkSecret, Log: logger.WithName("report")}
}

type statusResp struct {
	OrderID   string          `json:"order_id"`
	Status    string          `json:"status"`
	Ready     bool            `json:"ready"`
	Delivered bool            `json:"delivered"`
	Severity  *model.Severity `json:"severity,omitempty"`
}

// Status returns the order's progress. It never exposes the stored error
// code.
func (h *ReportHandler) Status(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	rep, err := h.Reports.GetByOrderID(ctx, c.Param("order_id"))
	if err != nil {
		return h.lookupError(c, err)
	}
	resp := statusResp{
		OrderID:   rep.OrderID,
		Status:    "processing",
		Ready:     rep.HasCertificate(),
		Delivered: rep.DeliveredAt != nil,
	}
	if rep.Status == model.StatusCompleted {
		resp.Status = "completed"
	}
	if stored, err := service.DecodeStored(rep); err == nil && stored != nil {
		resp.Severity = &stored.Severity
	}
	return c.JSON(http.StatusOK, resp)
}

// Certificate serves the PDF for a signed download link. Archived
// certificates are served by redirecting to a short-lived object URL.
func (h *ReportHandler) Certificate(c echo.Context) error {
	orderID := c.Param("order_id")
	if err := utils.VerifyDownloadToken(h.LinkSecret, c.QueryParam("token"), orderID); err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid or expired link"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	rep, err := h.Reports.GetByOrderID(ctx, orderID)
	if err != nil {
		return h.lookupError(c, err)
	}
	pdf, name, err := service.Certificate(rep)
	if errors.Is(err, service.ErrNoCertificate) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "certificate not ready"})
	}
	if err != nil {
		h.Log.Error(err, "decode certificate", "order_id", orderID)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	if h.Archive != nil {
		u, err := h.Archive.PresignedURL(ctx, storage.CertificateKey(orderID, name), 5*time.Minute)
		if err == nil {
			return c.Redirect(http.StatusFound, u)
		}
		h.Log.Warn("presign failed, serving stored copy", "order_id", orderID, "err", err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, attachment(name))
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

// attachment builds a Content-Disposition value; names that cannot be
// encoded fall back to a generic one.
func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": "certificate.pdf"})
}

func (h *ReportHandler) lookupError(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "report not found"})
	}
	h.Log.Error(err, "load report")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
