package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carverify/carverify/internal/model"
	"github.com/carverify/carverify/internal/payment"
	"github.com/carverify/carverify/internal/repository"
	"github.com/carverify/carverify/internal/service"
	"github.com/carverify/carverify/internal/workflow"
	"github.com/carverify/carverify/pkg/log"
)

// ReportCreator stores a new pending order.
type ReportCreator interface {
	Create(ctx context.Context, rep *model.Report) error
	RecordFailure(ctx context.Context, orderID, code string) error
}

// Fulfiller runs paid orders through acquisition and delivery.
type Fulfiller interface {
	Fulfil(ctx context.Context, orderID string) (*model.Report, error)
	Resend(ctx context.Context, orderID string) error
}

// WebhookHandler receives payment processor events.
type WebhookHandler struct {
	Secret    string
	Tolerance time.Duration
	Timeout   time.Duration
	Reports   ReportCreator
	Fulfiller Fulfiller
	Log       log.Logger
	Now       func() time.Time
}

func NewWebhookHandler(secret string, tolerance, timeout time.Duration, r ReportCreator, f Fulfiller, logger log.Logger) *WebhookHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = workflow.DefaultTimeout
	}
	return &WebhookHandler{
		Secret: secret, Tolerance: tolerance, Timeout: timeout,
		Reports: r, Fulfiller: f, Log: logger.WithName("webhook"), Now: time.Now,
	}
}

// Payment verifies the event, records the order and fulfils it. The
// response only ever says processing, completed or already_received; the
// processor does not need gateway details and must not see them.
func (h *WebhookHandler) Payment(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	header := c.Request().Header.Get(payment.SignatureHeader)
	if err := payment.VerifySignature(body, header, h.Secret, h.Tolerance, h.Now()); err != nil {
		h.Log.Warn("webhook signature rejected", "err", err)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	}

	ev, err := payment.ParseEvent(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event"})
	}
	order, err := ev.Order()
	switch {
	case errors.Is(err, payment.ErrIgnoredEvent), errors.Is(err, payment.ErrUnpaid):
		return c.JSON(http.StatusOK, echo.Map{"received": true, "status": "ignored"})
	case errors.Is(err, payment.ErrInvalidIdentifier):
		return h.holdForOperator(c, order, err)
	case err != nil:
		h.Log.Warn("webhook order rejected", "event_id", ev.ID, "err", err)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order"})
	}

	rep := newReport(order)
	ctx := c.Request().Context()
	if err := h.Reports.Create(ctx, rep); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return c.JSON(http.StatusOK, echo.Map{"received": true, "status": "already_received"})
		}
		h.Log.Error(err, "create report", "order_id", order.OrderID)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	done, err := h.Fulfiller.Fulfil(ctx, order.OrderID)
	if err != nil {
		// The order is stored as pending; operators retry it.
		h.Log.Warn("fulfilment pending", "order_id", order.OrderID, "err", err)
		return c.JSON(http.StatusOK, echo.Map{"received": true, "status": "processing"})
	}
	status := "processing"
	if done.Status == model.StatusCompleted {
		status = "completed"
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true, "status": status})
}

// holdForOperator stores a paid order whose vehicle cannot be searched as
// pending with the failure code, so it is acknowledged and shows up for
// operators instead of being redelivered by the processor.
func (h *WebhookHandler) holdForOperator(c echo.Context, order *payment.Order, cause error) error {
	ctx := c.Request().Context()
	code := service.FailureCode(cause)
	if err := h.Reports.Create(ctx, newReport(order)); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return c.JSON(http.StatusOK, echo.Map{"received": true, "status": "already_received"})
		}
		h.Log.Error(err, "create report", "order_id", order.OrderID)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if err := h.Reports.RecordFailure(ctx, order.OrderID, code); err != nil {
		h.Log.Error(err, "record failure", "order_id", order.OrderID)
	}
	h.Log.Warn("paid order held for operator", "order_id", order.OrderID, "code", code)
	return c.JSON(http.StatusOK, echo.Map{"received": true, "status": "processing"})
}

func newReport(order *payment.Order) *model.Report {
	return &model.Report{
		OrderID:     order.OrderID,
		Email:       order.Email,
		VIN:         order.Identifier.VIN,
		Plate:       order.Identifier.Plate,
		State:       string(order.Identifier.State),
		Type:        order.ReportType,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
	}
}
