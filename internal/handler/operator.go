package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carverify/carverify/internal/model"
	"github.com/carverify/carverify/internal/repository"
	"github.com/carverify/carverify/internal/service"
	"github.com/carverify/carverify/internal/utils"
	"github.com/carverify/carverify/internal/workflow"
	"github.com/carverify/carverify/pkg/log"
)

// PendingLister lists orders that have not been completed.
type PendingLister interface {
	ListPending(ctx context.Context, limit int) ([]model.Report, error)
}

// OperatorHandler bundles the back-office endpoints.
type OperatorHandler struct {
	JWTSecret string
	KeyHash   string
	TTL       time.Duration
	Reports   PendingLister
	Fulfiller Fulfiller
	Timeout   time.Duration
	Log       log.Logger
}

func NewOperatorHandler(jwtSecret, keyHash string, ttl time.Duration, r PendingLister, f Fulfiller, timeout time.Duration, logger log.Logger) *OperatorHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = workflow.DefaultTimeout
	}
	return &OperatorHandler{
		JWTSecret: jwtSecret, KeyHash: keyHash, TTL: ttl,
		Reports: r, Fulfiller: f, Timeout: timeout, Log: logger.WithName("operator"),
	}
}

// ----- DTOs -----

type operatorLoginReq struct {
	Operator string `json:"operator"`
	Key      string `json:"key"`
}

type pendingItem struct {
	OrderID    string    `json:"order_id"`
	Email      string    `json:"email"`
	Vehicle    string    `json:"vehicle"`
	ReportType string    `json:"report_type"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	HasCert    bool      `json:"has_certificate"`
	CreatedAt  time.Time `json:"created_at"`
}

// Login exchanges the operator key for a short-lived token.
func (h *OperatorHandler) Login(c echo.Context) error {
	var req operatorLoginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Operator == "" || req.Key == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "operator/key required"})
	}
	if !utils.VerifyKey(h.KeyHash, req.Key) {
		h.Log.Warn("operator login rejected", "operator", req.Operator, "ip", c.RealIP())
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	tok, err := utils.NewOperatorToken(h.JWTSecret, req.Operator, utils.RoleOperator, h.TTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue token failed"})
	}
	h.Log.Info("operator logged in", "operator", req.Operator)
	return c.JSON(http.StatusOK, echo.Map{"token": tok.Token, "expires": tok.Exp})
}

// Pending lists orders still waiting for a certificate or delivery.
func (h *OperatorHandler) Pending(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	reps, err := h.Reports.ListPending(ctx, limit)
	if err != nil {
		h.Log.Error(err, "list pending")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	items := make([]pendingItem, 0, len(reps))
	for i := range reps {
		r := &reps[i]
		it := pendingItem{
			OrderID:    r.OrderID,
			Email:      r.Email,
			Vehicle:    r.Identifier().String(),
			ReportType: string(r.Type),
			Attempts:   r.Attempts,
			HasCert:    r.HasCertificate(),
			CreatedAt:  r.CreatedAt,
		}
		if r.LastError != nil {
			it.LastError = *r.LastError
		}
		items = append(items, it)
	}
	return c.JSON(http.StatusOK, echo.Map{"reports": items})
}

// Retry runs fulfilment again for a pending order.
func (h *OperatorHandler) Retry(c echo.Context) error {
	orderID := c.Param("order_id")
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	rep, err := h.Fulfiller.Fulfil(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "report not found"})
		}
		return c.JSON(http.StatusAccepted, echo.Map{"order_id": orderID, "status": "pending", "code": service.FailureCode(err)})
	}
	return c.JSON(http.StatusOK, echo.Map{"order_id": orderID, "status": string(rep.Status)})
}

// Resend emails a stored report again.
func (h *OperatorHandler) Resend(c echo.Context) error {
	orderID := c.Param("order_id")
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	switch err := h.Fulfiller.Resend(ctx, orderID); {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"order_id": orderID, "status": "sent"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "report not found"})
	case errors.Is(err, service.ErrNoCertificate):
		return c.JSON(http.StatusConflict, echo.Map{"error": "certificate not ready"})
	default:
		h.Log.Error(err, "resend", "order_id", orderID)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "delivery failed"})
	}
}
