package handler

import (
	"context"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carverify/carverify/internal/config"
	"github.com/carverify/carverify/internal/model"
	"github.com/carverify/carverify/internal/payment"
	"github.com/carverify/carverify/pkg/log"
)

// SessionCreator opens hosted checkout sessions.
type SessionCreator interface {
	CreateSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
}

// CheckoutHandler starts a purchase.
type CheckoutHandler struct {
	Cfg      config.PaymentConfig
	Sessions SessionCreator
	Log      log.Logger
}

func NewCheckoutHandler(cfg config.PaymentConfig, s SessionCreator, logger log.Logger) *CheckoutHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &CheckoutHandler{Cfg: cfg, Sessions: s, Log: logger.WithName("checkout")}
}

type checkoutReq struct {
	vehicleReq
	Email      string `json:"email"`
	ReportType string `json:"report_type"`
}

// Create validates the order and returns the hosted checkout URL.
func (h *CheckoutHandler) Create(c echo.Context) error {
	var req checkoutReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "valid email required"})
	}
	id, err := model.ParseIdentifier(req.VIN, req.Plate, req.State)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid_identifier", "message": err.Error()})
	}

	typ := model.ParseReportType(req.ReportType)
	amount := h.Cfg.StandardCents
	if typ == model.ReportPremium {
		amount = h.Cfg.PremiumCents
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	sess, err := h.Sessions.CreateSession(ctx, payment.CheckoutRequest{
		Email:       req.Email,
		Identifier:  id,
		ReportType:  typ,
		AmountCents: amount,
		Currency:    h.Cfg.Currency,
		SuccessURL:  h.Cfg.SuccessURL,
		CancelURL:   h.Cfg.CancelURL,
	})
	if err != nil {
		h.Log.Error(err, "create checkout session", "identifier", id.String())
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "checkout unavailable"})
	}
	return c.JSON(http.StatusCreated, sess)
}
