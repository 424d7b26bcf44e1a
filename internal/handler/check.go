package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/carverify/carverify/internal/maintenance"
	"github.com/carverify/carverify/internal/model"
)

// CheckHandler serves the endpoints the storefront calls before taking
// payment.
type CheckHandler struct {
	Guard *maintenance.Guard
}

func NewCheckHandler(g *maintenance.Guard) *CheckHandler {
	if g == nil {
		g = maintenance.NewGuard()
	}
	return &CheckHandler{Guard: g}
}

// ----- DTOs -----

type vehicleReq struct {
	VIN   string `json:"vin"`
	Plate string `json:"plate"`
	State string `json:"state"`
}

type maintenanceResp struct {
	Blocked           bool   `json:"blocked"`
	Message           string `json:"message,omitempty"`
	WindowEnd         string `json:"window_end,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Maintenance reports whether searches are currently paused.
func (h *CheckHandler) Maintenance(c echo.Context) error {
	now := h.Guard.Current()
	st := maintenance.Check(now)
	resp := maintenanceResp{Blocked: st.Blocked, Message: st.Message}
	if st.Blocked {
		resp.WindowEnd = st.WindowEnd.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.RetryAfterSeconds = int(st.RetryAfter(now).Seconds())
		c.Response().Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
	}
	return c.JSON(http.StatusOK, resp)
}

// Preflight validates the vehicle identifier. The maintenance middleware
// runs first, so a 200 means a purchase can go ahead now.
func (h *CheckHandler) Preflight(c echo.Context) error {
	var req vehicleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	id, err := model.ParseIdentifier(req.VIN, req.Plate, req.State)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid_identifier", "message": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "identifier": id})
}
