package ppsr

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/carverify/carverify/internal/metrics"
	"github.com/carverify/carverify/internal/model"
)

// vinPaths are the places a VIN has been seen in lookup responses.
var vinPaths = []string{"resource.vin", "resource.vehicle.vin", "resource.identifier.vin", "vin"}

// LookupVIN asks the gateway for the VIN registered to plate in state. It
// is best effort: any failure, or a response without a valid VIN, reports
// false and the caller continues with the plate.
func (c *Client) LookupVIN(ctx context.Context, plate string, state model.AUState) (string, bool) {
	q := url.Values{"registrationPlate": {plate}, "state": {string(state)}}
	resp, err := c.call(ctx, http.MethodGet, "/api/vehicle/vin-lookup?"+q.Encode(), nil)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("vin", "error").Inc()
		c.log.Debug("vin lookup failed", "plate", plate, "state", string(state), "err", err)
		return "", false
	}
	if !resp.ok() {
		metrics.GatewayRequests.WithLabelValues("vin", "miss").Inc()
		c.log.Debug("vin lookup miss", "plate", plate, "state", string(state), "status", resp.status)
		return "", false
	}

	for _, p := range vinPaths {
		v := strings.ToUpper(strings.TrimSpace(gjson.GetBytes(resp.body, p).String()))
		if v == "" {
			continue
		}
		if !model.IsValidVIN(v) {
			break
		}
		metrics.GatewayRequests.WithLabelValues("vin", "ok").Inc()
		return v, true
	}
	metrics.GatewayRequests.WithLabelValues("vin", "miss").Inc()
	c.log.Debug("vin lookup returned no usable vin", "plate", plate, "state", string(state))
	return "", false
}
