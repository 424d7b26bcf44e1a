package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/carverify/carverify/internal/model"
)

// EventCheckoutCompleted is the only event that creates an order.
const EventCheckoutCompleted = "checkout.session.completed"

// Metadata keys set on checkout sessions.
const (
	MetaVIN        = "vin"
	MetaRego       = "rego"
	MetaPlate      = "plate"
	MetaState      = "state"
	MetaReportType = "report_type"
)

var (
	// ErrIgnoredEvent is returned by Order for event types that do not
	// create orders. The webhook acknowledges them.
	ErrIgnoredEvent = errors.New("event does not create an order")
	// ErrUnpaid is returned for completed sessions that are not paid yet.
	ErrUnpaid = errors.New("checkout session is not paid")
	// ErrInvalidIdentifier is returned with the order when the session
	// metadata does not name a searchable vehicle. The order then carries
	// the metadata as received.
	ErrInvalidIdentifier = errors.New("checkout session metadata has no valid vehicle")
)

// Event is a processor webhook event.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Order is a paid purchase of one report.
type Order struct {
	OrderID     string
	Email       string
	AmountCents int64
	Currency    string
	ReportType  model.ReportType
	Identifier  model.VehicleIdentifier
}

// ParseEvent decodes a webhook body.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, errors.New("decode event: missing id or type")
	}
	return &ev, nil
}

// Order extracts the purchase from a completed checkout session.
func (e *Event) Order() (*Order, error) {
	if e.Type != EventCheckoutCompleted {
		return nil, ErrIgnoredEvent
	}
	obj := gjson.ParseBytes(e.Data.Object)
	if status := obj.Get("payment_status").String(); status != "" && status != "paid" {
		return nil, ErrUnpaid
	}

	o := &Order{
		OrderID:     obj.Get("id").String(),
		Email:       firstNonEmpty(obj.Get("customer_details.email").String(), obj.Get("customer_email").String()),
		AmountCents: obj.Get("amount_total").Int(),
		Currency:    strings.ToLower(obj.Get("currency").String()),
		ReportType:  model.ParseReportType(obj.Get("metadata." + MetaReportType).String()),
	}
	if o.OrderID == "" {
		return nil, errors.New("checkout session has no id")
	}
	if o.Email == "" {
		return nil, errors.New("checkout session has no customer email")
	}

	meta := obj.Get("metadata")
	vin := meta.Get(MetaVIN).String()
	plate := firstNonEmpty(meta.Get(MetaRego).String(), meta.Get(MetaPlate).String())
	state := meta.Get(MetaState).String()
	id, err := model.ParseIdentifier(vin, plate, state)
	if err != nil {
		o.Identifier = rawIdentifier(vin, plate, state)
		return o, fmt.Errorf("%w: %w", ErrInvalidIdentifier, err)
	}
	o.Identifier = id
	return o, nil
}

// rawIdentifier keeps unparseable metadata, cut to the stored column widths.
func rawIdentifier(vin, plate, state string) model.VehicleIdentifier {
	if vin = strings.ToUpper(strings.TrimSpace(vin)); vin != "" {
		return model.VehicleIdentifier{Kind: model.KindVIN, VIN: clip(vin, 17)}
	}
	return model.VehicleIdentifier{
		Kind:  model.KindRego,
		Plate: clip(strings.ToUpper(strings.TrimSpace(plate)), 16),
		State: model.AUState(clip(strings.ToUpper(strings.TrimSpace(state)), 3)),
	}
}

func clip(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
