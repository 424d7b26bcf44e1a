package model

import (
	"errors"
	"fmt"
	"strings"
)

// IdentifierKind tags which variant of VehicleIdentifier is populated.
type IdentifierKind string

const (
	KindVIN  IdentifierKind = "VIN"
	KindRego IdentifierKind = "REGO"
)

// AUState is an Australian state or territory code.
type AUState string

const (
	StateNSW AUState = "NSW"
	StateVIC AUState = "VIC"
	StateQLD AUState = "QLD"
	StateSA  AUState = "SA"
	StateWA  AUState = "WA"
	StateTAS AUState = "TAS"
	StateNT  AUState = "NT"
	StateACT AUState = "ACT"
)

var validStates = map[AUState]bool{
	StateNSW: true, StateVIC: true, StateQLD: true, StateSA: true,
	StateWA: true, StateTAS: true, StateNT: true, StateACT: true,
}

var (
	ErrInvalidVIN        = errors.New("vin must be 17 characters and exclude I, O and Q")
	ErrInvalidState      = errors.New("unknown australian state")
	ErrMissingPlate      = errors.New("registration plate is required")
	ErrMissingIdentifier = errors.New("a vin or registration plate and state is required")
)

// VehicleIdentifier names the vehicle a report is bought for. It is either a
// VIN or a registration plate with its issuing state, never both.
type VehicleIdentifier struct {
	Kind  IdentifierKind `json:"kind"`
	VIN   string         `json:"vin,omitempty"`
	Plate string         `json:"plate,omitempty"`
	State AUState        `json:"state,omitempty"`
}

// IsValidVIN reports whether vin is exactly 17 characters long and contains
// none of the letters I, O or Q.
func IsValidVIN(vin string) bool {
	if len(vin) != 17 {
		return false
	}
	return !strings.ContainsAny(vin, "IOQioq")
}

// ParseState normalises s and checks it is a known state code.
func ParseState(s string) (AUState, error) {
	st := AUState(strings.ToUpper(strings.TrimSpace(s)))
	if !validStates[st] {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
	return st, nil
}

// NewVINIdentifier trims and upper-cases vin before validating it.
func NewVINIdentifier(vin string) (VehicleIdentifier, error) {
	v := strings.ToUpper(strings.TrimSpace(vin))
	if !IsValidVIN(v) {
		return VehicleIdentifier{}, ErrInvalidVIN
	}
	return VehicleIdentifier{Kind: KindVIN, VIN: v}, nil
}

// NewRegoIdentifier builds the plate+state variant. Spaces inside the plate
// are dropped since plates are printed with arbitrary spacing.
func NewRegoIdentifier(plate, state string) (VehicleIdentifier, error) {
	p := strings.ToUpper(strings.Join(strings.Fields(plate), ""))
	if p == "" {
		return VehicleIdentifier{}, ErrMissingPlate
	}
	st, err := ParseState(state)
	if err != nil {
		return VehicleIdentifier{}, err
	}
	return VehicleIdentifier{Kind: KindRego, Plate: p, State: st}, nil
}

// ParseIdentifier picks the VIN variant when a VIN is supplied, otherwise the
// rego variant. A supplied but invalid VIN is an error even when a plate is
// also present.
func ParseIdentifier(vin, plate, state string) (VehicleIdentifier, error) {
	if strings.TrimSpace(vin) != "" {
		return NewVINIdentifier(vin)
	}
	if strings.TrimSpace(plate) == "" && strings.TrimSpace(state) == "" {
		return VehicleIdentifier{}, ErrMissingIdentifier
	}
	return NewRegoIdentifier(plate, state)
}

// Validate re-checks the union invariants on a value built by hand or
// decoded from storage.
func (v VehicleIdentifier) Validate() error {
	switch v.Kind {
	case KindVIN:
		if v.Plate != "" || v.State != "" {
			return errors.New("vin identifier must not carry a plate or state")
		}
		if !IsValidVIN(v.VIN) {
			return ErrInvalidVIN
		}
	case KindRego:
		if v.VIN != "" {
			return errors.New("rego identifier must not carry a vin")
		}
		if v.Plate == "" {
			return ErrMissingPlate
		}
		if !validStates[v.State] {
			return ErrInvalidState
		}
	default:
		return ErrMissingIdentifier
	}
	return nil
}

func (v VehicleIdentifier) String() string {
	if v.Kind == KindVIN {
		return "VIN " + v.VIN
	}
	return fmt.Sprintf("%s %s", v.State, v.Plate)
}
