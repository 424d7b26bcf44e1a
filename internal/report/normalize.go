// Package report turns raw PPSR search payloads into the stable report shape
// used for storage, email rendering and the severity verdict.
package report

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/carverify/carverify/internal/model"
)

// Response variants nest the same sections under different roots.
var roots = []string{"", "result.", "searchResult.", "resource."}

var (
	vehiclePaths       = []string{"vehicle", "vehicleDetails", "motorVehicle", "nevdisData.vehicle"}
	interestPaths      = []string{"securityInterests", "registrations", "searchResultDetails.registrations"}
	stolenPaths        = []string{"stolenVehicleCheck", "stolenCheck", "nevdisData.stolen"}
	writeOffPaths      = []string{"writtenOffVehicleCheck", "writeOffCheck", "writtenOffCheck", "nevdisData.writtenOff"}
	searchDatePaths    = []string{"searchDate", "searchDateTime", "searchCriteria.searchDateTime"}
	dateLayouts        = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02", "02/01/2006"}
	stolenStatuses     = map[string]bool{"STOLEN": true, "REPORTED_STOLEN": true}
	writtenOffStatuses = map[string]bool{"WRITTEN_OFF": true, "WRITTENOFF": true, "WRITE_OFF": true}
)

// Normalize maps raw onto a NormalizedReport. It never fails: absent or
// oddly typed fields are left at their zero value.
func Normalize(raw json.RawMessage, id model.VehicleIdentifier, searchNumber, certificateNumber string) model.NormalizedReport {
	doc := gjson.ParseBytes(raw)
	out := model.NormalizedReport{
		Identifier:        id,
		SearchNumber:      searchNumber,
		CertificateNumber: certificateNumber,
		SearchDate:        parseDate(lookup(doc, searchDatePaths...)),
		Vehicle:           vehicleSpecs(lookup(doc, vehiclePaths...), id),
		SecurityInterests: securityInterests(lookup(doc, interestPaths...)),
		Stolen:            flagged(lookup(doc, stolenPaths...), []string{"isStolen", "stolen"}, stolenStatuses),
		WriteOff:          writeOff(lookup(doc, writeOffPaths...)),
	}
	out.HasFinance = len(out.SecurityInterests) > 0
	return out
}

// lookup returns the first path that exists under any known root.
func lookup(doc gjson.Result, paths ...string) gjson.Result {
	for _, root := range roots {
		for _, p := range paths {
			if r := doc.Get(root + p); r.Exists() && r.Type != gjson.Null {
				return r
			}
		}
	}
	return gjson.Result{}
}

func str(obj gjson.Result, keys ...string) string {
	for _, k := range keys {
		r := obj.Get(k)
		if r.Type == gjson.String || r.Type == gjson.Number {
			if s := strings.TrimSpace(r.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func vehicleSpecs(v gjson.Result, id model.VehicleIdentifier) model.VehicleSpecs {
	specs := model.VehicleSpecs{
		VIN:                strings.ToUpper(str(v, "vin", "vehicleIdentificationNumber", "identifiers.vin")),
		Make:               str(v, "make", "vehicleMake", "manufacturer"),
		Model:              str(v, "model", "vehicleModel"),
		BodyType:           str(v, "bodyType", "body", "bodyStyle"),
		FuelType:           str(v, "fuelType", "fuel"),
		Colour:             str(v, "colour", "color"),
		EngineNumber:       str(v, "engineNumber", "identifiers.engineNumber"),
		Transmission:       str(v, "transmission"),
		ComplianceDate:     str(v, "complianceDate", "complianceYearMonth"),
		Plate:              strings.ToUpper(str(v, "registrationPlate", "registrationPlateNumber", "plate", "registration.plate")),
		State:              strings.ToUpper(str(v, "registrationState", "state", "registration.state")),
		RegistrationExpiry: str(v, "registrationExpiry", "registrationExpiryDate", "registration.expiry"),
	}
	for _, k := range []string{"year", "yearOfManufacture", "manufactureYear", "buildYear"} {
		r := v.Get(k)
		if r.Type != gjson.Number && r.Type != gjson.String {
			continue
		}
		if y := int(r.Int()); y > 1885 && y < 3000 {
			specs.Year = y
			break
		}
	}

	if specs.VIN == "" && id.Kind == model.KindVIN {
		specs.VIN = id.VIN
	}
	if specs.Plate == "" && id.Kind == model.KindRego {
		specs.Plate = id.Plate
	}
	if specs.State == "" && id.Kind == model.KindRego {
		specs.State = string(id.State)
	}
	return specs
}

func securityInterests(list gjson.Result) []model.SecurityInterest {
	out := []model.SecurityInterest{}
	if !list.IsArray() {
		return out
	}
	list.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		si := model.SecurityInterest{
			RegisteredBy:       str(item, "registeredBy", "securedPartyName", "securedParties.0.organisationName", "securedParties.0.name", "grantor"),
			Type:               str(item, "type", "collateralClassType", "collateralType", "collateralClass"),
			RegistrationNumber: str(item, "registrationNumber", "registrationNo"),
			Date:               parseDate(firstExisting(item, "date", "registrationStartTime", "registrationDate", "startTime")),
		}
		if amt := firstExisting(item, "amount", "securedAmount"); amt.Type == gjson.Number {
			f := amt.Float()
			si.Amount = &f
		}
		out = append(out, si)
		return true
	})
	return out
}

func writeOff(w gjson.Result) model.WriteOff {
	wo := model.WriteOff{
		IsWrittenOff: flagged(w, []string{"isWrittenOff", "writtenOff"}, writtenOffStatuses),
		Category:     str(w, "category", "writeOffCategory", "incidentCategory", "incidents.0.category"),
		State:        strings.ToUpper(str(w, "state", "jurisdiction", "incidents.0.jurisdiction")),
		Date:         parseDate(firstExisting(w, "date", "incidentDate", "writeOffDate", "incidents.0.date")),
	}
	if !wo.IsWrittenOff {
		// Some variants only list incidents.
		wo.IsWrittenOff = w.Get("incidents.#").Int() > 0
	}
	return wo
}

// flagged is true when any boolean key is true or the status field names
// one of statuses. A bare boolean section counts as the flag itself.
func flagged(section gjson.Result, boolKeys []string, statuses map[string]bool) bool {
	switch section.Type {
	case gjson.True:
		return true
	case gjson.JSON:
	default:
		return false
	}
	for _, k := range boolKeys {
		if section.Get(k).Type == gjson.True {
			return true
		}
	}
	status := strings.ToUpper(strings.TrimSpace(section.Get("status").String()))
	return statuses[status]
}

func firstExisting(obj gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if r := obj.Get(k); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

func parseDate(r gjson.Result) *time.Time {
	if r.Type != gjson.String {
		return nil
	}
	s := strings.TrimSpace(r.Str)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
