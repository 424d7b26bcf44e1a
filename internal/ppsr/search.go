package ppsr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/carverify/carverify/internal/metrics"
	"github.com/carverify/carverify/internal/model"
)

// SearchRequest selects the vehicle to search. A VIN takes precedence over
// a plate and state.
type SearchRequest struct {
	VIN   string
	Plate string
	State model.AUState
}

// SearchResult is the gateway's answer to a submitted search.
// CertificateNumber stays empty until the gateway has produced the search
// certificate.
type SearchResult struct {
	SearchNumber      string
	CertificateNumber string
	RawPayload        json.RawMessage
}

type serialSearchBody struct {
	CustomerRequestID string `json:"customerRequestId"`
	SerialNumber      string `json:"serialNumber"`
	SerialNumberType  string `json:"serialNumberType"`
}

type regoSearchBody struct {
	CustomerRequestID       string `json:"customerRequestId"`
	RegistrationPlateNumber string `json:"registrationPlateNumber"`
	RegistrationState       string `json:"registrationState"`
}

var certificateNumberPaths = []string{"searchCertificateNumber", "certificateNumber", "searchCertificate.number"}

// SubmitSearch submits a PPSR search. It fails with SearchError when the
// request names no vehicle or when the gateway rejects the search.
func (c *Client) SubmitSearch(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	var (
		path string
		body any
		rid  = c.requestID()
	)
	switch {
	case req.VIN != "":
		path = "/api/b2g/searches/serial-number"
		body = serialSearchBody{CustomerRequestID: rid, SerialNumber: req.VIN, SerialNumberType: "VIN"}
	case req.Plate != "" && req.State != "":
		path = "/api/b2g/searches/registration-plate"
		body = regoSearchBody{CustomerRequestID: rid, RegistrationPlateNumber: req.Plate, RegistrationState: string(req.State)}
	default:
		return nil, &SearchError{Code: "INVALID_REQUEST", Description: "a vin or a registration plate and state is required"}
	}

	resp, err := c.call(ctx, http.MethodPost, path, body)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("search", "error").Inc()
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		return nil, &GatewayError{Op: "search", Err: err}
	}

	res, err := c.parseSearch(resp)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("search", "error").Inc()
		return nil, err
	}
	metrics.GatewayRequests.WithLabelValues("search", "ok").Inc()
	c.log.Info("ppsr search submitted",
		"customer_request_id", rid,
		"search_number", res.SearchNumber,
		"certificate_ready", res.CertificateNumber != "")
	return res, nil
}

func (c *Client) parseSearch(resp response) (*SearchResult, error) {
	env, decodeErr := resp.envelope()
	if decodeErr == nil && env.HasError {
		first := env.firstError()
		return nil, &SearchError{Code: first.ErrorCode, Description: first.ErrorDescription}
	}
	if !resp.ok() {
		return nil, &GatewayError{Op: "search", StatusCode: resp.status}
	}
	if decodeErr != nil {
		return nil, &GatewayError{Op: "search", StatusCode: resp.status, Err: decodeErr}
	}
	return searchResultFrom(env.Resource)
}

func searchResultFrom(resource json.RawMessage) (*SearchResult, error) {
	searchNumber := gjson.GetBytes(resource, "searchNumber").String()
	if searchNumber == "" {
		return nil, &GatewayError{Op: "search", Description: "response has no search number"}
	}
	return &SearchResult{
		SearchNumber:      searchNumber,
		CertificateNumber: firstString(resource, certificateNumberPaths...),
		RawPayload:        resource,
	}, nil
}

// SearchCertificateNumber polls a submitted search until the gateway has
// assigned it a certificate number. The returned result carries the latest
// payload for the search.
func (c *Client) SearchCertificateNumber(ctx context.Context, searchNumber string, policy RetryPolicy) (*SearchResult, error) {
	var out *SearchResult
	err := c.poll(ctx, "search", searchNumber, policy, func(ctx context.Context) error {
		resp, err := c.call(ctx, http.MethodGet, "/api/b2g/searches/"+url.PathEscape(searchNumber), nil)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) || ctx.Err() != nil {
				return err
			}
			return &notReadyError{reason: "transport: " + err.Error()}
		}
		if transientStatus(resp.status) {
			return &notReadyError{reason: http.StatusText(resp.status)}
		}
		env, decodeErr := resp.envelope()
		if decodeErr == nil && env.HasError {
			first := env.firstError()
			if c.retryable[first.ErrorCode] {
				return &notReadyError{reason: first.ErrorCode}
			}
			return &GatewayError{Op: "search", StatusCode: resp.status, Code: first.ErrorCode, Description: first.ErrorDescription}
		}
		if !resp.ok() {
			return &GatewayError{Op: "search", StatusCode: resp.status}
		}
		if decodeErr != nil {
			return &GatewayError{Op: "search", StatusCode: resp.status, Err: decodeErr}
		}
		res, err := searchResultFrom(env.Resource)
		if err != nil {
			return err
		}
		if res.CertificateNumber == "" {
			return &notReadyError{reason: "no certificate number yet"}
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func firstString(raw []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(raw, p).String(); v != "" {
			return v
		}
	}
	return ""
}
