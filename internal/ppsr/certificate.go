package ppsr

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
)

// Certificate is the PPSR search certificate PDF.
type Certificate struct {
	Number    string
	PDFBase64 string
	Filename  string
}

// PDF decodes the certificate bytes.
func (c *Certificate) PDF() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.PDFBase64)
}

type retrieveCertificateBody struct {
	CustomerRequestID       string `json:"customerRequestId"`
	SearchCertificateNumber string `json:"searchCertificateNumber"`
}

var (
	pdfPaths      = []string{"pdfBase64", "certificatePdf", "document.content", "fileContent"}
	filenamePaths = []string{"filename", "fileName", "document.name"}
)

// DownloadCertificate retrieves the certificate PDF, retrying while the
// gateway says it is not yet processed. Any other failure ends the poll on
// the spot; exhausting policy.MaxRetries attempts returns
// CertificateNotReadyError.
func (c *Client) DownloadCertificate(ctx context.Context, certificateNumber string, policy RetryPolicy) (*Certificate, error) {
	if certificateNumber == "" {
		return nil, &GatewayError{Op: "certificate", Description: "certificate number is required"}
	}

	var cert *Certificate
	err := c.poll(ctx, "certificate", certificateNumber, policy, func(ctx context.Context) error {
		got, err := c.fetchCertificate(ctx, certificateNumber)
		if err != nil {
			return err
		}
		cert = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

func (c *Client) fetchCertificate(ctx context.Context, certificateNumber string) (*Certificate, error) {
	body := retrieveCertificateBody{CustomerRequestID: c.requestID(), SearchCertificateNumber: certificateNumber}
	resp, err := c.call(ctx, http.MethodPost, "/api/b2g/certificates/retrieve", body)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &notReadyError{reason: "transport: " + err.Error()}
	}
	if transientStatus(resp.status) {
		return nil, &notReadyError{reason: http.StatusText(resp.status)}
	}

	env, decodeErr := resp.envelope()
	if decodeErr == nil && env.HasError {
		first := env.firstError()
		if c.retryable[first.ErrorCode] {
			return nil, &notReadyError{reason: first.ErrorCode}
		}
		return nil, &GatewayError{Op: "certificate", StatusCode: resp.status, Code: first.ErrorCode, Description: first.ErrorDescription}
	}
	if !resp.ok() {
		return nil, &GatewayError{Op: "certificate", StatusCode: resp.status}
	}
	if decodeErr != nil {
		return nil, &GatewayError{Op: "certificate", StatusCode: resp.status, Err: decodeErr}
	}

	pdf := firstString(env.Resource, pdfPaths...)
	if pdf == "" {
		return nil, &GatewayError{Op: "certificate", Description: "response has no pdf content"}
	}
	if _, err := base64.StdEncoding.DecodeString(pdf); err != nil {
		return nil, &GatewayError{Op: "certificate", Description: "pdf content is not base64", Err: err}
	}
	filename := firstString(env.Resource, filenamePaths...)
	if filename == "" {
		filename = "PPSR-" + certificateNumber + ".pdf"
	}
	return &Certificate{Number: certificateNumber, PDFBase64: pdf, Filename: filename}, nil
}
