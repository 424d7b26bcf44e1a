// Package payment verifies processor webhooks, turns completed checkout
// sessions into orders and opens new checkout sessions.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is the accepted clock skew for signed webhooks.
const DefaultTolerance = 5 * time.Minute

var (
	// ErrInvalidSignature means the header is missing, malformed or no
	// signature matches the payload.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrStaleSignature means the signature timestamp is outside the
	// tolerance.
	ErrStaleSignature = errors.New("webhook timestamp outside tolerance")
)

// Sign returns the header value for payload signed at ts. The processor
// signs `<unix ts>.<payload>` with HMAC-SHA256.
func Sign(payload []byte, secret string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + signature(unix, payload, secret)
}

func signature(unix string, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against payload. Any v1 entry may match,
// which lets the processor roll secrets.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" || header == "" {
		return ErrInvalidSignature
	}
	var (
		unix       string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			unix = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	sec, err := strconv.ParseInt(unix, 10, 64)
	if err != nil || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if age := now.Sub(time.Unix(sec, 0)); age > tolerance || age < -tolerance {
		return ErrStaleSignature
	}

	want := []byte(signature(unix, payload, secret))
	for _, s := range signatures {
		if hmac.Equal([]byte(s), want) {
			return nil
		}
	}
	return ErrInvalidSignature
}
