package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>"
const SignatureHeader = "X-Billing-Signature"

var (
	// ErrInvalidSignature is returned when no v1 signature matches the payload
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrStaleSignature is returned when the signed timestamp is outside the tolerance
	ErrStaleSignature = errors.New("webhook timestamp outside tolerance")
)

// Sign returns the signature header value for payload signed at ts
func Sign(payload []byte, secret string, ts time.Time) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, computeSignature(payload, secret, unix))
}

func computeSignature(payload []byte, secret string, unix int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(unix, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against payload. Several v1 entries are
// accepted so that the provider can rotate secrets.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	var (
		unix       int64
		haveTime   bool
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			unix, haveTime = ts, true
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if !haveTime || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleSignature
		}
	}

	expected := computeSignature(payload, secret, unix)
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}
