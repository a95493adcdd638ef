package media

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"bspnode/internal/apperr"
)

// DefaultSignatureTolerance bounds how far a webhook timestamp may drift
// from the receiver's clock before the event is rejected as a replay.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifyWebhookSignature checks the provider's signature header against the
// raw request body. The header carries a unix timestamp and an HMAC-SHA256
// of "<timestamp>.<body>" keyed by the shared webhook secret, in the form
// "t=<unix>,v1=<hex>".
func VerifyWebhookSignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if strings.TrimSpace(secret) == "" {
		return apperr.New(apperr.CodeSignatureInvalid, "webhook secret is not configured")
	}
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return apperr.New(apperr.CodeSignatureInvalid, "malformed webhook signature header")
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperr.New(apperr.CodeSignatureInvalid, "malformed webhook timestamp")
	}
	sent := time.Unix(unix, 0)
	if drift := now.Sub(sent); drift > tolerance || drift < -tolerance {
		return apperr.New(apperr.CodeSignatureInvalid, "webhook timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, signature := range signatures {
		if hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
			return nil
		}
	}
	return apperr.New(apperr.CodeSignatureInvalid, "webhook signature mismatch")
}

// SignWebhookPayload produces the signature header for a payload. Used by
// tests and by local tooling that replays provider events.
func SignWebhookPayload(payload []byte, secret string, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
