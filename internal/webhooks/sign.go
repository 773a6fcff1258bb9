package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Headers set on every delivery.
const (
	HeaderEventType = "X-UAAL-Event-Type"
	HeaderEventID   = "X-UAAL-Event-ID"
	HeaderSignature = "X-UAAL-Signature"
)

// SignPayload creates HMAC-SHA256 signature for webhook verification
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" header value against payload.
func VerifySignature(payload []byte, secret, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(SignPayload(payload, secret)))
}

func deliveryHeaders(eventType, eventID, secret string, payload []byte) map[string]string {
	h := map[string]string{
		"Content-Type":  "application/json",
		HeaderEventType: eventType,
		HeaderEventID:   eventID,
	}
	if secret != "" {
		h[HeaderSignature] = "sha256=" + SignPayload(payload, secret)
	}
	return h
}
