package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Webhook signing headers. Receivers verify by recomputing the HMAC over
// "<timestamp>.<raw_body>".
const (
	HeaderTimestamp = "X-Uptimer-Timestamp"
	HeaderSignature = "X-Uptimer-Signature"
)

// Sign computes the signature header value for a webhook body:
// sha256=<lowercase hex of HMAC-SHA256(secret, "<timestamp>.<raw_body>")>.
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature against the recomputed one in constant
// time.
func Verify(secret string, timestamp int64, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
