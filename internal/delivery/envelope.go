package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// SignatureHeader carries the HMAC of the delivered body.
const SignatureHeader = "X-Skillbridge-Signature"

// Envelope is the signed payload sent to an event subscriber. Subscribers
// de-duplicate using (subscription_id, event_id).
type Envelope struct {
	EventID        string          `json:"event_id"`
	SubscriptionID string          `json:"subscription_id"`
	Kind           string          `json:"kind"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
}

// Encode serializes the envelope to the exact bytes that are transmitted
// and signed.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Sign computes "sha256=<hex-hmac>" over body using the subscription
// secret. Subscribers verify by recomputing over the received body bytes.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value against the body and secret.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
