package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Notification types we act on.
const (
	TypePayment     = "payment"
	TypePreapproval = "preapproval"
)

// ErrInvalidSignature is returned when a webhook signature does not verify.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Notification is a webhook event reduced to what identifies it.
type Notification struct {
	Type   string
	DataID string
}

// Key identifies the notification for deduplication.
func (n Notification) Key() string {
	return n.Type + ":" + n.DataID
}

// ParseNotification reads the event from the JSON body, falling back to the
// query parameters used by the legacy IPN format.
func ParseNotification(query url.Values, body []byte) Notification {
	var payload struct {
		Type  string `json:"type"`
		Topic string `json:"topic"`
		Data  struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
	}
	_ = json.Unmarshal(body, &payload)

	n := Notification{
		Type:   firstNonEmpty(payload.Type, payload.Topic, query.Get("type"), query.Get("topic")),
		DataID: firstNonEmpty(rawID(payload.Data.ID), query.Get("data.id"), query.Get("id")),
	}
	// Subscription events arrive as "subscription_preapproval" on newer integrations.
	if n.Type == "subscription_preapproval" {
		n.Type = TypePreapproval
	}
	return n
}

// rawID accepts both string and numeric ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" && v != "null" {
			return v
		}
	}
	return ""
}

// VerifySignature checks the x-signature header ("ts=...,v1=...") against
// the HMAC-SHA256 of the manifest "id:{dataID};request-id:{requestID};ts:{ts};".
func VerifySignature(secret, header, requestID, dataID string) error {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			v1 = value
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	got, err := hex.DecodeString(v1)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureManifest(dataID, requestID, ts)))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

func signatureManifest(dataID, requestID, ts string) string {
	return fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), requestID, ts)
}

// Sign produces an x-signature header value. Used by tests and local tooling.
func Sign(secret, requestID, dataID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureManifest(dataID, requestID, ts)))
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
