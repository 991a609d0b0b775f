// Package signature authenticates inbound Slack requests.
//
// Slack signs every callback with HMAC-SHA256 over "v0:<timestamp>:<body>"
// using the app signing secret and sends the result as "v0=<hex>" in the
// X-Slack-Signature header together with X-Slack-Request-Timestamp.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderSignature = "X-Slack-Signature"

	version = "v0"

	// MaxSkew bounds how far the request timestamp may drift from now.
	MaxSkew = 300 * time.Second
)

var (
	ErrMissingHeaders = errors.New("signature: missing timestamp or signature")
	ErrBadTimestamp   = errors.New("signature: malformed timestamp")
	ErrStaleTimestamp = errors.New("signature: timestamp outside window")
	ErrMismatch       = errors.New("signature: mismatch")
)

// Verify reports whether signature authenticates body at timestamp.
func Verify(body []byte, timestamp, signature string, secret []byte) bool {
	return Check(body, timestamp, signature, secret, time.Now()) == nil
}

// VerifyAt is Verify with an explicit current time.
func VerifyAt(body []byte, timestamp, signature string, secret []byte, now time.Time) bool {
	return Check(body, timestamp, signature, secret, now) == nil
}

// Check returns nil when the request is authentic, otherwise the reason it
// is not. The freshness window is checked before any HMAC work.
func Check(body []byte, timestamp, signature string, secret []byte, now time.Time) error {
	if timestamp == "" || signature == "" {
		return ErrMissingHeaders
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}
	diff := now.Unix() - ts
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(MaxSkew/time.Second) {
		return ErrStaleTimestamp
	}

	expected := Sign(body, timestamp, secret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrMismatch
	}
	return nil
}

// Sign computes the X-Slack-Signature value for body at timestamp.
func Sign(body []byte, timestamp string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(version + ":" + timestamp + ":"))
	mac.Write(body)
	return version + "=" + hex.EncodeToString(mac.Sum(nil))
}

// Reason maps a Check error, or a body read error, to a short metric label.
func Reason(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, ErrMissingHeaders):
		return "missing_headers"
	case errors.Is(err, ErrBadTimestamp):
		return "bad_timestamp"
	case errors.Is(err, ErrStaleTimestamp):
		return "stale"
	case errors.Is(err, ErrMismatch):
		return "mismatch"
	case errors.As(err, &tooLarge):
		return "body_too_large"
	default:
		return "read_error"
	}
}
