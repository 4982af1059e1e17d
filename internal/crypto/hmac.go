// Package crypto provides HMAC authentication between the engine and its
// oracle, sealed storage for secrets at rest, and secp256k1 attestations
// over archived settlements.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names carried by every signed oracle request and callback.
const (
	HeaderKey       = "X-NB-Key"
	HeaderTimestamp = "X-NB-Timestamp"
	HeaderSignature = "X-NB-Signature"
)

// DefaultMaxSkew bounds how old a signed request may be.
const DefaultMaxSkew = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("crypto: missing signature headers")
	ErrBadSignature     = errors.New("crypto: signature mismatch")
	ErrStaleSignature   = errors.New("crypto: signature timestamp outside allowed skew")
)

// HMACAuth holds a shared key id and secret.
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers returns the headers that sign method+path+body at the current time.
// The signature is HMAC-SHA256(secret, timestamp+method+path+body) in base64.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKey:       h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(h.Secret), ts+method+path+body),
	}
}

// Verify checks the signature headers of a request against body. now and
// maxSkew bound the accepted timestamp in both directions.
func (h *HMACAuth) Verify(hdr http.Header, method, path string, body []byte, now time.Time, maxSkew time.Duration) error {
	ts := hdr.Get(HeaderTimestamp)
	sig := hdr.Get(HeaderSignature)
	if ts == "" || sig == "" {
		return ErrMissingSignature
	}
	if key := hdr.Get(HeaderKey); h.Key != "" && !hmac.Equal([]byte(key), []byte(h.Key)) {
		return ErrBadSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: parse timestamp %q: %w", ts, ErrBadSignature)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > maxSkew || d < -maxSkew {
		return ErrStaleSignature
	}
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+string(body))
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
