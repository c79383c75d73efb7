package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by HMAC-authenticated settlement requests.
const (
	HeaderAPIKey     = "KLIO-API-KEY"
	HeaderTimestamp  = "KLIO-TIMESTAMP"
	HeaderPassphrase = "KLIO-PASSPHRASE"
	HeaderSignature  = "KLIO-SIGNATURE"
)

// HMACAuth holds API credentials for the settlement service. Secret is
// base64 encoded; a value that does not decode is used as raw bytes.
type HMACAuth struct {
	Key        string
	Secret     string
	Passphrase string
}

// Headers signs a request with the current time.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt signs timestamp+method+path+body with HMAC-SHA256 at the given
// Unix time.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:     h.Key,
		HeaderTimestamp:  ts,
		HeaderPassphrase: h.Passphrase,
		HeaderSignature:  h.sign(ts + method + path + body),
	}
}

// Verify checks a signature produced by HeadersAt.
func (h *HMACAuth) Verify(method, path, body, timestamp, signature string) bool {
	want := h.sign(timestamp + method + path + body)
	return hmac.Equal([]byte(want), []byte(signature))
}

func (h *HMACAuth) sign(message string) string {
	secret, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		secret = []byte(h.Secret)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted form for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
