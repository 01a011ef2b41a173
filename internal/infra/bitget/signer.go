package bitget

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"bitget_relay/internal/domain"
)

// Header names used by Bitget authenticated REST calls.
const (
	HeaderAccessKey  = "ACCESS-KEY"
	HeaderSign       = "ACCESS-SIGN"
	HeaderTimestamp  = "ACCESS-TIMESTAMP"
	HeaderPassphrase = "ACCESS-PASSPHRASE"
	// HeaderSimulated routes a production-host request to the demo account.
	HeaderSimulated = "paptrading"
)

// Signer handles Bitget API authentication signatures
type Signer struct {
	accessKey  string
	secretKey  string
	passphrase string
	now        func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(accessKey, secretKey, passphrase string) *Signer {
	return &Signer{
		accessKey:  accessKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		now:        time.Now,
	}
}

// GenerateHeaders creates the necessary headers for a request.
// method: GET, POST, etc.
// path: /api/mix/v1/order/placeOrder (no host)
// query: already-encoded query string, empty if none
// body: the exact bytes that will be sent, empty if none
//
// The timestamp is taken here, so call this immediately before sending.
func (s *Signer) GenerateHeaders(method, path, query, body string, mode domain.EnvironmentMode) map[string]string {
	// Unix Timestamp in Milliseconds
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)

	fullPath := path
	if query != "" {
		fullPath = path + "?" + query
	}

	payload := timestamp + strings.ToUpper(method) + fullPath + body

	headers := map[string]string{
		HeaderAccessKey:  s.accessKey,
		HeaderSign:       computeHmacSha256(payload, s.secretKey),
		HeaderTimestamp:  timestamp,
		HeaderPassphrase: s.passphrase,
		"Content-Type":   "application/json",
		"locale":         "en-US",
	}

	if mode == domain.ModeSandboxHeader {
		headers[HeaderSimulated] = "1"
	}

	return headers
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
