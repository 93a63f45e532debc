// Package signature verifies HMAC-SHA256 signed webhook payloads.
package signature

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

// DefaultTolerance bounds how old a signed timestamp may be.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissing  = errors.New("signature_missing")
	ErrMismatch = errors.New("signature_mismatch")
	ErrExpired  = errors.New("signature_expired")
)

// Verifier checks "t=<unix>,v1=<hex>" headers. A Verifier with no secret accepts everything.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: []byte(strings.TrimSpace(secret)), tolerance: tolerance}
}

func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

func (v *Verifier) Verify(payload []byte, header string, now time.Time) error {
	if !v.Enabled() {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissing
	}

	ts, signatures, err := parseHeader(header)
	if err != nil {
		return ErrMismatch
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrMismatch
	}
	if age := now.Sub(time.Unix(unix, 0)); age > v.tolerance || age < -v.tolerance {
		return ErrExpired
	}

	expected := compute(v.secret, ts, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrMismatch
}

// Sign builds a header value for payload, as a gateway would.
func Sign(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, compute([]byte(secret), ts, payload))
}

func compute(secret []byte, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(ts + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseHeader(header string) (string, []string, error) {
	var ts string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return ts, signatures, nil
}
