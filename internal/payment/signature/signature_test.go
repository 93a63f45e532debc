package signature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifyAcceptsSignedPayload(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"invoiceId":"1","paymentId":"pay_1","status":"PAID","amount":100}`)
	v := NewVerifier("whsec_test", 0)

	assert.NoError(t, v.Verify(payload, Sign("whsec_test", payload, now), now.Add(time.Minute)))
	assert.ErrorIs(t, v.Verify(payload, Sign("wrong", payload, now), now), ErrMismatch)
	assert.ErrorIs(t, v.Verify([]byte(`{}`), Sign("whsec_test", payload, now), now), ErrMismatch)
	assert.ErrorIs(t, v.Verify(payload, "", now), ErrMissing)
	assert.ErrorIs(t, v.Verify(payload, "garbage", now), ErrMismatch)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	signedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{}`)
	v := NewVerifier("whsec_test", time.Minute)

	assert.ErrorIs(t, v.Verify(payload, Sign("whsec_test", payload, signedAt), signedAt.Add(2*time.Minute)), ErrExpired)
}

func TestDisabledVerifierAcceptsAnything(t *testing.T) {
	v := NewVerifier(" ", 0)
	assert.False(t, v.Enabled())
	assert.NoError(t, v.Verify([]byte(`{}`), "", time.Now()))

	var nilVerifier *Verifier
	assert.NoError(t, nilVerifier.Verify(nil, "", time.Now()))
}
