package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"relaybot/internal/domain"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func signedHeader(secret string, ts time.Time, body []byte) http.Header {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + stamp + ":"))
	mac.Write(body)

	h := http.Header{}
	h.Set("X-Slack-Request-Timestamp", stamp)
	h.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return h
}

func TestVerifyValid(t *testing.T) {
	body := []byte(`{"type":"url_verification","challenge":"abc"}`)
	v := NewVerifier(testSecret)
	assert.NoError(t, v.Verify(signedHeader(testSecret, time.Now(), body), body))
}

func TestVerifyRejects(t *testing.T) {
	body := []byte(`{"type":"event_callback"}`)
	tests := []struct {
		name   string
		header http.Header
		body   []byte
	}{
		{"wrong secret", signedHeader("other", time.Now(), body), body},
		{"tampered body", signedHeader(testSecret, time.Now(), body), []byte(`{"type":"event_callback","x":1}`)},
		{"stale timestamp", signedHeader(testSecret, time.Now().Add(-10*time.Minute), body), body},
		{"no headers", http.Header{}, body},
	}
	v := NewVerifier(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, v.Verify(tt.header, tt.body), domain.ErrAuthInvalid)
		})
	}
}

func TestVerifyMissingSecret(t *testing.T) {
	err := NewVerifier("").Verify(http.Header{}, nil)
	assert.ErrorIs(t, err, domain.ErrMissingCredential)
}
