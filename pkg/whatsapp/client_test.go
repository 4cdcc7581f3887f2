package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

func mustPhone(t *testing.T, n string) models.Recipient {
	t.Helper()
	r, err := models.NewPhoneRecipient(n)
	require.NoError(t, err)
	return r
}

func TestNewClient_RejectsMissingAPIKeyOrEndpoint(t *testing.T) {
	t.Parallel()
	_, err := NewClient("", "https://example.com", Options{})
	assert.Error(t, err)

	_, err = NewClient("key", "", Options{})
	assert.Error(t, err)
}

func TestNewClient_AppliesDefaultsForZeroOptions(t *testing.T) {
	t.Parallel()
	c, err := NewClient("key", "https://example.com", Options{})
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, c.timeout)
	assert.Equal(t, defaultRetryAttempts, c.retryAttempts)
	assert.Equal(t, defaultRetryDelay, c.retryDelay)
}

func TestVerifySignature_MatchesValidHMAC(t *testing.T) {
	t.Parallel()
	c, err := NewClient("key", "https://example.com", Options{WebhookSecret: "topsecret"})
	require.NoError(t, err)

	body := []byte(`{"hello":"world"}`)
	mac := hmacHex(t, "topsecret", body)

	assert.True(t, c.VerifySignature(body, mac))
	assert.False(t, c.VerifySignature(body, "deadbeef"))
}

func TestVerifySignature_RejectsWhenNoSecretConfigured(t *testing.T) {
	t.Parallel()
	c, err := NewClient("key", "https://example.com", Options{})
	require.NoError(t, err)
	assert.False(t, c.VerifySignature([]byte("body"), "anything"))
}

func TestEncodeOutbound_TextMessage(t *testing.T) {
	t.Parallel()
	to := mustPhone(t, "+15551234567")
	msg, err := models.NewTextMessage(to, "hello world")
	require.NoError(t, err)

	raw, err := encodeOutbound(msg)
	require.NoError(t, err)

	var decoded wireTextEnvelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "text", decoded.Type)
	assert.Equal(t, "hello world", decoded.Text.Body)
	assert.Equal(t, "individual", decoded.wireRecipient.Type)
}

func TestEncodeOutbound_UserIDRecipientUsesUserIDType(t *testing.T) {
	t.Parallel()
	to, err := models.NewUserIDRecipient("internal-user-42")
	require.NoError(t, err)
	msg, err := models.NewTextMessage(to, "hi")
	require.NoError(t, err)

	raw, err := encodeOutbound(msg)
	require.NoError(t, err)
	var decoded wireTextEnvelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "user_id", decoded.wireRecipient.Type)
}

func TestEncodeOutbound_MediaMessageUsesMediaIDOrURL(t *testing.T) {
	t.Parallel()
	to := mustPhone(t, "+15551234567")
	msg, err := models.NewMediaMessage(to, models.MediaImage, "https://cdn/img.jpg", "", "caption text")
	require.NoError(t, err)

	raw, err := encodeOutbound(msg)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	var imageField wireMedia
	require.NoError(t, json.Unmarshal(decoded["image"], &imageField))
	assert.Equal(t, "https://cdn/img.jpg", imageField.Link)
	assert.Equal(t, "caption text", imageField.Caption)
}

func TestEncodeOutbound_TemplateComponentsNilStaysNull(t *testing.T) {
	t.Parallel()
	to := mustPhone(t, "+15551234567")
	msg, err := models.NewTemplateMessage(to, "order_confirmation", "en_US", nil)
	require.NoError(t, err)

	raw, err := encodeOutbound(msg)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	var tmpl map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(decoded["template"], &tmpl))
	assert.Equal(t, "null", string(tmpl["components"]), "a nil components slice must marshal to JSON null, not []")
}

func TestEncodeOutbound_LocationMessage(t *testing.T) {
	t.Parallel()
	to := mustPhone(t, "+15551234567")
	msg, err := models.NewLocationMessage(to, 37.7749, -122.4194, "HQ", "1 Market St")
	require.NoError(t, err)

	raw, err := encodeOutbound(msg)
	require.NoError(t, err)
	var decoded wireLocationEnvelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "location", decoded.Type)
	assert.Equal(t, "HQ", decoded.Location.Name)
}

func TestEncodeOutbound_ReactionMessage(t *testing.T) {
	t.Parallel()
	to := mustPhone(t, "+15551234567")
	msg, err := models.NewReactionMessage(to, "wamid.original", "👍")
	require.NoError(t, err)

	raw, err := encodeOutbound(msg)
	require.NoError(t, err)
	var decoded wireReactionEnvelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "reaction", decoded.Type)
	assert.Equal(t, "wamid.original", decoded.Reaction.MessageID)
	assert.Equal(t, "👍", decoded.Reaction.Emoji)
}

func TestEncodeOutbound_UnsupportedTypeReturnsError(t *testing.T) {
	t.Parallel()
	_, err := encodeOutbound(nil)
	assert.Error(t, err)
}

func TestClient_SendRetriesOnTransientFailureThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(wireAPIResponse{MessageID: "wamid.sent", Status: "sent"})
	}))
	defer srv.Close()

	c, err := NewClient("key", srv.URL, Options{RetryAttempts: 3, RetryDelay: 10 * time.Millisecond, RequestsPerSecond: 1000})
	require.NoError(t, err)

	to := mustPhone(t, "+15551234567")
	msg, err := models.NewTextMessage(to, "hi")
	require.NoError(t, err)

	err = c.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestClient_SendReturnsProviderError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(wireAPIResponse{Error: &wireAPIError{Code: "131000", Message: "generic error"}})
	}))
	defer srv.Close()

	c, err := NewClient("key", srv.URL, Options{RetryAttempts: 1, RetryDelay: time.Millisecond, RequestsPerSecond: 1000})
	require.NoError(t, err)

	to := mustPhone(t, "+15551234567")
	msg, err := models.NewTextMessage(to, "hi")
	require.NoError(t, err)

	err = c.Send(context.Background(), msg)
	assert.Error(t, err)
}

func hmacHex(t *testing.T, secret string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
