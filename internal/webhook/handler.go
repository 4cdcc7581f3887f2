package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxWebhookPayloadSize = 16 * 1024 * 1024

// signatureHeader carries the HMAC-SHA256 of the raw body, hex-encoded and
// optionally prefixed "sha256=" (the Meta webhook convention).
const signatureHeader = "X-Hub-Signature-256"

// SignatureVerifier authenticates an inbound webhook body against whatever
// secret the transport client was configured with. pkg/whatsapp.Client
// satisfies this.
type SignatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// wirePayload is the minimal shape this gateway accepts on the wire; a real
// deployment's provider-specific parsing lives here, never in the core.
type wirePayload struct {
	VerifyToken string `json:"verify_token"`
	Statuses    []struct {
		MessageID      string `json:"message_id"`
		RecipientID    string `json:"recipient_id"`
		Status         string `json:"status"`
		Timestamp      int64  `json:"timestamp"`
		ConversationID string `json:"conversation_id"`
	} `json:"statuses"`
	Messages []struct {
		MessageID string `json:"message_id"`
		SenderID  string `json:"sender_id"`
		Type      string `json:"type"`
		Text      string `json:"text"`
		MediaID   string `json:"media_id"`
		Timestamp int64  `json:"timestamp"`
	} `json:"messages"`
}

// Handler adapts Dispatcher to a gin HTTP surface: webhook ingress, the
// WhatsApp verification challenge, and the verify-token check.
type Handler struct {
	dispatcher  *Dispatcher
	verifyToken string
	verifier    SignatureVerifier
}

// NewHandler constructs a gin-compatible Handler. verifier may be nil, in
// which case inbound payloads are dispatched without a signature check
// (e.g. a deployment that terminates HMAC verification upstream).
func NewHandler(dispatcher *Dispatcher, verifyToken string, verifier SignatureVerifier) *Handler {
	return &Handler{dispatcher: dispatcher, verifyToken: verifyToken, verifier: verifier}
}

// Register mounts the webhook routes onto r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/webhooks/whatsapp", h.VerifyWebhook)
	r.POST("/webhooks/whatsapp", h.HandleWebhook)
}

var tracer = otel.Tracer("whatsapp-agent-gateway/webhook")

// HandleWebhook parses the inbound payload and fans each status/message
// entry out through the Dispatcher.
func (h *Handler) HandleWebhook(c *gin.Context) {
	correlationID := uuid.NewString()
	ctx, span := tracer.Start(c.Request.Context(), "webhook.handle",
		trace.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("correlation_id", correlationID),
		))
	defer span.End()

	reader := http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookPayloadSize)
	body, err := io.ReadAll(reader)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	if h.verifier != nil {
		sig := strings.TrimPrefix(c.GetHeader(signatureHeader), "sha256=")
		if !h.verifier.VerifySignature(body, sig) {
			span.SetAttributes(attribute.Bool("signature_valid", false))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var payload wirePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	for _, s := range payload.Statuses {
		h.dispatcher.HandleStatus(ctx, MessageStatusEvent{
			MessageID:      s.MessageID,
			RecipientID:    s.RecipientID,
			Status:         DeliveryStatus(s.Status),
			Timestamp:      time.Unix(s.Timestamp, 0).UTC(),
			ConversationID: s.ConversationID,
		})
	}

	for _, m := range payload.Messages {
		h.dispatcher.HandleMessage(ctx, IncomingMessageEvent{
			MessageID:   m.MessageID,
			SenderID:    m.SenderID,
			MessageType: MessageType(m.Type),
			TextContent: m.Text,
			MediaID:     m.MediaID,
			Timestamp:   time.Unix(m.Timestamp, 0).UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// VerifyWebhook answers the WhatsApp subscription verification challenge.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || token == "" || challenge == "" || token != h.verifyToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
		return
	}
	c.String(http.StatusOK, challenge)
}
