// Package webhook implements C11 WebhookDispatcher: translates a typed
// inbound webhook event into a BatchingService.Ingest call, forwarding
// delivery-status events straight to observability without touching the
// batching pipeline.
package webhook

import "time"

// DeliveryStatus enumerates the WhatsApp delivery lifecycle states carried
// by a MessageStatusEvent.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// MessageStatusEvent reports a delivery-status transition for a
// previously-sent outbound message. It never reaches the batching
// pipeline -- it is forwarded to observability only.
type MessageStatusEvent struct {
	MessageID     string
	RecipientID   string
	Status        DeliveryStatus
	Timestamp     time.Time
	ConversationID string
	PricingModel  string
	ErrorCode     string
	ErrorMessage  string
}

// MessageType tags the inbound content kind of an IncomingMessageEvent.
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeImage      MessageType = "image"
	TypeVideo      MessageType = "video"
	TypeAudio      MessageType = "audio"
	TypeDocument   MessageType = "document"
	TypeSticker    MessageType = "sticker"
	TypeLocation   MessageType = "location"
	TypeContact    MessageType = "contact"
	TypeReaction   MessageType = "reaction"
	TypeButtonReply MessageType = "button_reply"
	TypeListReply  MessageType = "list_reply"
)

// ReferenceContext carries the optional reply/forward metadata WhatsApp
// attaches to an inbound message.
type ReferenceContext struct {
	ReferencedMessageID string
	ForwardedFrom       string
	IsForwarded         bool
}

// IncomingMessageEvent is one inbound WhatsApp message of any content type.
// The core only ever sees the extracted (senderID, messageID, text,
// timestamp) from this; everything else is forwarded to observability.
type IncomingMessageEvent struct {
	MessageID   string
	SenderID    string
	SenderName  string
	MessageType MessageType
	// TextContent holds the text body for MessageType text, or the caption
	// for media types. Non-text payloads route through Transcribe before
	// BatchingService sees anything.
	TextContent string
	MediaID     string
	MediaURL    string
	Latitude    float64
	Longitude   float64
	Timestamp   time.Time
	Context     *ReferenceContext
}
