package observability

import (
	"context"

	"go.uber.org/zap"

	"github.com/whatsapp-agent-gateway/gateway/internal/webhook"
)

// LoggingBroadcaster is the default webhook.Broadcaster: it logs delivery
// status updates and inbound-event metadata structurally via zap. A
// deployment wanting a real downstream sink (analytics pipeline, audit
// store) implements webhook.Broadcaster directly; defining that backend is
// out of scope here.
type LoggingBroadcaster struct {
	log *zap.Logger
}

// NewLoggingBroadcaster constructs the default Broadcaster.
func NewLoggingBroadcaster(log *zap.Logger) *LoggingBroadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingBroadcaster{log: log}
}

func (b *LoggingBroadcaster) DeliveryStatus(_ context.Context, event webhook.MessageStatusEvent) {
	b.log.Info("delivery status",
		zap.String("messageID", event.MessageID),
		zap.String("recipientID", event.RecipientID),
		zap.String("status", string(event.Status)),
		zap.Time("timestamp", event.Timestamp),
	)
}

func (b *LoggingBroadcaster) InboundReceived(_ context.Context, event webhook.IncomingMessageEvent) {
	b.log.Debug("inbound event",
		zap.String("messageID", event.MessageID),
		zap.String("senderID", event.SenderID),
		zap.String("messageType", string(event.MessageType)),
		zap.Time("timestamp", event.Timestamp),
	)
}

var _ webhook.Broadcaster = (*LoggingBroadcaster)(nil)
