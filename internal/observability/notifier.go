package observability

import (
	"context"

	"go.uber.org/zap"

	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

// Sender is the subset of pkg/whatsapp.Client a Notifier needs.
type Sender interface {
	Send(ctx context.Context, msg models.OutboundMessage) error
}

// WhatsAppNotifier implements batching.Notifier by sending a plain text
// message back to the user over the outbound transport. It backs both
// REJECT_WITH_NOTIFY backpressure and the notifyUserOnFailure retry path.
type WhatsAppNotifier struct {
	sender Sender
	log    *zap.Logger
}

// NewWhatsAppNotifier constructs a WhatsAppNotifier.
func NewWhatsAppNotifier(sender Sender, log *zap.Logger) *WhatsAppNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &WhatsAppNotifier{sender: sender, log: log}
}

func (n *WhatsAppNotifier) Notify(ctx context.Context, userID, text string) error {
	recipient, err := models.NewUserIDRecipient(userID)
	if err != nil {
		return err
	}
	msg, err := models.NewTextMessage(recipient, text)
	if err != nil {
		return err
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		n.log.Warn("notification send failed", zap.String("userID", userID), zap.Error(err))
		return err
	}
	return nil
}
