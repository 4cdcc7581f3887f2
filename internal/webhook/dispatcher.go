package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whatsapp-agent-gateway/gateway/internal/batching"
	"github.com/whatsapp-agent-gateway/gateway/internal/clock"
	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

// Broadcaster receives events that never reach the batching pipeline:
// delivery-status updates, and the metadata of inbound events beyond the
// (senderID, messageID, text, timestamp) tuple the core consumes.
type Broadcaster interface {
	DeliveryStatus(ctx context.Context, event MessageStatusEvent)
	InboundReceived(ctx context.Context, event IncomingMessageEvent)
}

// TranscribeFunc extracts text from a non-text inbound payload. The default
// is a no-op that returns empty text -- STT/media-description is out of
// scope, but the hook point exists so a deployment can wire one in.
type TranscribeFunc func(ctx context.Context, event IncomingMessageEvent) (string, error)

func noopTranscribe(context.Context, IncomingMessageEvent) (string, error) { return "", nil }

// Dispatcher is C11: it holds the coarse per-user flood guard and forwards
// qualifying events into BatchingService.Ingest.
type Dispatcher struct {
	svc         *batching.BatchingService
	broadcaster Broadcaster
	transcribe  TranscribeFunc
	clock       clock.Clock
	floodGuard  time.Duration
	log         *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewDispatcher constructs a Dispatcher. floodGuard is the minimum spacing
// between two accepted dispatches for the same sender (spec default 500ms);
// zero disables the guard.
func NewDispatcher(svc *batching.BatchingService, broadcaster Broadcaster, transcribe TranscribeFunc, c clock.Clock, floodGuard time.Duration, log *zap.Logger) *Dispatcher {
	if transcribe == nil {
		transcribe = noopTranscribe
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		svc:         svc,
		broadcaster: broadcaster,
		transcribe:  transcribe,
		clock:       c,
		floodGuard:  floodGuard,
		log:         log,
		lastSeen:    make(map[string]time.Time),
	}
}

// HandleStatus forwards a delivery-status event straight to observability.
func (d *Dispatcher) HandleStatus(ctx context.Context, event MessageStatusEvent) {
	if d.broadcaster != nil {
		d.broadcaster.DeliveryStatus(ctx, event)
	}
}

// HandleMessage extracts (senderID, messageID, text, timestamp) from an
// inbound event and calls BatchingService.Ingest, subject to the flood
// guard. Non-text payloads are passed through Transcribe first.
func (d *Dispatcher) HandleMessage(ctx context.Context, event IncomingMessageEvent) batching.IngestOutcome {
	if d.broadcaster != nil {
		d.broadcaster.InboundReceived(ctx, event)
	}

	if d.floodGuarded(event.SenderID) {
		return batching.IngestRateLimited
	}

	text := event.TextContent
	if event.MessageType != TypeText {
		t, err := d.transcribe(ctx, event)
		if err != nil {
			d.log.Warn("transcription failed", zap.String("senderID", event.SenderID), zap.Error(err))
			return batching.IngestBackpressureDropped
		}
		text = t
	}
	if text == "" {
		return batching.IngestBackpressureDropped
	}

	messageID := event.MessageID
	if messageID == "" {
		// Some inbound paths (e.g. a transcribed voice note) have no
		// provider-assigned message ID; mint one so dedup and DLQ
		// correlation still have something stable to key on.
		messageID = uuid.NewString()
	}

	msg, err := models.NewMessage(messageID, event.SenderID, text, event.Timestamp)
	if err != nil {
		d.log.Warn("invalid inbound message", zap.Error(err))
		return batching.IngestBackpressureDropped
	}

	return d.svc.Ingest(ctx, msg)
}

func (d *Dispatcher) floodGuarded(senderID string) bool {
	if d.floodGuard <= 0 {
		return false
	}
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastSeen[senderID]
	if ok && now.Sub(last) < d.floodGuard {
		return true
	}
	d.lastSeen[senderID] = now
	return false
}
