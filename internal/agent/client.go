// Package agent provides the default Processor implementation: it turns a
// drained batch into a single LLM interaction over the OpenAI Responses API
// and sends the reply back out through pkg/whatsapp. The LLM call runs
// behind the Processor's own circuit breaker; the outbound send does not.
package agent

import (
	"context"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	rs "github.com/openai/openai-go/v2/responses"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/whatsapp-agent-gateway/gateway/internal/batching"
	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

// Config carries the LLM endpoint/model settings (AgentConfig, SPEC_FULL §3).
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client is an Interact(userID, batchText) -> reply operation over the
// Responses API, the core's only required collaborator with the LLM.
type Client struct {
	sdk     sdk.Client
	model   string
	timeout time.Duration
}

// New constructs a Client from Config.
func New(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		sdk:     sdk.NewClient(opts...),
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Interact sends batchText as input and returns the model's reply text.
func (c *Client) Interact(ctx context.Context, userID, batchText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content := rs.ResponseInputContentParamOfInputText(batchText)
	items := rs.ResponseInputParam{
		rs.ResponseInputItemUnionParam{OfInputMessage: &rs.ResponseInputItemMessageParam{
			Content: rs.ResponseInputMessageContentListParam{content},
			Role:    "user",
		}},
	}
	params := rs.ResponseNewParams{
		Model: rs.ResponsesModel(c.model),
	}
	params.Input.OfInputItemList = items

	resp, err := c.sdk.Responses.New(ctx, params)
	if err != nil {
		return "", errors.Wrap(err, "responses api call failed")
	}
	return resp.OutputText(), nil
}

// TTS synthesises text to speech. The default no-op implementation keeps
// TTS an opt-in collaborator, matching the Non-goal that excludes
// implementing speech synthesis itself.
type TTS interface {
	Synthesize(ctx context.Context, text string) (audioURL string, err error)
}

type noopTTS struct{}

func (noopTTS) Synthesize(context.Context, string) (string, error) { return "", nil }

// NoopTTS is the default TTSConfig implementation.
var NoopTTS TTS = noopTTS{}

// Sender is the subset of pkg/whatsapp.Client the Processor needs.
type Sender interface {
	Send(ctx context.Context, msg models.OutboundMessage) error
}

// Interactor is the subset of Client the Processor needs, so tests can
// substitute a stub without exercising the Responses API transport.
type Interactor interface {
	Interact(ctx context.Context, userID, batchText string) (string, error)
}

// Processor is the default batching.Processor: one LLM interaction per
// batch, sent back out via Sender, behind a shared circuit breaker.
type Processor struct {
	client           Interactor
	sender           Sender
	tts              TTS
	speechPlayChance float64
	breaker          *gobreaker.CircuitBreaker
	log              *zap.Logger
	rand             func() float64
}

// NewProcessor constructs the default Processor. rand defaults to a
// deterministic always-false source when nil (never plays TTS) so callers
// that don't care about the speechPlayChance feature get stable behavior;
// production wiring should pass math/rand.Float64.
func NewProcessor(client Interactor, sender Sender, tts TTS, speechPlayChance float64, log *zap.Logger, rand func() float64) *Processor {
	if tts == nil {
		tts = NoopTTS
	}
	if log == nil {
		log = zap.NewNop()
	}
	if rand == nil {
		rand = func() float64 { return 1 }
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "agent-llm",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Processor{
		client:           client,
		sender:           sender,
		tts:              tts,
		speechPlayChance: speechPlayChance,
		breaker:          breaker,
		log:              log,
		rand:             rand,
	}
}

func joinBatch(batch []models.Message) string {
	parts := make([]string, 0, len(batch))
	for _, m := range batch {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// Process implements batching.Processor.
func (p *Processor) Process(ctx context.Context, userID string, batch []models.Message) batching.Result {
	text := joinBatch(batch)

	reply, err := p.breaker.Execute(func() (any, error) {
		return p.client.Interact(ctx, userID, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return batching.TransientErr(err)
		}
		return batching.TransientErr(err)
	}

	replyText, _ := reply.(string)
	if replyText == "" {
		return batching.AbortWith("empty model reply", "empty_reply")
	}

	recipient, err := models.NewUserIDRecipient(userID)
	if err != nil {
		return batching.FatalErr(err)
	}

	if p.rand() < p.speechPlayChance {
		if audioURL, err := p.tts.Synthesize(ctx, replyText); err == nil && audioURL != "" {
			media, err := models.NewMediaMessage(recipient, models.MediaAudio, audioURL, "", "")
			if err == nil {
				if err := p.sender.Send(ctx, media); err != nil {
					return batching.TransientErr(err)
				}
				return batching.Ok()
			}
		}
		p.log.Warn("tts synthesis failed, falling back to text", zap.String("userID", userID))
	}

	out, err := models.NewTextMessage(recipient, replyText)
	if err != nil {
		return batching.FatalErr(err)
	}
	if err := p.sender.Send(ctx, out); err != nil {
		return batching.TransientErr(err)
	}
	return batching.Ok()
}
