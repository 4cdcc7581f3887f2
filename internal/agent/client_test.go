package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/whatsapp-agent-gateway/gateway/internal/batching"
	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

type stubInteractor struct {
	reply string
	err   error
}

func (s stubInteractor) Interact(ctx context.Context, userID, batchText string) (string, error) {
	return s.reply, s.err
}

type recordingSender struct {
	sent []models.OutboundMessage
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg models.OutboundMessage) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type stubTTS struct {
	url string
	err error
}

func (s stubTTS) Synthesize(ctx context.Context, text string) (string, error) {
	return s.url, s.err
}

func newBatch(t *testing.T) []models.Message {
	t.Helper()
	m1, err := models.NewMessage("m1", "u1", "first part", time.Now())
	require.NoError(t, err)
	m2, err := models.NewMessage("m2", "u1", "second part", time.Now())
	require.NoError(t, err)
	return []models.Message{m1, m2}
}

func TestJoinBatch_ConcatenatesContentWithNewlines(t *testing.T) {
	t.Parallel()
	batch := newBatch(t)
	assert.Equal(t, "first part\nsecond part", joinBatch(batch))
}

func TestProcessor_SendsTextReplyOnSuccessfulInteraction(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	p := NewProcessor(stubInteractor{reply: "here is your answer"}, sender, NoopTTS, 0, zap.NewNop(), func() float64 { return 1 })

	result := p.Process(context.Background(), "u1", newBatch(t))

	require.Equal(t, batching.Success, result.Tag)
	require.Len(t, sender.sent, 1)
	text, ok := sender.sent[0].(models.TextMessage)
	require.True(t, ok, "default path must send a TextMessage")
	assert.Equal(t, "here is your answer", text.Body)
}

func TestProcessor_EmptyReplyAbortsWithoutSending(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	p := NewProcessor(stubInteractor{reply: ""}, sender, NoopTTS, 0, zap.NewNop(), nil)

	result := p.Process(context.Background(), "u1", newBatch(t))

	assert.Equal(t, batching.Abort, result.Tag)
	assert.Empty(t, sender.sent)
}

func TestProcessor_InteractionErrorIsTransient(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	wantErr := errors.New("upstream unavailable")
	p := NewProcessor(stubInteractor{err: wantErr}, sender, NoopTTS, 0, zap.NewNop(), nil)

	result := p.Process(context.Background(), "u1", newBatch(t))

	assert.Equal(t, batching.Transient, result.Tag)
	assert.Empty(t, sender.sent)
}

func TestProcessor_SenderFailureIsTransient(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{err: errors.New("transport down")}
	p := NewProcessor(stubInteractor{reply: "hello"}, sender, NoopTTS, 0, zap.NewNop(), nil)

	result := p.Process(context.Background(), "u1", newBatch(t))

	assert.Equal(t, batching.Transient, result.Tag)
}

func TestProcessor_PlaysTTSWhenRandBeatsSpeechPlayChance(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	p := NewProcessor(stubInteractor{reply: "spoken reply"}, sender, stubTTS{url: "https://cdn/audio.ogg"}, 0.5, zap.NewNop(), func() float64 { return 0.1 })

	result := p.Process(context.Background(), "u1", newBatch(t))

	require.Equal(t, batching.Success, result.Tag)
	require.Len(t, sender.sent, 1)
	media, ok := sender.sent[0].(models.MediaMessage)
	require.True(t, ok, "when rand() < speechPlayChance the reply is sent as audio")
	assert.Equal(t, "https://cdn/audio.ogg", media.URL)
}

func TestProcessor_FallsBackToTextWhenTTSFails(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	p := NewProcessor(stubInteractor{reply: "spoken reply"}, sender, stubTTS{err: errors.New("tts down")}, 1, zap.NewNop(), func() float64 { return 0 })

	result := p.Process(context.Background(), "u1", newBatch(t))

	require.Equal(t, batching.Success, result.Tag)
	require.Len(t, sender.sent, 1)
	_, ok := sender.sent[0].(models.TextMessage)
	assert.True(t, ok, "a TTS failure must fall back to the text path, not drop the reply")
}

func TestProcessor_NeverPlaysTTSWhenRandIsNilDefault(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	p := NewProcessor(stubInteractor{reply: "reply"}, sender, stubTTS{url: "https://cdn/audio.ogg"}, 1, zap.NewNop(), nil)

	result := p.Process(context.Background(), "u1", newBatch(t))

	require.Equal(t, batching.Success, result.Tag)
	require.Len(t, sender.sent, 1)
	_, ok := sender.sent[0].(models.TextMessage)
	assert.True(t, ok, "nil rand defaults to always-1, which never beats any speechPlayChance <= 1")
}

func TestNewProcessor_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	p := NewProcessor(stubInteractor{err: errors.New("down")}, sender, NoopTTS, 0, zap.NewNop(), nil)

	var lastResult batching.Result
	for i := 0; i < 6; i++ {
		lastResult = p.Process(context.Background(), "u1", newBatch(t))
	}

	assert.Equal(t, batching.Transient, lastResult.Tag)
	_, err := p.breaker.Execute(func() (any, error) { return nil, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState, "five consecutive failures must trip the breaker")
}
