package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

func newCtx(t *testing.T) *HookContext {
	t.Helper()
	msg, err := models.NewMessage("m1", "u1", "hello", time.Now())
	require.NoError(t, err)
	return NewHookContext("u1", []models.Message{msg}, time.Now())
}

func TestChain_RunPreExecutesHooksInOrder(t *testing.T) {
	t.Parallel()
	var order []string
	h1 := HookFunc{FuncName: "first", Fn: func(ctx context.Context, hc *HookContext) error {
		order = append(order, "first")
		return nil
	}}
	h2 := HookFunc{FuncName: "second", Fn: func(ctx context.Context, hc *HookContext) error {
		order = append(order, "second")
		return nil
	}}
	c := NewChain([]Hook{h1, h2}, nil)

	err := c.RunPre(context.Background(), newCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestChain_RunPreStopsAtFirstError(t *testing.T) {
	t.Parallel()
	var ran []string
	h1 := HookFunc{FuncName: "gate", Fn: func(ctx context.Context, hc *HookContext) error {
		ran = append(ran, "gate")
		return &Abort{Reason: "blocked"}
	}}
	h2 := HookFunc{FuncName: "never", Fn: func(ctx context.Context, hc *HookContext) error {
		ran = append(ran, "never")
		return nil
	}}
	c := NewChain([]Hook{h1, h2}, nil)

	err := c.RunPre(context.Background(), newCtx(t))
	require.Error(t, err)
	var ab *Abort
	require.ErrorAs(t, err, &ab)
	assert.Equal(t, "blocked", ab.Reason)
	assert.Equal(t, []string{"gate"}, ran, "hooks after the aborting one must not run")
}

func TestChain_RunPreStopsOnContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	var ran []string
	h1 := HookFunc{FuncName: "cancels", Fn: func(ctx context.Context, hc *HookContext) error {
		ran = append(ran, "cancels")
		cancel()
		return nil
	}}
	h2 := HookFunc{FuncName: "never", Fn: func(ctx context.Context, hc *HookContext) error {
		ran = append(ran, "never")
		return nil
	}}
	c := NewChain([]Hook{h1, h2}, nil)

	err := c.RunPre(ctx, newCtx(t))
	require.Error(t, err)
	assert.Equal(t, []string{"cancels"}, ran)
}

func TestChain_RunPostExecutesPostHooks(t *testing.T) {
	t.Parallel()
	var ran bool
	post := HookFunc{FuncName: "audit", Fn: func(ctx context.Context, hc *HookContext) error {
		ran = true
		return nil
	}}
	c := NewChain(nil, []Hook{post})

	err := c.RunPost(context.Background(), newCtx(t))
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestChain_RunPostPropagatesPlainErrorsWithoutRetryHint(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("audit sink unavailable")
	post := HookFunc{FuncName: "audit", Fn: func(ctx context.Context, hc *HookContext) error {
		return wantErr
	}}
	c := NewChain(nil, []Hook{post})

	err := c.RunPost(context.Background(), newCtx(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestHookContext_MetadataIsSetAndGetAcrossHooks(t *testing.T) {
	t.Parallel()
	hc := newCtx(t)

	_, ok := hc.Get("trace-id")
	assert.False(t, ok)

	hc.Set("trace-id", "abc-123")
	v, ok := hc.Get("trace-id")
	require.True(t, ok)
	assert.Equal(t, "abc-123", v)
}

func TestAbort_ErrorIncludesReason(t *testing.T) {
	t.Parallel()
	ab := &Abort{Reason: "rate limited upstream"}
	assert.Contains(t, ab.Error(), "rate limited upstream")
}

func TestAbort_CarriesOptionalCode(t *testing.T) {
	t.Parallel()
	ab := &Abort{Reason: "blocked user", Code: "blocklist"}
	assert.Equal(t, "blocklist", ab.Code)
	assert.Equal(t, "blocked user", ab.Reason)
}
