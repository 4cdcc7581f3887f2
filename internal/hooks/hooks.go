// Package hooks implements the pre/post processing hook chain (C8) that
// wraps every batch dispatch: cross-cutting concerns (auth gates, content
// filters, audit logging) run here without the Processor needing to know
// about them.
package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

// HookContext carries the state visible to every hook invocation for one
// batch dispatch. Metadata is a thread-safe scratch space hooks use to pass
// data to later hooks, including post-hooks and the hooks of later retry
// attempts. The Processor is not handed the HookContext and cannot read it.
type HookContext struct {
	UserID         string
	Batch          []models.Message
	BatchStartedAt time.Time
	IsRetry        bool
	RetryCount     int

	metaMu   sync.Mutex
	metadata map[string]any
}

// NewHookContext constructs a HookContext for a fresh (non-retry) dispatch.
func NewHookContext(userID string, batch []models.Message, startedAt time.Time) *HookContext {
	return &HookContext{
		UserID:         userID,
		Batch:          batch,
		BatchStartedAt: startedAt,
		metadata:       make(map[string]any),
	}
}

// Set stores a metadata value under key.
func (c *HookContext) Set(key string, value any) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	c.metadata[key] = value
}

// Get retrieves a metadata value, reporting whether it was present.
func (c *HookContext) Get(key string) (any, bool) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// Abort is returned by a hook to cooperatively stop the chain: no later
// hook and no Processor call will run. Reason is surfaced in logs/metrics;
// Code is an optional machine-readable classifier a hook can set alongside
// it (e.g. for a notifier or DLQ record to branch on) and may be empty.
type Abort struct {
	Reason string
	Code   string
}

func (a *Abort) Error() string { return "hook aborted: " + a.Reason }

// Hook is one link in the chain. Returning a non-nil error (typically an
// *Abort, but any error short-circuits) stops the chain.
type Hook interface {
	Name() string
	Run(ctx context.Context, hc *HookContext) error
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc struct {
	FuncName string
	Fn       func(ctx context.Context, hc *HookContext) error
}

func (f HookFunc) Name() string { return f.FuncName }
func (f HookFunc) Run(ctx context.Context, hc *HookContext) error {
	return f.Fn(ctx, hc)
}

// Chain runs a fixed, ordered list of pre-hooks and post-hooks around a
// batch dispatch.
type Chain struct {
	pre  []Hook
	post []Hook
}

// NewChain constructs a Chain. Hooks run in the given order; pre-hooks run
// before the Processor, post-hooks after, only if no pre-hook aborted.
func NewChain(pre, post []Hook) *Chain {
	return &Chain{pre: pre, post: post}
}

// RunPre executes every pre-hook in order, stopping at the first error.
func (c *Chain) RunPre(ctx context.Context, hc *HookContext) error {
	for _, h := range c.pre {
		if err := h.Run(ctx, hc); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// RunPost executes every post-hook in order, stopping at the first error.
// Post-hook errors are reported to the caller; the chain itself does not
// retry. BatchingService treats a non-Abort post-hook error like any other
// transient failure, so the whole attempt (Processor included) is retried.
func (c *Chain) RunPost(ctx context.Context, hc *HookContext) error {
	for _, h := range c.post {
		if err := h.Run(ctx, hc); err != nil {
			return err
		}
	}
	return nil
}
