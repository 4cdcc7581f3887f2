// Package batching implements C10 BatchingService: the orchestrator that
// wires Clock, MessageStore, HybridLimiter, UserBuffer, Scheduler, HookChain
// and Processor into the ingest entry point and per-user batch lifecycle.
package batching

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/whatsapp-agent-gateway/gateway/internal/buffer"
	"github.com/whatsapp-agent-gateway/gateway/internal/clock"
	"github.com/whatsapp-agent-gateway/gateway/internal/hooks"
	"github.com/whatsapp-agent-gateway/gateway/internal/models"
	"github.com/whatsapp-agent-gateway/gateway/internal/ratelimit"
	"github.com/whatsapp-agent-gateway/gateway/internal/scheduler"
	"github.com/whatsapp-agent-gateway/gateway/internal/store"
)

var tracer = otel.Tracer("whatsapp-agent-gateway/batching")

// IngestOutcome reports what Ingest did with an inbound message, for
// metrics and for the webhook layer's best-effort logging. Ingest never
// returns an error to the caller -- per spec §7, ingest rejections are
// silent to the caller and observable only via metrics.
type IngestOutcome int

const (
	IngestAccepted IngestOutcome = iota
	IngestDuplicate
	IngestRateLimited
	IngestBackpressureDropped
	IngestBackpressureRejected
)

type userEntry struct {
	buf     *buffer.UserBuffer
	limiter *ratelimit.HybridLimiter
	ticket  *ticketLock

	mu           sync.Mutex
	lastActivity time.Time
}

// BatchingService is the per-process orchestrator for the whole pipeline.
type BatchingService struct {
	cfg       Config
	clock     clock.Clock
	store     store.MessageStore
	limiters  *ratelimit.Registry
	scheduler *scheduler.Scheduler
	hookChain *hooks.Chain
	processor Processor
	notifier  Notifier
	log       *zap.Logger

	mu      sync.Mutex
	users   map[string]*userEntry
	lruIdle *list.List // tracks idle-eviction candidates, most-recently-touched at front

	shutdownOnce sync.Once
	shutdownCtx  context.Context
	cancelFn     context.CancelFunc
	wg           sync.WaitGroup
}

// New constructs a BatchingService. cfg must already satisfy Validate.
func New(cfg Config, c clock.Clock, st store.MessageStore, hookChain *hooks.Chain, proc Processor, notifier Notifier, log *zap.Logger) *BatchingService {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &BatchingService{
		cfg:       cfg,
		clock:     c,
		store:     st,
		limiters:  ratelimit.NewRegistry(c, cfg.RateLimit),
		hookChain: hookChain,
		processor: proc,
		notifier:  notifier,
		log:       log,
		users:     make(map[string]*userEntry),
		lruIdle:   list.New(),
		shutdownCtx: ctx,
		cancelFn:    cancel,
	}
	s.scheduler = scheduler.New(c, s.onTimer)
	return s
}

func (s *BatchingService) entryFor(userID string) (e *userEntry, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.users[userID]
	if !ok {
		e = &userEntry{
			buf:     buffer.New(s.clock, s.cfg.MaxBufferSize, s.cfg.Backpressure, s.cfg.BlockUntilTimeout),
			limiter: s.limiters.Get(userID),
			ticket:  newTicketLock(),
		}
		s.users[userID] = e
		created = true
	}
	e.lastActivity = s.clock.Now()
	return e, created
}

// recoverPending restores a user's buffer from the durable store the first
// time this process sees them, so a pending log written before a crash or
// restart is not silently lost (spec §5/§9: un-drained messages survive a
// durable MessageStore). Messages come back in Store-order, which matches
// enqueue order.
func (s *BatchingService) recoverPending(ctx context.Context, userID string, e *userEntry) {
	pending, err := s.store.Retrieve(ctx, userID)
	if err != nil {
		s.log.Warn("pending log recovery failed", zap.String("userID", userID), zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}
	var last buffer.EnqueueResult
	for _, m := range pending {
		last = e.buf.Enqueue(m)
	}
	s.armTimers(userID, e, last)
}

// Ingest is the short entry point: dedup check, rate limit, enqueue (with
// backpressure), timer arm. Besides the opt-in BLOCK_UNTIL_SPACE wait, it
// runs the MessageStore calls and, under REJECT_WITH_NOTIFY, the Notifier
// call synchronously on the caller's goroutine, so a slow store or
// notifier delays its return.
func (s *BatchingService) Ingest(ctx context.Context, msg models.Message) IngestOutcome {
	if already, err := s.store.HasProcessed(ctx, msg.UserID, msg.MessageID); err == nil && already {
		return IngestDuplicate
	}

	e, created := s.entryFor(msg.UserID)
	if created {
		s.recoverPending(ctx, msg.UserID, e)
	}

	if !e.limiter.TryAcquire() {
		return IngestRateLimited
	}

	result := e.buf.Enqueue(msg)

	switch result.Outcome {
	case buffer.DroppedSilently:
		if e.buf.Policy() == buffer.BlockUntilSpace {
			return s.blockUntilSpace(ctx, e, msg)
		}
		return IngestBackpressureDropped
	case buffer.RejectedNotify:
		if s.notifier != nil {
			_ = s.notifier.Notify(ctx, msg.UserID, "message dropped: you're sending too fast")
		}
		return IngestBackpressureRejected
	}

	if err := s.store.Store(ctx, msg.UserID, msg); err != nil {
		s.log.Warn("pending message persist failed", zap.String("userID", msg.UserID), zap.Error(err))
	}

	if result.Outcome == buffer.AcceptedAfterFlush {
		s.dispatch(msg.UserID, e, result.Flushed)
	}

	s.armTimers(msg.UserID, e, result)
	return IngestAccepted
}

// blockUntilSpace is the BLOCK_UNTIL_SPACE escape hatch: it polls on real
// wall-clock time (deliberately not the injected Clock -- this path exists
// specifically to let an operator trade a blocked webhook handler for a
// bounded wait, and is explicitly flagged "not recommended" by the spec).
func (s *BatchingService) blockUntilSpace(ctx context.Context, e *userEntry, msg models.Message) IngestOutcome {
	deadline := time.Now().Add(e.buf.BlockTimeout())
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return IngestBackpressureDropped
		case <-time.After(10 * time.Millisecond):
		}
		if e.buf.Size() < e.buf.Cap() {
			result := e.buf.Enqueue(msg)
			if result.Outcome == buffer.Accepted || result.Outcome == buffer.AcceptedAfterFlush {
				if err := s.store.Store(ctx, msg.UserID, msg); err != nil {
					s.log.Warn("pending message persist failed", zap.String("userID", msg.UserID), zap.Error(err))
				}
				if result.Outcome == buffer.AcceptedAfterFlush {
					s.dispatch(msg.UserID, e, result.Flushed)
				}
				s.armTimers(msg.UserID, e, result)
				return IngestAccepted
			}
		}
	}
	return IngestBackpressureDropped
}

func (s *BatchingService) armTimers(userID string, e *userEntry, r buffer.EnqueueResult) {
	if r.FirstInCycle {
		s.scheduler.Arm(scheduler.Key{UserID: userID, Epoch: r.Epoch, Kind: scheduler.SilenceTimer}, s.cfg.SilenceThreshold)
		s.scheduler.Arm(scheduler.Key{UserID: userID, Epoch: r.Epoch, Kind: scheduler.TimeoutTimer}, s.cfg.AdaptiveTimeout)
		e.buf.MarkSilenceArmed(true)
		e.buf.MarkTimeoutArmed(true)
	} else {
		s.scheduler.Arm(scheduler.Key{UserID: userID, Epoch: r.Epoch, Kind: scheduler.SilenceTimer}, s.cfg.SilenceThreshold)
	}
}

// onTimer is the Scheduler callback. For a SilenceTimer it re-checks
// lastMessageAt before committing to drain (the race the spec calls out
// explicitly); for a TimeoutTimer it drains unconditionally if non-empty.
func (s *BatchingService) onTimer(key scheduler.Key) {
	s.mu.Lock()
	e, ok := s.users[key.UserID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if e.buf.Epoch() != key.Epoch {
		return // stale: this epoch already drained or was superseded
	}

	if key.Kind == scheduler.SilenceTimer {
		elapsed := s.clock.Now().Sub(e.buf.LastMessageAt())
		if elapsed < s.cfg.SilenceThreshold {
			remaining := s.cfg.SilenceThreshold - elapsed
			s.scheduler.Arm(key, remaining)
			return
		}
	}

	if e.buf.IsEmpty() {
		return
	}
	batch := e.buf.Drain()
	s.scheduler.Cancel(scheduler.Key{UserID: key.UserID, Epoch: key.Epoch, Kind: scheduler.SilenceTimer})
	s.scheduler.Cancel(scheduler.Key{UserID: key.UserID, Epoch: key.Epoch, Kind: scheduler.TimeoutTimer})
	s.dispatch(key.UserID, e, batch)
}

// dispatch hands a drained batch off to the per-user serial executor. The
// ticket is drawn synchronously so batches are processed in the order they
// were formed even if two drains for the same user race across goroutines.
// The batch is no longer "pending" once it is handed off here, so the
// persisted pending log is cleared -- a crash before this point leaves the
// batch recoverable from the store; after it, retry/DLQ handling owns it.
func (s *BatchingService) dispatch(userID string, e *userEntry, batch []models.Message) {
	if len(batch) == 0 {
		return
	}
	if err := s.store.Remove(s.shutdownCtx, userID); err != nil {
		s.log.Warn("pending log clear failed", zap.String("userID", userID), zap.Error(err))
	}
	ticket := e.ticket.draw()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		e.ticket.await(ticket)
		defer e.ticket.release()
		s.processBatch(userID, batch)
	}()
}

func (s *BatchingService) processBatch(userID string, batch []models.Message) {
	startedAt := s.clock.Now()
	attempt := 1
	isRetry := false
	hc := hooks.NewHookContext(userID, batch, startedAt)

	for {
		ctx, span := tracer.Start(s.shutdownCtx, "batch.process",
			trace.WithAttributes(
				attribute.String("userID", userID),
				attribute.Int("batchSize", len(batch)),
				attribute.Int("attempt", attempt),
			))

		hc.IsRetry = isRetry
		hc.RetryCount = attempt - 1

		result := s.runAttempt(ctx, hc)
		span.SetAttributes(attribute.String("outcome", result.Tag.String()))

		switch result.Tag {
		case Success:
			span.SetStatus(codes.Ok, "")
			span.End()
			s.markAllProcessed(userID, batch)
			return
		case Abort:
			span.SetStatus(codes.Ok, "aborted: "+result.AbortReason)
			span.End()
			s.log.Info("batch aborted by hook", zap.String("userID", userID), zap.String("reason", result.AbortReason), zap.String("code", result.AbortCode))
			return
		case Transient, Fatal:
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Tag.String())
			span.End()
			if attempt < s.cfg.Errors.MaxRetries+1 {
				delay := s.retryDelay(attempt)
				attempt++
				isRetry = true
				s.sleep(delay)
				continue
			}
			s.onRetriesExhausted(userID, batch)
			return
		}
	}
}

func (s *BatchingService) runAttempt(ctx context.Context, hc *hooks.HookContext) Result {
	if err := s.hookChain.RunPre(ctx, hc); err != nil {
		if ab, ok := err.(*hooks.Abort); ok {
			return AbortWith(ab.Reason, ab.Code)
		}
		return TransientErr(err)
	}
	result := s.processor.Process(ctx, hc.UserID, hc.Batch)
	if result.Tag != Success {
		return result
	}
	if err := s.hookChain.RunPost(ctx, hc); err != nil {
		if ab, ok := err.(*hooks.Abort); ok {
			return AbortWith(ab.Reason, ab.Code)
		}
		return TransientErr(err)
	}
	return result
}

func (s *BatchingService) retryDelay(attempt int) time.Duration {
	if s.cfg.Errors.Backoff == BackoffExponential {
		mult := 1 << uint(attempt-1)
		return s.cfg.Errors.RetryDelay * time.Duration(mult)
	}
	return s.cfg.Errors.RetryDelay
}

// sleep waits out a retry delay against the injected clock so tests can
// drive it deterministically via clock.Fake.
func (s *BatchingService) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	done := make(chan struct{})
	t := s.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
	case <-s.shutdownCtx.Done():
		t.Stop()
	}
}

func (s *BatchingService) markAllProcessed(userID string, batch []models.Message) {
	for _, m := range batch {
		_ = s.store.MarkProcessed(s.shutdownCtx, userID, m.MessageID)
	}
}

func (s *BatchingService) onRetriesExhausted(userID string, batch []models.Message) {
	if s.cfg.Errors.DeadLetterHandler != nil {
		if err := s.cfg.Errors.DeadLetterHandler(s.shutdownCtx, userID, batch); err != nil {
			s.log.Warn("dead letter handler failed", zap.String("userID", userID), zap.Error(err))
		}
		// DLQ now owns these messages: mark processed so webhook replay does
		// not resurrect them (the one place DLQ presence changes dedup).
		s.markAllProcessed(userID, batch)
	}
	if s.cfg.Errors.NotifyUserOnFailure && s.notifier != nil {
		_ = s.notifier.Notify(s.shutdownCtx, userID, s.cfg.Errors.UserNotificationMessage)
	}
}

// Snapshot is a point-in-time metrics read (§5): activeUsers and
// pendingMessages are estimates, not a serialisable snapshot. It is not
// lock-free: it holds the service mutex while copying the user list and
// then takes each buffer's mutex in turn to read its size.
type Snapshot struct {
	ActiveUsers     int
	PendingMessages int
}

func (s *BatchingService) Snapshot() Snapshot {
	s.mu.Lock()
	users := make([]*userEntry, 0, len(s.users))
	for _, e := range s.users {
		users = append(users, e)
	}
	s.mu.Unlock()

	snap := Snapshot{ActiveUsers: len(users)}
	for _, e := range users {
		snap.PendingMessages += e.buf.Size()
	}
	return snap
}

// EvictIdle sweeps users whose buffer has been empty past idleTTL, dropping
// their UserBuffer and pending timers. Their HybridLimiter is evicted only
// when the same sweep also finds the entry idle past limiterIdleTTL; once
// the entry is gone, later sweeps no longer see the user, so its limiter
// stays in the registry. The processed-ID set in the MessageStore is not
// touched.
func (s *BatchingService) EvictIdle() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, e := range s.users {
		if !e.buf.IsEmpty() {
			continue
		}
		if now.Sub(e.lastActivity) >= s.cfg.IdleTTL {
			s.scheduler.CancelUser(userID)
			delete(s.users, userID)
		}
		if now.Sub(e.lastActivity) >= s.cfg.LimiterIdleTTL {
			s.limiters.Evict(userID)
		}
	}
}

// Shutdown cancels every buffer's timers, signals in-flight Processor
// invocations via cancellation, and waits up to grace for workers to
// finish.
func (s *BatchingService) Shutdown(grace time.Duration) {
	s.shutdownOnce.Do(func() {
		s.scheduler.Stop()
		s.cancelFn()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grace):
			s.log.Warn("shutdown grace period elapsed with workers still running")
		}
	})
}
