package batching

import (
	"time"

	"github.com/pkg/errors"

	"github.com/whatsapp-agent-gateway/gateway/internal/buffer"
	"github.com/whatsapp-agent-gateway/gateway/internal/ratelimit"
)

// BackoffKind selects the retry delay growth function.
type BackoffKind int

const (
	BackoffLinear BackoffKind = iota
	BackoffExponential
)

// ErrorsConfig is the errors.* configuration block (spec §6).
type ErrorsConfig struct {
	MaxRetries              int
	RetryDelay              time.Duration
	Backoff                 BackoffKind
	NotifyUserOnFailure     bool
	UserNotificationMessage string
	DeadLetterHandler       DeadLetterHandler
}

// Config is the full construction-time configuration for a BatchingService,
// covering every item spec.md §6 enumerates for the core pipeline.
type Config struct {
	AdaptiveTimeout  time.Duration
	SilenceThreshold time.Duration
	MaxBufferSize    int

	RateLimit ratelimit.Config

	Backpressure      buffer.Policy
	BlockUntilTimeout time.Duration // only consulted when Backpressure == BlockUntilSpace

	Errors ErrorsConfig

	MaxProcessedIDs int
	IdleTTL         time.Duration // empty-buffer eviction
	LimiterIdleTTL  time.Duration // HybridLimiter/ProcessedSet eviction (longer than IdleTTL)

	SpeechPlayChance float64
}

// Validate enforces the numeric/duration constraints spec.md §6 requires at
// construction time; a violation is a fatal ConfigurationError.
func (c Config) Validate() error {
	if c.AdaptiveTimeout <= 0 {
		return errors.New("adaptiveTimeout must be > 0")
	}
	if c.SilenceThreshold < 0 {
		return errors.New("silenceThreshold must be >= 0")
	}
	if c.SilenceThreshold > c.AdaptiveTimeout {
		return errors.New("silenceThreshold must be <= adaptiveTimeout")
	}
	if c.MaxBufferSize <= 0 {
		return errors.New("maxBufferSize must be > 0")
	}
	if c.RateLimit.TokensPerMinute <= 0 {
		return errors.New("rateLimit.tokensPerMinute must be > 0")
	}
	if c.RateLimit.BucketCapacity <= 0 {
		return errors.New("rateLimit.bucketCapacity must be > 0")
	}
	if c.RateLimit.MaxMessagesInWindow <= 0 {
		return errors.New("rateLimit.maxMessagesInWindow must be > 0")
	}
	if c.RateLimit.SlidingWindow <= 0 {
		return errors.New("rateLimit.slidingWindow must be > 0")
	}
	if c.Errors.MaxRetries < 0 {
		return errors.New("errors.maxRetries must be >= 0")
	}
	if c.Errors.RetryDelay < 0 {
		return errors.New("errors.retryDelay must be >= 0")
	}
	if c.MaxProcessedIDs <= 0 {
		return errors.New("maxProcessedIDs must be > 0")
	}
	if c.SpeechPlayChance < 0 || c.SpeechPlayChance > 1 {
		return errors.New("speechPlayChance must be within [0,1]")
	}
	return nil
}
