package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

// Engine paces and retries calls to one OCRProvider. It satisfies the chunk
// package's OCR interface and is safe for concurrent use across chunks.
type Engine struct {
	provider OCRProvider
	limiter  *RateLimiter
	logger   *slog.Logger
}

// NewEngine wraps provider with its declared rate limit and retry policy.
func NewEngine(provider OCRProvider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider: provider,
		limiter:  NewRateLimiter(provider.RequestsPerSecond()),
		logger:   logger.With("ocr", provider.Name()),
	}
}

// Name returns the wrapped provider's name.
func (e *Engine) Name() string {
	return e.provider.Name()
}

// Limiter exposes the engine's rate limiter for status reporting.
func (e *Engine) Limiter() *RateLimiter {
	return e.limiter
}

// ProcessImage runs OCR on one page, retrying transient failures with
// exponential backoff, or after the server's Retry-After when one was sent.
// Permanent API errors (4xx other than 429) fail fast.
func (e *Engine) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	var (
		result   *OCRResult
		attempts int
	)

	err := retry.Do(
		func() error {
			attempts++
			if err := e.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			res, err := e.provider.ProcessImage(ctx, image, pageNum)
			if err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
					e.limiter.Record429()
				}
				if !retryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			result = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.provider.MaxRetries()+1)),
		retry.Delay(e.provider.RetryDelayBase()),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				return apiErr.RetryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Debug("retrying OCR", "page", pageNum, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("OCR page %d: %w", pageNum, err)
	}
	if result == nil {
		return nil, fmt.Errorf("OCR page %d: provider returned no result", pageNum)
	}

	result.RetryCount = attempts - 1
	return result, nil
}

var _ OCRProvider = (*Engine)(nil)

// RequestsPerSecond returns the wrapped provider's rate.
func (e *Engine) RequestsPerSecond() float64 { return e.provider.RequestsPerSecond() }

// MaxRetries is zero: the engine already retries internally.
func (e *Engine) MaxRetries() int { return 0 }

// RetryDelayBase returns the wrapped provider's base delay.
func (e *Engine) RetryDelayBase() time.Duration { return e.provider.RetryDelayBase() }
