package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockOCRName = "mock"

// MockOCRProvider is an OCRProvider for tests and dry runs. It returns
// Texts[pageNum] when present and a placeholder otherwise.
type MockOCRProvider struct {
	Latency    time.Duration
	Texts      map[int]string
	FailPages  map[int]error // permanent per-page failures
	FailFirst  int           // the first N calls fail with a transient error
	RetryAfter time.Duration // Retry-After carried by FailFirst errors
	RPS        float64
	Retries    int
	RetryDelay time.Duration

	mu           sync.Mutex
	requestCount atomic.Int64
	pages        []int
}

// NewMockOCRProvider creates a mock with no latency and fast retries.
func NewMockOCRProvider() *MockOCRProvider {
	return &MockOCRProvider{
		Texts:      map[int]string{},
		Retries:    3,
		RetryDelay: time.Millisecond,
	}
}

func (p *MockOCRProvider) Name() string                  { return MockOCRName }
func (p *MockOCRProvider) RequestsPerSecond() float64    { return p.RPS }
func (p *MockOCRProvider) MaxRetries() int               { return p.Retries }
func (p *MockOCRProvider) RetryDelayBase() time.Duration { return p.RetryDelay }

// ProcessImage returns the scripted text for pageNum.
func (p *MockOCRProvider) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()
	count := p.requestCount.Add(1)

	p.mu.Lock()
	p.pages = append(p.pages, pageNum)
	p.mu.Unlock()

	if int(count) <= p.FailFirst {
		return failed(start, &APIError{Provider: MockOCRName, StatusCode: 503, Message: "mock unavailable", RetryAfter: p.RetryAfter})
	}
	if err, ok := p.FailPages[pageNum]; ok {
		return failed(start, err)
	}

	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return failed(start, ctx.Err())
		}
	}

	text, ok := p.Texts[pageNum]
	if !ok {
		text = fmt.Sprintf("page %d", pageNum)
	}
	return &OCRResult{
		Success:       true,
		Text:          text,
		ExecutionTime: time.Since(start),
		Metadata:      map[string]any{"image_bytes": len(image)},
	}, nil
}

// RequestCount returns the number of calls made.
func (p *MockOCRProvider) RequestCount() int64 {
	return p.requestCount.Load()
}

// Pages returns the page numbers requested, in call order.
func (p *MockOCRProvider) Pages() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.pages...)
}

var _ OCRProvider = (*MockOCRProvider)(nil)
