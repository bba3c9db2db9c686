package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEngine_RetriesTransientFailures(t *testing.T) {
	mock := NewMockOCRProvider()
	mock.FailFirst = 2
	mock.Texts[4] = "hello"

	engine := NewEngine(mock, nil)
	result, err := engine.ProcessImage(context.Background(), []byte("img"), 4)
	if err != nil {
		t.Fatalf("ProcessImage() error = %v", err)
	}
	if result.Text != "hello" {
		t.Errorf("expected hello, got %q", result.Text)
	}
	if result.RetryCount != 2 || mock.RequestCount() != 3 {
		t.Errorf("expected 2 retries over 3 calls, got %d retries, %d calls", result.RetryCount, mock.RequestCount())
	}
}

func TestEngine_HonorsRetryAfter(t *testing.T) {
	mock := NewMockOCRProvider()
	mock.FailFirst = 1
	mock.RetryAfter = 50 * time.Millisecond

	start := time.Now()
	if _, err := NewEngine(mock, nil).ProcessImage(context.Background(), []byte("img"), 0); err != nil {
		t.Fatalf("ProcessImage() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected to wait for Retry-After, returned after %v", elapsed)
	}
}

func TestEngine_GivesUpAfterMaxRetries(t *testing.T) {
	mock := NewMockOCRProvider()
	mock.FailFirst = 100
	mock.Retries = 2

	_, err := NewEngine(mock, nil).ProcessImage(context.Background(), []byte("img"), 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if mock.RequestCount() != 3 {
		t.Errorf("expected 3 calls, got %d", mock.RequestCount())
	}
}

func TestEngine_PermanentErrorFailsFast(t *testing.T) {
	mock := NewMockOCRProvider()
	mock.FailPages = map[int]error{
		1: &APIError{Provider: "mock", StatusCode: 400, Message: "bad image"},
	}

	_, err := NewEngine(mock, nil).ProcessImage(context.Background(), []byte("img"), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("expected a single call, got %d", mock.RequestCount())
	}
}

func TestEngine_Cancelled(t *testing.T) {
	mock := NewMockOCRProvider()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewEngine(mock, nil).ProcessImage(ctx, []byte("img"), 0); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("burst then wait", func(t *testing.T) {
		rl := NewRateLimiter(20)
		ctx := context.Background()

		start := time.Now()
		for i := 0; i < 21; i++ {
			if err := rl.Wait(ctx); err != nil {
				t.Fatal(err)
			}
		}
		if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
			t.Errorf("expected the 21st request to wait, took %v", elapsed)
		}
		if rl.Status().TotalConsumed != 21 {
			t.Errorf("expected 21 consumed, got %d", rl.Status().TotalConsumed)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		rl := NewRateLimiter(0)
		for i := 0; i < 1000; i++ {
			if err := rl.Wait(context.Background()); err != nil {
				t.Fatal(err)
			}
		}
	})

	t.Run("record 429 drains bucket", func(t *testing.T) {
		rl := NewRateLimiter(1)
		rl.Record429()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := rl.Wait(ctx); err == nil {
			t.Error("expected wait to time out after 429")
		}
		if rl.Status().Last429Time.IsZero() {
			t.Error("expected 429 time recorded")
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		if _, err := New(MistralOCRName, ProviderConfig{}); err == nil {
			t.Error("expected error without api key")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		if _, err := New("paddle", ProviderConfig{}); err == nil {
			t.Error("expected error for unknown provider")
		}
	})

	t.Run("mock", func(t *testing.T) {
		p, err := New(MockOCRName, ProviderConfig{})
		if err != nil || p.Name() != MockOCRName {
			t.Errorf("unexpected result: %v, %v", p, err)
		}
	})
}

func TestRegistry_Reload(t *testing.T) {
	r := NewRegistry(nil)
	r.Reload(map[string]ProviderConfig{
		MistralOCRName: {APIKey: "k1"},
		OpenAIOCRName:  {}, // no key, skipped
		MockOCRName:    {},
	})

	names := r.Names()
	if len(names) != 2 || names[0] != MistralOCRName || names[1] != MockOCRName {
		t.Fatalf("unexpected providers: %v", names)
	}
	first, _ := r.Get(MistralOCRName)

	// unchanged config keeps the instance
	r.Reload(map[string]ProviderConfig{MistralOCRName: {APIKey: "k1"}})
	same, _ := r.Get(MistralOCRName)
	if same != first {
		t.Error("expected unchanged provider to be kept")
	}
	if _, err := r.Get(MockOCRName); err == nil {
		t.Error("expected mock to be unregistered")
	}

	// changed config rebuilds
	r.Reload(map[string]ProviderConfig{MistralOCRName: {APIKey: "k2"}})
	rebuilt, _ := r.Get(MistralOCRName)
	if rebuilt == first {
		t.Error("expected provider to be rebuilt")
	}
}

func TestRegistry_LookupFollowsReload(t *testing.T) {
	r := NewRegistry(nil)
	first := NewMockOCRProvider()
	first.Texts = map[int]string{0: "old"}
	r.Register("ocr", first)

	p, err := r.Lookup("ocr")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Lookup("missing"); err == nil {
		t.Error("expected error for unknown provider")
	}

	res, err := p.ProcessImage(context.Background(), []byte("img"), 0)
	if err != nil || res.Text != "old" {
		t.Fatalf("unexpected result %+v, %v", res, err)
	}

	second := NewMockOCRProvider()
	second.Texts = map[int]string{0: "new"}
	r.Register("ocr", second)
	res, _ = p.ProcessImage(context.Background(), []byte("img"), 0)
	if res.Text != "new" {
		t.Errorf("expected replaced provider to serve, got %q", res.Text)
	}
	if p.Name() != "ocr" {
		t.Errorf("unexpected name %s", p.Name())
	}
}
