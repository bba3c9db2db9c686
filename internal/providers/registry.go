package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TesseractOCRName is registered only in binaries built with the tesseract tag.
const TesseractOCRName = "tesseract"

// ProviderConfig is the resolved configuration of one OCR backend.
type ProviderConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	Language  string // tesseract only
	RateLimit float64
	Retries   int
	Timeout   time.Duration
}

type factory func(cfg ProviderConfig) (OCRProvider, error)

// factories maps provider names to constructors. Build-tagged files add to it
// from init.
var factories = map[string]factory{
	MistralOCRName: func(cfg ProviderConfig) (OCRProvider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: api_key is required", MistralOCRName)
		}
		return NewMistralOCRClient(MistralOCRConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Retries:   cfg.Retries,
		}), nil
	},
	OpenAIOCRName: func(cfg ProviderConfig) (OCRProvider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: api_key is required", OpenAIOCRName)
		}
		return NewOpenAIOCRClient(OpenAIOCRConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			RateLimit: cfg.RateLimit,
			Retries:   cfg.Retries,
			Timeout:   cfg.Timeout,
		}), nil
	},
	MockOCRName: func(cfg ProviderConfig) (OCRProvider, error) {
		return NewMockOCRProvider(), nil
	},
}

// Available returns the provider names compiled into this binary.
func Available() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the named provider.
func New(name string, cfg ProviderConfig) (OCRProvider, error) {
	f, ok := factories[name]
	if !ok {
		if name == TesseractOCRName {
			return nil, fmt.Errorf("OCR provider %q is not compiled in (rebuild with -tags tesseract)", name)
		}
		return nil, fmt.Errorf("unknown OCR provider %q (available: %v)", name, Available())
	}
	return f(cfg)
}

// Registry holds configured OCR providers by name and supports reloading
// them when configuration changes.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]OCRProvider
	configs   map[string]ProviderConfig
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		providers: make(map[string]OCRProvider),
		configs:   make(map[string]ProviderConfig),
		logger:    logger,
	}
}

// Register adds or replaces a provider.
func (r *Registry) Register(name string, p OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	r.logger.Debug("registered OCR provider", "name", name)
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("OCR provider not configured: %s", name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload builds every configured provider. Unchanged providers are kept,
// changed ones are rebuilt, and providers missing from cfgs are removed. A
// provider that fails to build is logged and skipped.
func (r *Registry) Reload(cfgs map[string]ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, cfg := range cfgs {
		if old, ok := r.configs[name]; ok && old == cfg {
			continue
		}
		p, err := New(name, cfg)
		if err != nil {
			r.logger.Debug("OCR provider not available", "name", name, "reason", err)
			delete(r.providers, name)
			delete(r.configs, name)
			continue
		}
		_, existed := r.providers[name]
		r.providers[name] = p
		r.configs[name] = cfg
		if existed {
			r.logger.Info("updated OCR provider", "name", name)
		} else {
			r.logger.Debug("registered OCR provider", "name", name)
		}
	}

	for name := range r.providers {
		if _, ok := cfgs[name]; !ok {
			delete(r.providers, name)
			delete(r.configs, name)
			r.logger.Info("unregistered OCR provider", "name", name)
		}
	}
}

// Lookup returns an OCRProvider that resolves name in the registry on every
// call, so a reload (for example a rotated API key) applies to in-flight runs.
// Limits are taken from the provider registered when Lookup is called.
func (r *Registry) Lookup(name string) (OCRProvider, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return &lookup{registry: r, name: name, initial: p}, nil
}

type lookup struct {
	registry *Registry
	name     string
	initial  OCRProvider
}

func (l *lookup) current() OCRProvider {
	if p, err := l.registry.Get(l.name); err == nil {
		return p
	}
	return l.initial
}

func (l *lookup) Name() string { return l.name }

func (l *lookup) RequestsPerSecond() float64 { return l.initial.RequestsPerSecond() }

func (l *lookup) MaxRetries() int { return l.initial.MaxRetries() }

func (l *lookup) RetryDelayBase() time.Duration { return l.initial.RetryDelayBase() }

func (l *lookup) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	return l.current().ProcessImage(ctx, image, pageNum)
}
