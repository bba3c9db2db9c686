package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

const (
	MistralOCRName    = "mistral-ocr"
	MistralOCRBaseURL = "https://api.mistral.ai/v1"
	MistralOCRModel   = "mistral-ocr-latest"

	// $1 per 1000 pages
	MistralOCRCostPerPage = 0.001
)

// MistralOCRConfig holds configuration for the Mistral OCR client.
type MistralOCRConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	RateLimit float64 // requests per second (default: 6.0)
	Retries   int     // default: 3
}

// MistralOCRClient sends one rendered page per request to the Mistral OCR
// endpoint and returns the page markdown as text.
//
// Picture regions come back as markdown image links ("![img-0.jpeg](img-0.jpeg)").
// Figures are taken from the extractor, so those links are dropped from the text.
type MistralOCRClient struct {
	endpoint  string
	apiKey    string
	model     string
	rateLimit float64
	retries   int
	http      *http.Client
}

// NewMistralOCRClient creates a new Mistral OCR client.
func NewMistralOCRClient(cfg MistralOCRConfig) *MistralOCRClient {
	c := &MistralOCRClient{
		endpoint:  MistralOCRBaseURL + "/ocr",
		apiKey:    cfg.APIKey,
		model:     MistralOCRModel,
		rateLimit: 6.0,
		retries:   3,
		http:      &http.Client{Timeout: 120 * time.Second},
	}
	if cfg.BaseURL != "" {
		c.endpoint = cfg.BaseURL + "/ocr"
	}
	if cfg.Model != "" {
		c.model = cfg.Model
	}
	if cfg.RateLimit != 0 {
		c.rateLimit = cfg.RateLimit
	}
	if cfg.Retries != 0 {
		c.retries = cfg.Retries
	}
	if cfg.Timeout != 0 {
		c.http.Timeout = cfg.Timeout
	}
	return c
}

func (c *MistralOCRClient) Name() string                  { return MistralOCRName }
func (c *MistralOCRClient) RequestsPerSecond() float64    { return c.rateLimit }
func (c *MistralOCRClient) MaxRetries() int               { return c.retries }
func (c *MistralOCRClient) RetryDelayBase() time.Duration { return 2 * time.Second }

// ProcessImage transcribes one PNG page image.
func (c *MistralOCRClient) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()

	resp, err := c.post(ctx, mistralOCRRequest{
		Model: c.model,
		Document: mistralDocument{
			Type:     "image_url",
			ImageURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
		},
	})
	if err != nil {
		return failed(start, err)
	}
	if len(resp.Pages) == 0 {
		return failed(start, errors.New("no pages in OCR response"))
	}
	page := resp.Pages[0]

	billed := 1
	if resp.UsageInfo != nil && resp.UsageInfo.PagesProcessed > 0 {
		billed = resp.UsageInfo.PagesProcessed
	}

	return &OCRResult{
		Success: true,
		Text:    stripImageLinks(page.Markdown),
		Metadata: map[string]any{
			"model_used":    resp.Model,
			"page":          pageNum,
			"width":         page.Dimensions.Width,
			"height":        page.Dimensions.Height,
			"image_regions": len(page.Images),
		},
		CostUSD:       float64(billed) * MistralOCRCostPerPage,
		ExecutionTime: time.Since(start),
	}, nil
}

func (c *MistralOCRClient) post(ctx context.Context, body mistralOCRRequest) (*mistralOCRResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mistralError(resp, data)
	}

	var out mistralOCRResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode OCR response: %w", err)
	}
	return &out, nil
}

func mistralError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   MistralOCRName,
		StatusCode: resp.StatusCode,
		Message:    string(body),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
	}
	return apiErr
}

var imageLink = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)\n?`)

// stripImageLinks removes markdown image links, including the line break that
// ends a link standing on its own line.
func stripImageLinks(markdown string) string {
	return imageLink.ReplaceAllString(markdown, "")
}

type mistralOCRRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url,omitempty"`
}

type mistralOCRResponse struct {
	Model     string            `json:"model"`
	Pages     []mistralOCRPage  `json:"pages"`
	UsageInfo *mistralUsageInfo `json:"usage_info,omitempty"`
}

type mistralOCRPage struct {
	Markdown   string                `json:"markdown"`
	Images     []json.RawMessage     `json:"images,omitempty"`
	Dimensions mistralPageDimensions `json:"dimensions"`
}

type mistralPageDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type mistralUsageInfo struct {
	PagesProcessed int `json:"pages_processed"`
}

var _ OCRProvider = (*MistralOCRClient)(nil)
