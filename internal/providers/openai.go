package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const (
	OpenAIOCRName  = "openai"
	OpenAIOCRModel = "gpt-5-mini"
)

const openAIOCRPrompt = `Transcribe all text on this page of an academic paper as plain text.
Keep the reading order and join columns in reading order.
Keep figure and table captions exactly as printed (e.g. "Figure 2: ...", "Table 1: ..."), each starting on its own line at the end of the page.
Do not describe images and do not add any commentary.`

// OpenAIOCRConfig holds configuration for the OpenAI vision OCR client.
type OpenAIOCRConfig struct {
	APIKey    string
	BaseURL   string // for compatible endpoints and tests
	Model     string
	RateLimit float64
	Retries   int
	Timeout   time.Duration
}

// OpenAIOCRClient transcribes page images with a vision model through the
// Responses API.
type OpenAIOCRClient struct {
	client    openai.Client
	model     string
	rateLimit float64
	retries   int
	timeout   time.Duration
}

// NewOpenAIOCRClient creates a new OpenAI OCR client. SDK retries are disabled;
// Engine owns the retry policy.
func NewOpenAIOCRClient(cfg OpenAIOCRConfig) *OpenAIOCRClient {
	if cfg.Model == "" {
		cfg.Model = OpenAIOCRModel
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 2.0
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIOCRClient{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		rateLimit: cfg.RateLimit,
		retries:   cfg.Retries,
		timeout:   cfg.Timeout,
	}
}

func (c *OpenAIOCRClient) Name() string                  { return OpenAIOCRName }
func (c *OpenAIOCRClient) RequestsPerSecond() float64    { return c.rateLimit }
func (c *OpenAIOCRClient) MaxRetries() int               { return c.retries }
func (c *OpenAIOCRClient) RetryDelayBase() time.Duration { return 3 * time.Second }

// ProcessImage sends the page image together with a transcription prompt.
func (c *OpenAIOCRClient) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
	resp, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(
					responses.ResponseInputMessageContentListParam{
						responses.ResponseInputContentUnionParam{
							OfInputImage: &responses.ResponseInputImageParam{
								ImageURL: openai.String(dataURL),
								Detail:   responses.ResponseInputImageDetailHigh,
							},
						},
						responses.ResponseInputContentParamOfInputText(openAIOCRPrompt),
					},
					"user",
				),
			},
		},
	})
	if err != nil {
		var sdkErr *openai.Error
		if errors.As(err, &sdkErr) {
			apiErr := &APIError{Provider: OpenAIOCRName, StatusCode: sdkErr.StatusCode, Message: sdkErr.Error()}
			if sdkErr.Response != nil {
				apiErr.RetryAfter = parseRetryAfter(sdkErr.Response.Header.Get("Retry-After"))
			}
			err = apiErr
		}
		return failed(start, err)
	}

	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return failed(start, fmt.Errorf("empty transcription for page %d", pageNum))
	}

	return &OCRResult{
		Success: true,
		Text:    text,
		Metadata: map[string]any{
			"model_used":    resp.Model,
			"page":          pageNum,
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
		ExecutionTime: time.Since(start),
	}, nil
}

var _ OCRProvider = (*OpenAIOCRClient)(nil)
