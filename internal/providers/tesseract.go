//go:build tesseract

package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
)

func init() {
	factories[TesseractOCRName] = func(cfg ProviderConfig) (OCRProvider, error) {
		return NewTesseractOCR(cfg.Language), nil
	}
}

// TesseractOCR runs the local Tesseract engine. A gosseract client is not safe
// for concurrent use, so each call takes its own client.
type TesseractOCR struct {
	language string
}

// NewTesseractOCR creates a local OCR provider. language uses Tesseract codes,
// "+" separated (e.g. "eng+deu"); empty means "eng".
func NewTesseractOCR(language string) *TesseractOCR {
	if language == "" {
		language = "eng"
	}
	return &TesseractOCR{language: language}
}

func (t *TesseractOCR) Name() string                  { return TesseractOCRName }
func (t *TesseractOCR) RequestsPerSecond() float64    { return 0 }
func (t *TesseractOCR) MaxRetries() int               { return 0 }
func (t *TesseractOCR) RetryDelayBase() time.Duration { return 0 }

// ProcessImage recognizes the text of a page image.
func (t *TesseractOCR) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return failed(start, err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(t.language, "+")...); err != nil {
		return failed(start, fmt.Errorf("failed to set language: %w", err))
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return failed(start, fmt.Errorf("failed to set image: %w", err))
	}
	text, err := client.Text()
	if err != nil {
		return failed(start, fmt.Errorf("tesseract failed on page %d: %w", pageNum, err))
	}

	return &OCRResult{
		Success:       true,
		Text:          strings.TrimSpace(text),
		ExecutionTime: time.Since(start),
	}, nil
}

var _ OCRProvider = (*TesseractOCR)(nil)
