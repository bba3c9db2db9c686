// Package retrieve turns source list entries (URLs or local paths) into local
// PDF files, downloading into a cache keyed by the URL.
package retrieve

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// Error is a retrieval failure for one source. It is fatal for that document only.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieve %s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// statusError is a non-200 download response.
type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// ParseSourceList reads newline-delimited sources. Surrounding whitespace is
// trimmed; blank lines and lines starting with '#' are skipped.
func ParseSourceList(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read source list: %w", err)
	}
	return out, nil
}

// ReadSourceList reads a source list file.
func ReadSourceList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSourceList(f)
}

// CacheName is the cache file name for a URL: the first 16 hex digits of its
// SHA-1 plus ".pdf".
func CacheName(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])[:16] + ".pdf"
}

// IsURL reports whether source is an http(s) URL rather than a local path.
func IsURL(source string) bool {
	u, err := url.Parse(source)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Config configures a Fetcher.
type Config struct {
	CacheDir string
	Client   *http.Client // default: 60s timeout
	Attempts uint         // default: 3
	Delay    time.Duration
	Logger   *slog.Logger
}

// Fetcher resolves sources to local files.
type Fetcher struct {
	cacheDir string
	client   *http.Client
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg Config) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay == 0 {
		cfg.Delay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		cacheDir: cfg.CacheDir,
		client:   cfg.Client,
		attempts: cfg.Attempts,
		delay:    cfg.Delay,
		logger:   cfg.Logger,
	}
}

// Fetch returns a local path for source. Local paths are used in place; URLs
// are downloaded once into the cache dir and reused afterwards. Failures are
// returned as *Error.
func (f *Fetcher) Fetch(ctx context.Context, source string) (string, error) {
	if !IsURL(source) {
		info, err := os.Stat(source)
		if err != nil {
			return "", &Error{Source: source, Err: err}
		}
		if info.IsDir() {
			return "", &Error{Source: source, Err: errors.New("is a directory")}
		}
		return source, nil
	}

	dest := filepath.Join(f.cacheDir, CacheName(source))
	if _, err := os.Stat(dest); err == nil {
		f.logger.Debug("using cached download", "source", source, "path", dest)
		return dest, nil
	}
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", &Error{Source: source, Err: err}
	}

	err := retry.Do(
		func() error {
			return f.download(ctx, source, dest)
		},
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if !retry.IsRecoverable(err) {
				return false
			}
			var se statusError
			if errors.As(err, &se) {
				return se.code == http.StatusTooManyRequests || se.code >= 500
			}
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Warn("download failed, retrying", "source", source, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return "", &Error{Source: source, Err: err}
	}

	f.logger.Info("downloaded", "source", source, "path", dest)
	return dest, nil
}

// download writes to a temp file and renames it into place, so an
// interrupted download never looks cached.
func (f *Fetcher) download(ctx context.Context, source, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError{code: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return retry.Unrecoverable(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
