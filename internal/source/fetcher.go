// Package source downloads the documentation text that gets indexed.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/pkg/circuitbreaker"
	"github.com/docs-agent/backend/pkg/logger"
	"github.com/docs-agent/backend/pkg/retry"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrTooLarge         = errors.New("document exceeds size limit")
	ErrEmptyDocument    = errors.New("document is empty")
)

// StatusError is a non-2xx response. It matches ErrUnexpectedStatus.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrUnexpectedStatus, e.Code)
}

func (e *StatusError) Is(target error) bool { return target == ErrUnexpectedStatus }

// clientError reports 4xx responses other than 408 and 429.
func (e *StatusError) clientError() bool {
	return e.Code >= 400 && e.Code < 500 &&
		e.Code != http.StatusRequestTimeout && e.Code != http.StatusTooManyRequests
}

// sourceUnhealthy decides what trips the breaker. Rejections of the document
// itself say nothing about the availability of the source.
func sourceUnhealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrTooLarge) || errors.Is(err, ErrEmptyDocument) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.clientError() {
		return false
	}
	return true
}

const userAgent = "docs-agent/1.0 (+https://github.com/docs-agent/backend)"

type Document struct {
	URL         string
	Content     string
	ContentType string
	// Digest is the hex sha256 of Content.
	Digest    string
	FetchedAt time.Time
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

type HTTPFetcher struct {
	httpClient *http.Client
	maxBytes   int64
	retryCfg   retry.Config
	breaker    *circuitbreaker.CircuitBreaker
}

type Option func(*HTTPFetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.httpClient = c }
}

func WithRetry(cfg retry.Config) Option {
	return func(f *HTTPFetcher) { f.retryCfg = cfg }
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64, opts ...Option) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	f := &HTTPFetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
		retryCfg: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.2,
			Logger:         logger.GetLogger(),
		},
		breaker: circuitbreaker.NewCircuitBreaker("source-fetch", circuitbreaker.Config{
			MaxRequests:      1,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			IsFailure:        sourceUnhealthy,
			Logger:           logger.GetLogger(),
		}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	logger.Info("Fetching source document", zap.String("url", url))
	start := time.Now()

	doc, err := circuitbreaker.ExecuteWithResult(ctx, f.breaker, func() (*Document, error) {
		return retry.DoWithResult(ctx, f.retryCfg, func() (*Document, error) {
			return f.fetchOnce(ctx, url)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	logger.Info("Source document fetched",
		zap.String("url", url),
		zap.Int("bytes", len(doc.Content)),
		zap.String("content_type", doc.ContentType),
		zap.Duration("duration", time.Since(start)),
	)
	return doc, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, text/html;q=0.8, */*;q=0.5")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode}
		if statusErr.clientError() {
			return nil, retry.Permanent(statusErr)
		}
		return nil, statusErr
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if f.maxBytes > 0 && int64(len(raw)) > f.maxBytes {
		return nil, retry.Permanent(fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes))
	}

	contentType := resp.Header.Get("Content-Type")
	content := string(raw)
	if isHTML(contentType) {
		content, err = extractText(content)
		if err != nil {
			return nil, retry.Permanent(err)
		}
	}

	if strings.TrimSpace(content) == "" {
		return nil, retry.Permanent(ErrEmptyDocument)
	}

	return &Document{
		URL:         url,
		Content:     content,
		ContentType: contentType,
		Digest:      Digest(content),
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// extractText strips page chrome and returns the visible body text.
func extractText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, header, noscript").Remove()
	return strings.TrimSpace(doc.Find("body").Text()), nil
}

func Digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
