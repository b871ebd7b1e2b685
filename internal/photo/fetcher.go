// Package photo downloads contact photos and normalizes them to JPEG.
package photo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/njoerd114/coworkersync/internal/model"
)

// ErrTooLarge is returned when a photo exceeds the configured size cap.
var ErrTooLarge = errors.New("photo exceeds size limit")

// Fetcher downloads photos over HTTP, throttled to a fixed request rate and
// bounded in size. It is safe for concurrent use.
type Fetcher struct {
	hc       *http.Client
	limiter  *rate.Limiter
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher. A non-positive ratePerSecond disables
// throttling.
func NewFetcher(timeout time.Duration, ratePerSecond float64, maxBytes int64, logger *slog.Logger) *Fetcher {
	return newFetcher(&http.Client{Timeout: timeout}, ratePerSecond, maxBytes, logger)
}

func newFetcher(hc *http.Client, ratePerSecond float64, maxBytes int64, logger *slog.Logger) *Fetcher {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = max(1, int(ratePerSecond))
	}
	return &Fetcher{
		hc:       hc,
		limiter:  rate.NewLimiter(limit, burst),
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Fetch downloads the photo at url and returns it re-encoded as
// [model.PhotoMIMEType].
// Missing photos and transport failures wrap [model.ErrNotAvailable].
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for photo rate limit: %w", err)
	}

	raw, err := f.download(ctx, url)
	if err != nil {
		return nil, err
	}

	out, err := Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize photo %s: %w", url, err)
	}
	f.logger.Debug("photo fetched", "url", url, "bytes", len(raw), "jpeg_bytes", len(out))
	return out, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create photo request: %w: %w", model.ErrNotAvailable, err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch photo %s: %w: %w", url, model.ErrNotAvailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("photo %s returned status %d: %w", url, resp.StatusCode, model.ErrNotAvailable)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("photo %s is %d bytes: %w", url, resp.ContentLength, ErrTooLarge)
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read photo %s: %w: %w", url, model.ErrNotAvailable, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("photo %s: %w", url, ErrTooLarge)
	}
	return data, nil
}
