package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/ripstream/ripstream/internal/errors"
	"github.com/ripstream/ripstream/internal/network"
)

// URLFunc builds the direct media URL for an item at a quality. Each provider
// integration supplies its own; the fetcher stays agnostic of URL schemes.
type URLFunc func(itemID, quality string) (string, error)

// HTTPFetcher streams media over HTTP with a per-client politeness limiter.
// This limiter smooths burstiness toward a single host; the per-provider
// request budget is enforced separately by the rate-limit gate.
type HTTPFetcher struct {
	source    Source
	client    *http.Client
	limiter   *rate.Limiter
	buildURL  URLFunc
	authToken string
	userAgent string
}

// HTTPFetcherConfig configures an HTTPFetcher.
type HTTPFetcherConfig struct {
	Source    Source
	BuildURL  URLFunc
	AuthToken string
	UserAgent string
	// Client defaults to the shared download client.
	Client *http.Client
}

// NewHTTPFetcher creates a fetcher for one provider.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	client := cfg.Client
	if client == nil {
		client = network.GetDownloadClient()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "ripstream/1.0"
	}
	return &HTTPFetcher{
		source:   cfg.Source,
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(100*time.Millisecond), 10), // 10 requests per second
		buildURL: cfg.BuildURL,

		authToken: cfg.AuthToken,
		userAgent: userAgent,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, itemID, quality string) (io.ReadCloser, int64, error) {
	return f.FetchRange(ctx, itemID, quality, 0)
}

// FetchRange implements RangeFetcher using an HTTP Range request.
func (f *HTTPFetcher) FetchRange(ctx context.Context, itemID, quality string, offset int64) (io.ReadCloser, int64, error) {
	if f.buildURL == nil {
		return nil, 0, apperrors.NewValidationError(fmt.Sprintf("provider %s has no URL builder", f.source))
	}

	url, err := f.buildURL(itemID, quality)
	if err != nil {
		return nil, 0, apperrors.NewNotFoundError(fmt.Sprintf("no media URL for %s item %s: %v", f.source, itemID, err))
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, apperrors.NewValidationError(fmt.Sprintf("bad media URL for %s item %s: %v", f.source, itemID, err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	if f.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.authToken)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, apperrors.NewTransientError(fmt.Sprintf("fetch %s item %s", f.source, itemID), err)
	}

	if err := classifyStatus(resp.StatusCode, f.source, itemID); err != nil {
		resp.Body.Close()
		return nil, 0, err
	}

	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		// Server ignored the Range header. Carry the sentinel so callers can
		// discard their partial file and refetch from zero.
		resp.Body.Close()
		return nil, 0, apperrors.NewTransientError(
			fmt.Sprintf("%s does not support resume for item %s", f.source, itemID),
			ErrResumeNotSupported)
	}

	size := resp.ContentLength
	if size >= 0 {
		size += offset
	}
	return resp.Body, size, nil
}

// classifyStatus maps an HTTP status to the error taxonomy.
func classifyStatus(status int, source Source, itemID string) error {
	switch {
	case status == http.StatusOK || status == http.StatusPartialContent:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.NewAuthError(fmt.Sprintf("%s rejected credentials for item %s (HTTP %d)", source, itemID, status), nil)
	case status == http.StatusNotFound || status == http.StatusGone:
		return apperrors.NewNotFoundError(fmt.Sprintf("%s has no item %s (HTTP %d)", source, itemID, status))
	case status == http.StatusTooManyRequests:
		return apperrors.NewRateLimitError(fmt.Sprintf("%s throttled item %s (HTTP 429)", source, itemID))
	case status >= 500:
		return apperrors.NewTransientError(fmt.Sprintf("%s server error for item %s (HTTP %d)", source, itemID, status), nil)
	default:
		return apperrors.NewTransientError(fmt.Sprintf("%s unexpected status for item %s (HTTP %d)", source, itemID, status), nil)
	}
}
