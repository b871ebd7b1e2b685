// Package directory fetches coworker snapshots from the company directory's
// REST API.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/njoerd114/coworkersync/internal/model"
)

// maxResponseBytes bounds the size of a coworkers payload.
const maxResponseBytes = 32 << 20

// Client reads coworker snapshots for one directory deployment. Create one
// with [NewClient].
type Client struct {
	base   *url.URL
	hc     *http.Client
	logger *slog.Logger

	maxAttempts int
	delay       func(attempt int) time.Duration
}

// NewClient creates a Client that authenticates with a static bearer token.
// Every request is bounded by timeout.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	hc := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	hc.Timeout = timeout
	return newClient(baseURL, hc, logger)
}

func newClient(baseURL string, hc *http.Client, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse directory url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("directory url %q must be absolute", baseURL)
	}
	return &Client{
		base:        base,
		hc:          hc,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		delay:       backoffDelay,
	}, nil
}

// Ping validates the directory connection and token with retry.
func (c *Client) Ping(ctx context.Context) error {
	endpoint := c.base.JoinPath("api", "v1", "status")
	err := retry(ctx, c.maxAttempts, c.delay, func() error {
		return c.get(ctx, endpoint, nil)
	})
	if err != nil {
		return fmt.Errorf("ping directory: %w", err)
	}
	return nil
}

// Fetch returns the complete current set of coworkers visible to identity.
// Errors wrap [model.ErrNotAuthorized] when the directory rejects the token
// and [model.ErrNotAvailable] when it cannot be reached after retrying.
func (c *Client) Fetch(ctx context.Context, identity string) ([]model.RemoteContact, error) {
	endpoint := c.base.JoinPath("api", "v1", "accounts", url.PathEscape(identity), "coworkers")

	var resp coworkersResponse
	err := retry(ctx, c.maxAttempts, c.delay, func() error {
		resp = coworkersResponse{}
		return c.get(ctx, endpoint, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch coworkers for %s: %w", identity, err)
	}

	if resp.Coworkers == nil {
		return nil, fmt.Errorf("fetch coworkers for %s: response has no coworkers list: %w", identity, model.ErrNotAvailable)
	}

	dtos := *resp.Coworkers
	contacts := toContacts(c.base, dtos, c.logger.With("identity", identity))
	c.logger.Debug("fetched coworkers", "identity", identity, "count", len(contacts), "received", len(dtos))
	return contacts, nil
}

// get issues a GET and decodes the JSON body into out when out is non-nil.
// Rejected credentials and unknown resources are reported as permanent so
// Retry does not repeat them.
func (c *Client) get(ctx context.Context, endpoint *url.URL, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return permanent(fmt.Errorf("create directory request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return permanent(ctx.Err())
		}
		return fmt.Errorf("execute directory request: %w: %w", model.ErrNotAvailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return permanent(fmt.Errorf("directory returned %d: %w", resp.StatusCode, model.ErrNotAuthorized))
	case resp.StatusCode == http.StatusNotFound:
		return permanent(fmt.Errorf("directory returned 404 for %s: %w", endpoint.Path, model.ErrNotAvailable))
	case resp.StatusCode >= 300:
		return fmt.Errorf("directory returned unexpected status %d: %w", resp.StatusCode, model.ErrNotAvailable)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode directory response: %w: %w", model.ErrNotAvailable, err)
	}
	return nil
}
