package vinted

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/observability"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

const (
	apiPath = "/api/v2/catalog/items"
	// AccessTokenCookie is set by the marketplace landing page and doubles
	// as the bearer token for the catalog API.
	AccessTokenCookie = "access_token_web"
)

// Session is the slice of a token session the client needs for one call: the
// HTTP client already bound to a proxy and cookie jar, the UA the token was
// obtained with, and the bearer itself.
type Session struct {
	Client    *http.Client
	UserAgent string
	Token     string
}

// Client executes catalog searches and classifies their outcomes.
type Client struct {
	// OnRequest is invoked after every completed HTTP exchange; the
	// orchestrator wires it to the process-wide API request counter.
	OnRequest func(ctx context.Context)
}

// New constructs a Client.
func New(onRequest func(ctx context.Context)) *Client {
	return &Client{OnRequest: onRequest}
}

// Search calls the catalog API for the given saved-search URL and returns a
// classified outcome. It never panics and only the transport variant carries
// an error; auth and rate-limit statuses come back as data.
func (c *Client) Search(ctx context.Context, s Session, rawURL string, perPage int) domain.Outcome {
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.Outcome{Kind: domain.OutcomeTransport, Cause: fmt.Errorf("op=vinted.search: %w: %v", domain.ErrInvalidArgument, err)}
	}
	params := BuildAPIParams(u, perPage, 1)
	apiURL := u.Scheme + "://" + u.Host + apiPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return domain.Outcome{Kind: domain.OutcomeTransport, Cause: fmt.Errorf("op=vinted.search: %w", err)}
	}
	SetCommonHeaders(req.Header, s.UserAgent)
	req.Header.Set("Referer", u.Scheme+"://"+u.Host+"/")
	req.Header.Set("Origin", u.Scheme+"://"+u.Host)
	req.Header.Set("Authorization", "Bearer "+s.Token)
	req.Host = u.Host

	start := time.Now()
	resp, err := s.Client.Do(req)
	if err != nil {
		observability.ObserveCatalogRequest(0, time.Since(start))
		return domain.Outcome{Kind: domain.OutcomeTransport, Cause: fmt.Errorf("op=vinted.search: %w: %v", domain.ErrUpstreamTransport, err)}
	}
	defer func() { _ = resp.Body.Close() }()
	if c.OnRequest != nil {
		c.OnRequest(ctx)
	}
	observability.ObserveCatalogRequest(resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.Outcome{Kind: domain.OutcomeTransport, Cause: fmt.Errorf("op=vinted.search: read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return domain.Outcome{Kind: domain.OutcomeHTTPError, Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	items, err := parseItems(body, u.Scheme, u.Host)
	if err != nil {
		return domain.Outcome{Kind: domain.OutcomeTransport, Cause: err}
	}
	return domain.Outcome{Kind: domain.OutcomeItems, Items: items, Status: resp.StatusCode}
}

// AcquireToken performs the landing-page navigation that makes the upstream
// set the access token cookie, and returns the token. The client's cookie jar
// must be empty or owned exclusively by this session.
func (c *Client) AcquireToken(ctx context.Context, hc *http.Client, baseURL, ua string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/", nil)
	if err != nil {
		return "", fmt.Errorf("op=vinted.acquire_token: %w", err)
	}
	SetDocumentHeaders(req.Header, ua)

	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=vinted.acquire_token: %w: %v", domain.ErrUpstreamTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so keep-alive can reuse the connection.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<20))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("op=vinted.acquire_token: status %d: %w", resp.StatusCode, domain.ErrTokenAcquisition)
	}
	u, err := url.Parse(baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("op=vinted.acquire_token: %w", err)
	}
	if hc.Jar != nil {
		for _, ck := range hc.Jar.Cookies(u) {
			if ck.Name == AccessTokenCookie && ck.Value != "" {
				return ck.Value, nil
			}
		}
	}
	return "", fmt.Errorf("op=vinted.acquire_token: cookie %s absent: %w", AccessTokenCookie, domain.ErrTokenAcquisition)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
