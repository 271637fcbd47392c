// Package httpfetch wraps upstream HTTP calls with a hard per-call deadline
// and maps transport and status failures onto the typed fault set.
package httpfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"marketfeed/internal/core/domain"
)

// DefaultTimeout bounds a single network attempt when no per-source value
// is configured.
const DefaultTimeout = 10 * time.Second

// Client issues JSON GET requests against source endpoints.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// New creates a client with pooled connections, mirroring the transport
// settings used for upstream providers.
func New(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = "marketfeed/1.0"
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: userAgent,
	}
}

// Fetch performs one GET and returns the body, which must be well-formed
// JSON. All failure paths return a *domain.Fault so callers can switch on
// the kind instead of matching message text.
func (c *Client) Fetch(ctx context.Context, src domain.SourceID, url string) (domain.RawPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewFault(domain.KindBadRequest, src, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportFault(src, err)
	}
	defer resp.Body.Close()

	if fault := statusFault(src, resp.StatusCode); fault != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fault
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, c.transportFault(src, err)
	}

	if !json.Valid(body) {
		return nil, domain.NewFault(domain.KindMalformed, src,
			fmt.Errorf("response is not valid JSON (%d bytes)", len(body)))
	}

	return domain.RawPayload(body), nil
}

func (c *Client) transportFault(src domain.SourceID, err error) *domain.Fault {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewFault(domain.KindTimeout, src, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewFault(domain.KindTimeout, src, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.NewFault(domain.KindConnection, src, err)
	}
	return domain.NewFault(domain.KindConnection, src, err)
}

func statusFault(src domain.SourceID, status int) *domain.Fault {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &domain.Fault{Kind: domain.KindRateLimited, Source: src, Status: status,
			Err: fmt.Errorf("HTTP %d", status)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.Fault{Kind: domain.KindUnauthorized, Source: src, Status: status,
			Err: fmt.Errorf("HTTP %d", status)}
	case status >= 500:
		return &domain.Fault{Kind: domain.KindUpstream, Source: src, Status: status,
			Err: fmt.Errorf("HTTP %d", status)}
	default:
		return &domain.Fault{Kind: domain.KindBadRequest, Source: src, Status: status,
			Err: fmt.Errorf("HTTP %d", status)}
	}
}
