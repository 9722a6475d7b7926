// Package catalog validates and searches model ids against a remote HTTP
// model catalog (spec.md §4.6).
package catalog

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"blackbox/internal/telemetry"
)

// Result is the normalized outcome of a catalog lookup.
type Result struct {
	CanonicalID string
	Gated       bool
}

// Client issues id validation and search requests against baseURL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a catalog Client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Validate looks up id, following a 404 into Search, per spec.md §4.6. All
// inputs are whitespace-trimmed before use.
func (c *Client) Validate(ctx context.Context, id, token string) (*Result, error) {
	id = strings.TrimSpace(id)
	token = strings.TrimSpace(token)

	return c.validate(ctx, id, token, 0)
}

const maxSearchRecursion = 5

func (c *Client) validate(ctx context.Context, id, token string, depth int) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.validate")
	defer span.End()
	telemetry.SetAttributes(ctx, attribute.String("catalog.model_id", id), attribute.Int("catalog.recursion_depth", depth))

	if depth > maxSearchRecursion {
		err := fmt.Errorf("catalog: validation recursion limit exceeded for %q", id)
		telemetry.SetError(ctx, err)
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/api/models/%s", c.baseURL, encodeModelID(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		telemetry.SetError(ctx, err)
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		mapped := mapConnectionError(err)
		telemetry.SetError(ctx, mapped)
		return nil, mapped
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body struct {
			ID    string `json:"id"`
			Gated any    `json:"gated"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("catalog: decode response: %w", err)
		}
		canonical := body.ID
		if canonical == "" {
			canonical = id
		}
		return &Result{CanonicalID: canonical, Gated: body.Gated == true}, nil

	case http.StatusNotFound:
		results, err := c.Search(ctx, id, token)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, fmt.Errorf("catalog: model %q not found", id)
		}
		return c.validate(ctx, results[0], token, depth+1)

	default:
		return nil, fmt.Errorf("catalog: unexpected status %d", resp.StatusCode)
	}
}

// Search queries the catalog's search endpoint, returning up to 5 candidate
// ids sorted by downloads descending.
func (c *Client) Search(ctx context.Context, query, token string) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.search")
	defer span.End()
	telemetry.SetAttributes(ctx, attribute.String("catalog.query", query))

	reqURL := fmt.Sprintf("%s/api/models?search=%s&sort=downloads&direction=-1&limit=5",
		c.baseURL, url.QueryEscape(strings.TrimSpace(query)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		telemetry.SetError(ctx, err)
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		mapped := mapConnectionError(err)
		telemetry.SetError(ctx, mapped)
		return nil, mapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: search returned status %d", resp.StatusCode)
	}

	var results []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("catalog: decode search response: %w", err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// encodeModelID URL-encodes id while preserving "/", ".", "-", "_", "~" per
// spec.md §4.6.
func encodeModelID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r == '/' || r == '.' || r == '-' || r == '_' || r == '~':
			b.WriteRune(r)
		default:
			b.WriteString(url.QueryEscape(string(r)))
		}
	}
	return b.String()
}

// mapConnectionError maps a failed request to the curl-equivalent human
// message spec.md §4.6 specifies, using the Go standard error taxonomy
// instead of shelling out to curl.
func mapConnectionError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("catalog: could not resolve host: %w", err)
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return fmt.Errorf("catalog: SSL certificate problem: %w", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("catalog: timeout: %w", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return fmt.Errorf("catalog: failed to connect: %w", err)
		}
		if strings.Contains(opErr.Err.Error(), "tls") {
			return fmt.Errorf("catalog: SSL connect error: %w", err)
		}
	}

	return fmt.Errorf("catalog: request failed: %w", err)
}
