// Package mijnhost implements the provider interface against the mijn.host
// DNS API (v2). The API is treated as a black box: request and response
// shapes live in this package only.
package mijnhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/libdns/libdns"

	"github.com/jvhoven/mijnhost-ddns/config"
	"github.com/jvhoven/mijnhost-ddns/metrics"
	"github.com/jvhoven/mijnhost-ddns/provider"
)

const userAgent = "mijnhost-ddns/1.0"

type Client struct {
	apiKey  string
	baseURL string
	ttl     time.Duration
	http    *retryablehttp.Client
	metrics *metrics.Metrics
}

func New(cfg config.Provider, apiKey string, m *metrics.Metrics) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("mijnhost: API key required: %w", provider.ErrAuth)
	}

	// Rate-limit handling is delegated to retryablehttp: 429 and 5xx
	// responses are retried with backoff, honoring Retry-After. The bounds
	// come from config so the worst case stays under the check interval.
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil
	// Hand back the final response instead of a generic "giving up" error so
	// a persistent 429 still maps to ErrRateLimit.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		ttl:     time.Duration(cfg.TTL) * time.Second,
		http:    rc,
		metrics: m,
	}, nil
}

// wire shapes

type wireRecord struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type"`
	Name  string `json:"name"` // FQDN with trailing dot
	Value string `json:"value"`
	TTL   int    `json:"ttl"`
}

type recordsResponse struct {
	Data struct {
		Records []wireRecord `json:"records"`
	} `json:"data"`
}

type recordResponse struct {
	Data struct {
		Record wireRecord `json:"record"`
	} `json:"data"`
}

type errorResponse struct {
	Status      int    `json:"status"`
	Description string `json:"status_description"`
}

func (c *Client) Verify(ctx context.Context) error {
	slog.Debug("verifying mijn.host API credential")
	err := c.do(ctx, http.MethodGet, c.baseURL+"/domains", nil, nil)
	c.metrics.IncProviderRequest("verify", "", err == nil)
	return err
}

func (c *Client) ListRecords(ctx context.Context, domain string) ([]provider.Record, error) {
	slog.Debug("listing DNS records", "domain", domain)
	start := time.Now()

	var resp recordsResponse
	err := c.do(ctx, http.MethodGet, c.recordsURL(domain), nil, &resp)
	c.metrics.IncProviderRequest("list", domain, err == nil)
	if err != nil {
		return nil, fmt.Errorf("list records for %s: %w", domain, err)
	}

	records := make([]provider.Record, 0, len(resp.Data.Records))
	for _, wr := range resp.Data.Records {
		records = append(records, provider.Record{
			ID: wr.ID,
			RR: libdns.RR{
				Name: relativeName(wr.Name, domain),
				Type: wr.Type,
				Data: wr.Value,
				TTL:  time.Duration(wr.TTL) * time.Second,
			},
		})
	}
	slog.Debug("listed DNS records", "domain", domain, "count", len(records), "duration", time.Since(start))
	return records, nil
}

func (c *Client) CreateRecord(ctx context.Context, domain string, record provider.Record) (provider.Record, error) {
	slog.Info("creating DNS record", "domain", domain, "name", record.Name, "type", record.Type, "value", record.Data)

	body := map[string]wireRecord{"record": c.toWire(record, domain)}
	var resp recordResponse
	err := c.do(ctx, http.MethodPost, c.recordsURL(domain), body, &resp)
	c.metrics.IncProviderRequest("create", domain, err == nil)
	if err != nil {
		return provider.Record{}, fmt.Errorf("create record %s/%s %s: %w", domain, displayName(record.Name), record.Type, err)
	}
	return c.fromWire(resp.Data.Record, domain), nil
}

func (c *Client) UpdateRecord(ctx context.Context, domain string, id string, record provider.Record) (provider.Record, error) {
	slog.Info("updating DNS record", "domain", domain, "id", id, "name", record.Name, "type", record.Type, "value", record.Data)

	wr := c.toWire(record, domain)
	body := map[string]wireRecord{"record": wr}
	var resp recordResponse
	err := c.do(ctx, http.MethodPatch, c.recordsURL(domain)+"/"+id, body, &resp)
	c.metrics.IncProviderRequest("update", domain, err == nil)
	if err != nil {
		return provider.Record{}, fmt.Errorf("update record %s/%s %s: %w", domain, displayName(record.Name), record.Type, err)
	}
	return c.fromWire(resp.Data.Record, domain), nil
}

func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mijn.host api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("parse mijn.host api response: %w", err)
		}
	}
	return nil
}

// apiError maps an HTTP error response to the provider error taxonomy.
func apiError(resp *http.Response) error {
	var body errorResponse
	desc := ""
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		desc = body.Description
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("status %d %s: %w", resp.StatusCode, desc, provider.ErrAuth)
	case http.StatusNotFound:
		return fmt.Errorf("status %d %s: %w", resp.StatusCode, desc, provider.ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("status %d %s: %w", resp.StatusCode, desc, provider.ErrRateLimit)
	default:
		return fmt.Errorf("unexpected status %d %s", resp.StatusCode, desc)
	}
}

func (c *Client) recordsURL(domain string) string {
	return c.baseURL + "/domains/" + domain + "/dns"
}

func (c *Client) toWire(r provider.Record, domain string) wireRecord {
	ttl := r.TTL
	if ttl <= 0 {
		ttl = c.ttl
	}
	return wireRecord{
		Type:  r.Type,
		Name:  libdns.AbsoluteName(r.Name, domain+"."),
		Value: r.Data,
		TTL:   int(ttl.Seconds()),
	}
}

func (c *Client) fromWire(wr wireRecord, domain string) provider.Record {
	return provider.Record{
		ID: wr.ID,
		RR: libdns.RR{
			Name: relativeName(wr.Name, domain),
			Type: wr.Type,
			Data: wr.Value,
			TTL:  time.Duration(wr.TTL) * time.Second,
		},
	}
}

// relativeName converts the API's FQDN-with-trailing-dot form to the name
// relative to the domain, empty string meaning the apex.
func relativeName(fqdn, domain string) string {
	trimmed := strings.TrimSuffix(fqdn, ".")
	if trimmed == domain {
		return ""
	}
	rel := libdns.RelativeName(trimmed, domain)
	if rel == "@" {
		return ""
	}
	return rel
}

func displayName(name string) string {
	if name == "" {
		return "@"
	}
	return name
}
