// Package detector looks up the caller's public IP address via external
// "what is my IP" services.
package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"github.com/jvhoven/mijnhost-ddns/config"
	"github.com/jvhoven/mijnhost-ddns/metrics"
)

// DetectedIP holds the addresses found for one cycle. A zero Addr means the
// family is unavailable, which is expected for IPv6-less networks.
type DetectedIP struct {
	V4 netip.Addr
	V6 netip.Addr
}

// ForType returns the desired record value for an A or AAAA record and
// whether that family was detected.
func (d DetectedIP) ForType(rtype string) (netip.Addr, bool) {
	switch rtype {
	case "A":
		return d.V4, d.V4.IsValid()
	case "AAAA":
		return d.V6, d.V6.IsValid()
	}
	return netip.Addr{}, false
}

type Detector interface {
	Detect(ctx context.Context) (DetectedIP, error)
}

type webDetector struct {
	v4URL   string
	v6URL   string
	http    *http.Client
	metrics *metrics.Metrics
}

func New(cfg config.IPService, m *metrics.Metrics) Detector {
	return &webDetector{
		v4URL:   cfg.V4URL,
		v6URL:   cfg.V6URL,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: m,
	}
}

// Detect queries the configured services once. IPv4 failure is an error for
// the cycle; IPv6 failure only means no AAAA records will be touched.
func (d *webDetector) Detect(ctx context.Context) (DetectedIP, error) {
	var out DetectedIP

	v4, err := d.lookup(ctx, d.v4URL)
	d.metrics.IncDetectorRequest("ipv4", err == nil)
	if err != nil {
		return out, fmt.Errorf("detect public IPv4: %w", err)
	}
	v4 = v4.Unmap()
	if !v4.Is4() {
		return out, fmt.Errorf("detect public IPv4: service %s returned non-IPv4 address %s", d.v4URL, v4)
	}
	out.V4 = v4

	if d.v6URL != "" {
		v6, err := d.lookup(ctx, d.v6URL)
		switch {
		case err != nil:
			d.metrics.IncDetectorRequest("ipv6", false)
			slog.Debug("no public IPv6 detected", "error", err)
		case !v6.Is6() || v6.Is4In6():
			d.metrics.IncDetectorRequest("ipv6", false)
			slog.Debug("IPv6 service returned non-IPv6 address", "url", d.v6URL, "addr", v6)
		default:
			d.metrics.IncDetectorRequest("ipv6", true)
			out.V6 = v6
		}
	}
	return out, nil
}

func (d *webDetector) lookup(ctx context.Context, url string) (netip.Addr, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := d.http.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("ip service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("ip service returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("read ip service response: %w", err)
	}
	return parseBody(body)
}

// parseBody accepts either the ipify JSON shape {"ip":"..."} or a bare
// address as the first line of a plain text body.
func parseBody(body []byte) (netip.Addr, error) {
	var payload struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.IP != "" {
		return parseAddr(payload.IP)
	}

	line, _, _ := strings.Cut(string(body), "\n")
	return parseAddr(line)
}

func parseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse address from response: %w", err)
	}
	return addr, nil
}
