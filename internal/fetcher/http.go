package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leozw/sitestats/internal/config"
	"github.com/leozw/sitestats/internal/core"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 4 << 20

type HTTPFetcher struct {
	client     *http.Client
	baseURL    string
	apiVersion int
	fields     []string
	limit      int
	apiKey     string
	limiter    *rate.Limiter
}

func NewHTTPFetcher(cfg config.ProviderConfig) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		fields:     cfg.Fields,
		limit:      cfg.Limit,
		apiKey:     cfg.APIKey,
		limiter:    limiter,
	}
}

// statsResponse mirrors the provider payload. Required counters are pointers
// so a missing field can be told apart from zero.
type statsResponse struct {
	Pageviews     *float64 `json:"pageviews"`
	Visitors      *float64 `json:"visitors"`
	SecondsOnPage *float64 `json:"seconds_on_page"`
	Pages         []struct {
		Value     string  `json:"value"`
		Pageviews float64 `json:"pageviews"`
	} `json:"pages"`
	Referrers []struct {
		Value    string  `json:"value"`
		Visitors float64 `json:"visitors"`
	} `json:"referrers"`
}

func (h *HTTPFetcher) Fetch(ctx context.Context, site core.Site, timeRange core.TimeRange) (*core.Stats, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, NewTransportError(site.Domain, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.statsURL(site, timeRange), nil)
	if err != nil {
		return nil, NewTransportError(site.Domain, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	apiKey := site.APIKey
	if apiKey == "" {
		apiKey = h.apiKey
	}
	if apiKey != "" {
		req.Header.Set("Api-Key", apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, NewTransportError(site.Domain, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindAuth, Domain: site.Domain, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Kind: KindNotFound, Domain: site.Domain, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &Error{Kind: KindTransport, Domain: site.Domain, StatusCode: resp.StatusCode}
	}

	var payload statsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return nil, &Error{Kind: KindMalformed, Domain: site.Domain, Err: err}
	}

	stats, err := payload.toStats()
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Domain: site.Domain, Err: err}
	}
	return stats, nil
}

func (h *HTTPFetcher) statsURL(site core.Site, timeRange core.TimeRange) string {
	start, end := timeRange.Window()

	params := url.Values{}
	params.Set("version", strconv.Itoa(h.apiVersion))
	params.Set("fields", strings.Join(h.fields, ","))
	params.Set("start", start)
	params.Set("end", end)
	params.Set("limit", strconv.Itoa(h.limit))

	return fmt.Sprintf("%s/%s.json?%s", h.baseURL, url.PathEscape(site.Domain), params.Encode())
}

// DashboardURL is the provider page for domain.
func (h *HTTPFetcher) DashboardURL(domain string) string {
	return h.baseURL + "/" + url.PathEscape(domain)
}

func (p statsResponse) toStats() (*core.Stats, error) {
	if p.Pageviews == nil {
		return nil, fmt.Errorf("missing numeric field %q", "pageviews")
	}
	if p.Visitors == nil {
		return nil, fmt.Errorf("missing numeric field %q", "visitors")
	}
	if *p.Pageviews < 0 || *p.Visitors < 0 {
		return nil, fmt.Errorf("negative counters")
	}

	stats := &core.Stats{
		Pageviews: int64(*p.Pageviews),
		Visitors:  int64(*p.Visitors),
	}
	if p.SecondsOnPage != nil {
		seconds := int64(*p.SecondsOnPage)
		stats.SecondsOnPage = &seconds
	}
	for _, page := range p.Pages {
		stats.Pages = append(stats.Pages, core.PageStat{Path: page.Value, Pageviews: int64(page.Pageviews)})
	}
	for _, ref := range p.Referrers {
		stats.Referrers = append(stats.Referrers, core.ReferrerStat{Source: ref.Value, Visitors: int64(ref.Visitors)})
	}
	return stats, nil
}
