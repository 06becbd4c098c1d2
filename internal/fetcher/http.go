package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"listing-aggregator/config"
	"listing-aggregator/internal/models"
	"listing-aggregator/internal/util"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxFetchAttempts = 2
	retryBackoffStep = 500 * time.Millisecond
)

// httpFetcher implements SourceFetcher against a provider's JSON search
// endpoint. Provider differences are limited to the endpoint, the response
// envelope key and the payload shape; everything past decoding goes through
// the shared normalizer.
type httpFetcher struct {
	source      string
	baseURL     string
	searchPath  string
	queryParam  string
	envelopeKey string
	apiKey      string
	client      *http.Client
	limiter     *rate.Limiter
	fetchCfg    *config.FetchConfig
	logger      *zap.Logger
}

func newHTTPFetcher(source, searchPath, queryParam, envelopeKey string, provider config.ProviderConfig, baseURL string, fetchCfg *config.FetchConfig) *httpFetcher {
	timeout := time.Duration(provider.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rps := provider.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}

	return &httpFetcher{
		source:      source,
		baseURL:     baseURL,
		searchPath:  searchPath,
		queryParam:  queryParam,
		envelopeKey: envelopeKey,
		apiKey:      provider.APIKey,
		client:      &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		fetchCfg:    fetchCfg,
		logger:      util.GetLogger(),
	}
}

// NewAmazonFetcher fetches Amazon listings. Payloads carry an "asin" id and a
// `{"raw": "$1,234.56"}` price shape.
func NewAmazonFetcher(provider config.ProviderConfig, fetchCfg *config.FetchConfig) SourceFetcher {
	return newHTTPFetcher(models.SourceAmazon, "/request", "search_term", "search_results", provider, provider.AmazonBaseURL, fetchCfg)
}

// NewEbayFetcher fetches eBay listings. Payloads carry an "item_id" and a
// `{"value": 123.45}` price shape.
func NewEbayFetcher(provider config.ProviderConfig, fetchCfg *config.FetchConfig) SourceFetcher {
	return newHTTPFetcher(models.SourceEbay, "/request", "search_term", "search_results", provider, provider.EbayBaseURL, fetchCfg)
}

// NewWalmartFetcher fetches Walmart listings. Payloads carry a numeric "id"
// and a plain-number price.
func NewWalmartFetcher(provider config.ProviderConfig, fetchCfg *config.FetchConfig) SourceFetcher {
	return newHTTPFetcher(models.SourceWalmart, "/request", "search_term", "search_results", provider, provider.WalmartBaseURL, fetchCfg)
}

func (f *httpFetcher) Source() string {
	return f.source
}

// FetchProducts searches the provider, pre-filters by the configured price
// range, normalizes and drops rejects.
func (f *httpFetcher) FetchProducts(ctx context.Context, query string, maxResults int) ([]models.Product, error) {
	snap := f.fetchCfg.Snapshot()

	start := time.Now()
	defer func() {
		util.FetchLatency.WithLabelValues(f.source).Observe(time.Since(start).Seconds())
	}()

	raws, err := f.search(ctx, query)
	if err != nil {
		return nil, err
	}

	products := make([]models.Product, 0, len(raws))
	for _, raw := range raws {
		price := rawPrice(raw)
		if price < snap.MinPrice || (snap.MaxPrice > 0 && price > snap.MaxPrice) {
			continue
		}

		p := Normalize(raw, f.source, query, snap.MinPrice)
		if p == nil {
			continue
		}

		products = append(products, *p)
		if maxResults > 0 && len(products) >= maxResults {
			break
		}
	}

	util.ProductsFetchedTotal.WithLabelValues(f.source).Add(float64(len(products)))
	f.logger.Debug("Source fetch completed",
		zap.String("source", f.source),
		zap.String("query", query),
		zap.Int("raw", len(raws)),
		zap.Int("kept", len(products)))

	return products, nil
}

// search calls the provider endpoint with bounded retries: transient failures
// (rate limiting, 5xx, network errors) get one retry with linear backoff,
// anything else fails fast.
func (f *httpFetcher) search(ctx context.Context, query string) ([]RawListing, error) {
	reqURL := fmt.Sprintf("%s%s?%s", f.baseURL, f.searchPath,
		url.Values{f.queryParam: {query}, "type": {"search"}}.Encode())

	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * retryBackoffStep
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		util.FetcherRequestsTotal.WithLabelValues(f.source).Inc()

		raws, retryable, err := f.doSearch(ctx, reqURL)
		if err == nil {
			return raws, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}

		f.logger.Warn("Transient provider error, retrying",
			zap.String("source", f.source),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return nil, lastErr
}

func (f *httpFetcher) doSearch(ctx context.Context, reqURL string) ([]RawListing, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, err
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("provider %s returned status %d", f.source, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("provider %s returned status %d", f.source, resp.StatusCode)
	}

	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, false, fmt.Errorf("failed to decode %s response: %w", f.source, err)
	}

	var raws []RawListing
	if payload, ok := envelope[f.envelopeKey]; ok {
		if err := json.Unmarshal(payload, &raws); err != nil {
			return nil, false, fmt.Errorf("failed to decode %s listings: %w", f.source, err)
		}
	}
	return raws, false, nil
}

// rawPrice resolves the price for the pre-filter, before normalization.
func rawPrice(raw RawListing) float64 {
	for _, key := range []string{"price", "price_info", "current_price", "list_price"} {
		if v, ok := raw[key]; ok {
			if price := ExtractPrice(v); price > 0 {
				return price
			}
		}
	}
	return 0
}
