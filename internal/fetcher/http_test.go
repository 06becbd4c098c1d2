package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"listing-aggregator/config"
	"listing-aggregator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetchConfig() *config.FetchConfig {
	return config.NewFetchConfig([]string{"amazon", "ebay", "walmart"}, 1, 100000, 20, 7, 3, 12)
}

func testProvider() config.ProviderConfig {
	return config.ProviderConfig{APIKey: "test-key", TimeoutSeconds: 5, RequestsPerSec: 100}
}

func TestFetchProductsNormalizesAndFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "office chair", r.URL.Query().Get("search_term"))
		w.Write([]byte(`{"search_results": [
			{"asin": "A1", "title": "Chair One", "price": {"raw": "$250.00"}, "url": "https://x/a1"},
			{"asin": "A2", "title": "Chair Two", "price": {"raw": "$0.20"}, "url": "https://x/a2"},
			{"asin": "A3", "price": {"raw": "$300.00"}, "url": "https://x/a3"},
			{"asin": "A4", "title": "Chair Four", "price": 310.0, "url": "https://x/a4"}
		]}`))
	}))
	defer srv.Close()

	f := newHTTPFetcher(models.SourceAmazon, "/request", "search_term", "search_results", testProvider(), srv.URL, testFetchConfig())

	products, err := f.FetchProducts(context.Background(), "office chair", 20)
	require.NoError(t, err)
	// A2 fails the price pre-filter, A3 has no title.
	require.Len(t, products, 2)
	assert.Equal(t, "A1", products[0].SourceID)
	assert.Equal(t, "A4", products[1].SourceID)
}

func TestFetchProductsCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"search_results": [
			{"asin": "A1", "title": "One", "price": 10.0},
			{"asin": "A2", "title": "Two", "price": 11.0},
			{"asin": "A3", "title": "Three", "price": 12.0}
		]}`))
	}))
	defer srv.Close()

	f := newHTTPFetcher(models.SourceAmazon, "/request", "search_term", "search_results", testProvider(), srv.URL, testFetchConfig())

	products, err := f.FetchProducts(context.Background(), "anything", 2)
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestFetchProductsRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"search_results": [{"asin": "A1", "title": "One", "price": 10.0}]}`))
	}))
	defer srv.Close()

	f := newHTTPFetcher(models.SourceAmazon, "/request", "search_term", "search_results", testProvider(), srv.URL, testFetchConfig())

	products, err := f.FetchProducts(context.Background(), "anything", 20)
	require.NoError(t, err)
	assert.Len(t, products, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchProductsFailsFastOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newHTTPFetcher(models.SourceAmazon, "/request", "search_term", "search_results", testProvider(), srv.URL, testFetchConfig())

	_, err := f.FetchProducts(context.Background(), "anything", 20)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchProductsGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newHTTPFetcher(models.SourceAmazon, "/request", "search_term", "search_results", testProvider(), srv.URL, testFetchConfig())

	_, err := f.FetchProducts(context.Background(), "anything", 20)
	require.Error(t, err)
	assert.Equal(t, int32(maxFetchAttempts), atomic.LoadInt32(&calls))
}

type stubFetcher struct {
	source   string
	products []models.Product
	err      error
}

func (s *stubFetcher) Source() string { return s.source }

func (s *stubFetcher) FetchProducts(ctx context.Context, query string, maxResults int) ([]models.Product, error) {
	return s.products, s.err
}

func TestPoolIsolatesFailingSource(t *testing.T) {
	pool := NewPool(
		&stubFetcher{source: "amazon", products: []models.Product{{Source: "amazon", SourceID: "A1"}}},
		&stubFetcher{source: "ebay", err: assert.AnError},
		&stubFetcher{source: "walmart", products: []models.Product{{Source: "walmart", SourceID: "W1"}}},
	)

	snap := testFetchConfig().Snapshot()
	products, counts := pool.FetchAll(context.Background(), "anything", snap)

	require.Len(t, products, 2)
	// Combination follows the enabled-sources order, not completion order.
	assert.Equal(t, "A1", products[0].SourceID)
	assert.Equal(t, "W1", products[1].SourceID)
	assert.Equal(t, 0, counts["ebay"])
	assert.Equal(t, 1, counts["amazon"])
}

func TestPoolSkipsDisabledSources(t *testing.T) {
	pool := NewPool(
		&stubFetcher{source: "amazon", products: []models.Product{{Source: "amazon", SourceID: "A1"}}},
		&stubFetcher{source: "walmart", products: []models.Product{{Source: "walmart", SourceID: "W1"}}},
	)

	snap := config.NewFetchConfig([]string{"walmart"}, 1, 0, 20, 7, 3, 12).Snapshot()
	products, counts := pool.FetchAll(context.Background(), "anything", snap)

	require.Len(t, products, 1)
	assert.Equal(t, "W1", products[0].SourceID)
	_, fetched := counts["amazon"]
	assert.False(t, fetched)
}
