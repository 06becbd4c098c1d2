package fetcher

import (
	"context"
	"sync"

	"listing-aggregator/config"
	"listing-aggregator/internal/models"
	"listing-aggregator/internal/util"

	"go.uber.org/zap"
)

// SourceFetcher fetches, filters and normalizes listings from one catalog
// provider. Implementations must respect ctx cancellation and apply their own
// price-range pre-filter before normalization.
type SourceFetcher interface {
	Source() string
	FetchProducts(ctx context.Context, query string, maxResults int) ([]models.Product, error)
}

// Pool fans a query out to the enabled fetchers concurrently. A failing
// provider contributes an empty slice instead of failing the aggregate
// request; combination order follows the enabled-sources list, never
// completion order.
type Pool struct {
	fetchers map[string]SourceFetcher
	logger   *zap.Logger
}

// NewPool creates a fetcher pool from the given fetchers.
func NewPool(fetchers ...SourceFetcher) *Pool {
	m := make(map[string]SourceFetcher, len(fetchers))
	for _, f := range fetchers {
		m[f.Source()] = f
	}
	return &Pool{
		fetchers: m,
		logger:   util.GetLogger(),
	}
}

// Sources returns the sources this pool can fetch from.
func (p *Pool) Sources() []string {
	sources := make([]string, 0, len(p.fetchers))
	for source := range p.fetchers {
		sources = append(sources, source)
	}
	return sources
}

// FetchAll runs the enabled fetchers concurrently and returns the combined
// normalized products plus a per-source count.
func (p *Pool) FetchAll(ctx context.Context, query string, snap config.FetchSnapshot) ([]models.Product, map[string]int) {
	enabled := make([]SourceFetcher, 0, len(snap.EnabledSources))
	for _, source := range snap.EnabledSources {
		if f, ok := p.fetchers[source]; ok {
			enabled = append(enabled, f)
		}
	}

	results := make([][]models.Product, len(enabled))
	var wg sync.WaitGroup
	for i, f := range enabled {
		wg.Add(1)
		go func(i int, f SourceFetcher) {
			defer wg.Done()

			products, err := f.FetchProducts(ctx, query, snap.MaxResultsPerSource)
			if err != nil {
				// One broken provider degrades the result set, never the request.
				p.logger.Warn("Source fetch failed",
					zap.String("source", f.Source()),
					zap.String("query", query),
					zap.Error(err))
				util.FetcherErrorsTotal.WithLabelValues(f.Source(), "fetch").Inc()
				return
			}
			results[i] = products
		}(i, f)
	}
	wg.Wait()

	combined := make([]models.Product, 0)
	counts := make(map[string]int, len(enabled))
	for i, f := range enabled {
		combined = append(combined, results[i]...)
		counts[f.Source()] = len(results[i])
	}
	return combined, counts
}
