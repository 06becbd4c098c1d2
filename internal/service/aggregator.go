package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"listing-aggregator/config"
	"listing-aggregator/internal/models"
	"listing-aggregator/internal/util"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Validation errors surfaced to the caller. Everything else degrades to a
// best-effort result.
var (
	ErrEmptyQuery       = errors.New("search query is required")
	ErrNoSourcesEnabled = errors.New("all source fetchers are disabled")
)

// ProductStore is the persistence surface the aggregator needs.
type ProductStore interface {
	UpsertProducts(ctx context.Context, products []models.Product) ([]models.Product, error)
	FindByQuery(ctx context.Context, query string, minPrice float64) ([]models.Product, error)
	FindFreshByQuery(ctx context.Context, query string, minPrice float64, days int) ([]models.Product, error)
	PartialUpdate(ctx context.Context, id int64, fields map[string]interface{}) error
}

// FetcherPool fans a query out to the enabled source fetchers.
type FetcherPool interface {
	FetchAll(ctx context.Context, query string, snap config.FetchSnapshot) ([]models.Product, map[string]int)
}

// Analyzer produces quality analyses aligned 1:1 with its input.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context, products []models.Product) []models.Analysis
}

// ResultCache caches serialized search pages. Satisfied by the Redis client;
// nil disables page caching.
type ResultCache interface {
	GetSearchResult(ctx context.Context, queryHash string, page int, sortBy, tier string) (*models.SearchResult, error)
	SetSearchResult(ctx context.Context, queryHash string, page int, sortBy, tier string, result *models.SearchResult) error
	InvalidateQuery(ctx context.Context, queryHash string) error
}

// Publisher emits search and analysis events. Nil disables publishing.
type Publisher interface {
	PublishSearchPerformed(ctx context.Context, event *models.SearchPerformedEvent) error
	PublishAnalysisRequested(ctx context.Context, event *models.AnalysisRequestedEvent) error
}

// SearchRequest carries one search call's inputs. The access booleans come
// precomputed from the entitlement collaborator.
type SearchRequest struct {
	Query             string
	Page              int
	SortBy            string
	PriceMin          float64
	PriceMax          float64
	MinScore          int
	MinRating         float64
	HasFullAccess     bool
	HasPerQueryUnlock bool
	ForceRefresh      bool
}

// Tier resolves the access tier from the entitlement pair.
func (r *SearchRequest) Tier() string {
	if r.HasFullAccess || r.HasPerQueryUnlock {
		return models.TierFull
	}
	return models.TierLimited
}

// Aggregator orchestrates the aggregation pipeline: serve-from-store vs.
// fetch-fresh, identity merge, pagination, access tiering and background
// analysis scheduling.
type Aggregator struct {
	store       ProductStore
	coordinator *TaskCoordinator
	fetchers    FetcherPool
	engine      Analyzer
	cache       ResultCache
	publisher   Publisher
	fetchCfg    *config.FetchConfig
	logger      *zap.Logger
}

// NewAggregator creates the orchestrator.
func NewAggregator(
	store ProductStore,
	coordinator *TaskCoordinator,
	fetchers FetcherPool,
	engine Analyzer,
	cache ResultCache,
	publisher Publisher,
	fetchCfg *config.FetchConfig,
) *Aggregator {
	return &Aggregator{
		store:       store,
		coordinator: coordinator,
		fetchers:    fetchers,
		engine:      engine,
		cache:       cache,
		publisher:   publisher,
		fetchCfg:    fetchCfg,
		logger:      util.GetLogger(),
	}
}

// Search aggregates product listings for a query page.
func (a *Aggregator) Search(ctx context.Context, req *SearchRequest) (*models.SearchResult, error) {
	ctx, span := util.StartSpan(ctx, "Aggregator.Search")
	defer span.End()

	query := NormalizeQuery(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	snap := a.fetchCfg.Snapshot()
	if len(snap.EnabledSources) == 0 {
		return nil, ErrNoSourcesEnabled
	}

	if req.Page < 1 {
		req.Page = 1
	}
	if req.SortBy == "" {
		req.SortBy = models.SortNewest
	}

	hash := QueryHash(query)
	tier := req.Tier()
	variant := cacheVariant(req)
	util.SearchesTotal.WithLabelValues(tier).Inc()

	if a.cache != nil && !req.ForceRefresh {
		cached, err := a.cache.GetSearchResult(ctx, hash, req.Page, variant, tier)
		if err != nil {
			a.logger.Warn("Page cache read failed", zap.String("query", query), zap.Error(err))
		} else if cached != nil {
			util.SearchCacheHitsTotal.Inc()
			return cached, nil
		}
	}

	stored, err := a.store.FindByQuery(ctx, query, snap.MinPrice)
	if err != nil {
		a.logger.Error("Store read failed, falling back to fresh fetch",
			zap.String("query", query), zap.Error(err))
		stored = nil
	}

	freshCount := 0
	if len(stored) > 0 {
		freshRows, err := a.store.FindFreshByQuery(ctx, query, snap.MinPrice, snap.FreshnessDays)
		if err != nil {
			a.logger.Error("Freshness check failed", zap.String("query", query), zap.Error(err))
		}
		freshCount = len(freshRows)
	}

	var result *models.SearchResult
	var sourceCounts map[string]int
	if len(stored) > 0 && freshCount > 0 && !req.ForceRefresh {
		result = a.serveFromStore(ctx, query, hash, stored, req, snap)
	} else {
		result, sourceCounts = a.fetchFresh(ctx, query, hash, stored, req, snap)
	}

	if a.cache != nil && !result.Pending {
		if err := a.cache.SetSearchResult(ctx, hash, req.Page, variant, tier, result); err != nil {
			a.logger.Warn("Page cache write failed", zap.String("query", query), zap.Error(err))
		}
	}

	a.publishSearchPerformed(ctx, query, hash, req.Page, result, sourceCounts)
	return result, nil
}

// serveFromStore paginates stored results, honoring the wait protocol when
// the requested page is under background analysis and lazily analyzing any
// unanalyzed items on the page.
func (a *Aggregator) serveFromStore(ctx context.Context, query, hash string, stored []models.Product, req *SearchRequest, snap config.FetchSnapshot) *models.SearchResult {
	ctx, span := util.StartSpan(ctx, "Aggregator.serveFromStore")
	defer span.End()

	util.SearchStoreHitsTotal.Inc()

	task, err := a.coordinator.Status(ctx, hash, req.Page)
	if err != nil {
		a.logger.Warn("Task status check failed", zap.String("query", query), zap.Error(err))
	}
	if task != nil && task.Status == models.TaskStatusRunning {
		done, err := a.coordinator.WaitForCompletion(ctx, hash, req.Page)
		if err != nil {
			a.logger.Warn("Wait for analysis interrupted", zap.String("query", query), zap.Error(err))
		}
		if done {
			if refreshed, err := a.store.FindByQuery(ctx, query, snap.MinPrice); err == nil {
				stored = refreshed
			}
		} else {
			result := a.buildResult(ctx, stored, req, snap, false)
			result.IsFromCache = true
			result.Pending = true
			result.RetryAfterSeconds = 3
			result.Message = "This page is still being analyzed, try again shortly"
			return result
		}
	}

	result := a.buildResult(ctx, stored, req, snap, true)
	result.IsFromCache = true
	result.Message = fmt.Sprintf("Found %d products (recent results)", result.TotalCount)
	return result
}

// fetchFresh fans out to the enabled fetchers, merges with stored rows by
// identity, persists the whole deduplicated batch, analyzes the current page
// and schedules analysis of the next one. The per-source fetch counts are
// returned for the search telemetry event.
func (a *Aggregator) fetchFresh(ctx context.Context, query, hash string, stored []models.Product, req *SearchRequest, snap config.FetchSnapshot) (*models.SearchResult, map[string]int) {
	ctx, span := util.StartSpan(ctx, "Aggregator.fetchFresh")
	defer span.End()

	util.SearchFreshFetchesTotal.Inc()

	fresh, counts := a.fetchers.FetchAll(ctx, query, snap)
	a.logger.Info("Fresh fetch completed",
		zap.String("query", query),
		zap.Int("fetched", len(fresh)),
		zap.Int("stored", len(stored)),
		zap.Any("source_counts", counts))

	merged := mergeByIdentity(stored, fresh)
	if len(merged) == 0 {
		return &models.SearchResult{
			Products:    []models.Product{},
			TotalCount:  0,
			CurrentPage: 1,
			TotalPages:  1,
			Message:     "No products found for this search",
		}, counts
	}

	// Persistence is a side effect, never a precondition of the response.
	working, err := a.store.UpsertProducts(ctx, merged)
	if err != nil {
		a.logger.Error("Failed to persist merged batch",
			zap.String("query", query), zap.Error(err))
		util.StoreSaveFailuresTotal.Inc()
		working = merged
	}

	if a.cache != nil {
		if err := a.cache.InvalidateQuery(ctx, hash); err != nil {
			a.logger.Warn("Page cache invalidation failed", zap.String("query", query), zap.Error(err))
		}
	}

	result := a.buildResult(ctx, working, req, snap, true)
	result.Message = fmt.Sprintf("Found %d products across %d sources", result.TotalCount, len(counts))

	a.scheduleNextPage(ctx, query, hash, working, req, snap)
	return result, counts
}

// buildResult applies access tiering, sorting, filtering and pagination, and
// (when analyze is set) synchronously completes missing analysis for just the
// returned page.
func (a *Aggregator) buildResult(ctx context.Context, all []models.Product, req *SearchRequest, snap config.FetchSnapshot, analyze bool) *models.SearchResult {
	totalCount := len(all)

	if req.Tier() == models.TierLimited {
		// Limited callers see the head of the canonical order; sort and
		// filter controls are cosmetic for this tier.
		limit := snap.FreeLimit
		if limit > len(all) {
			limit = len(all)
		}
		pageItems := make([]models.Product, limit)
		copy(pageItems, all[:limit])
		if analyze {
			pageItems = a.analyzePage(ctx, pageItems)
		}
		return &models.SearchResult{
			Products:    pageItems,
			TotalCount:  totalCount,
			CurrentPage: 1,
			TotalPages:  1,
			HasNextPage: false,
			HasPrevPage: false,
		}
	}

	visible := filterProducts(sortProducts(all, req.SortBy), req.MinScore, req.MinRating, req.PriceMin, req.PriceMax)
	pageItems, totalPages := paginate(visible, req.Page, snap.PageSize)
	if analyze {
		pageItems = a.analyzePage(ctx, pageItems)
	}

	return &models.SearchResult{
		Products:    pageItems,
		TotalCount:  totalCount,
		CurrentPage: req.Page,
		TotalPages:  totalPages,
		HasNextPage: req.Page < totalPages,
		HasPrevPage: req.Page > 1,
	}
}

// analyzePage completes missing analysis for the given page items and writes
// the results back. Store write failures are logged and swallowed; the
// analyzed page is returned regardless.
func (a *Aggregator) analyzePage(ctx context.Context, pageItems []models.Product) []models.Product {
	var pending []int
	for i := range pageItems {
		if !pageItems[i].Analyzed() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return pageItems
	}

	batch := make([]models.Product, len(pending))
	for i, idx := range pending {
		batch[i] = pageItems[idx]
	}

	analyses := a.engine.AnalyzeBatch(ctx, batch)
	for i, idx := range pending {
		applyAnalysis(&pageItems[idx], analyses[i])
		if pageItems[idx].ID != 0 {
			if err := a.persistAnalysis(ctx, &pageItems[idx]); err != nil {
				a.logger.Warn("Failed to persist analysis",
					zap.Int64("product_id", pageItems[idx].ID), zap.Error(err))
				util.StoreSaveFailuresTotal.Inc()
			}
		}
	}
	return pageItems
}

func applyAnalysis(p *models.Product, analysis models.Analysis) {
	score := analysis.ImoScore
	p.ImoScore = &score
	p.Pros = pq.StringArray(analysis.Pros)
	p.Cons = pq.StringArray(analysis.Cons)
	p.NeedsAnalysis = false
}

func (a *Aggregator) persistAnalysis(ctx context.Context, p *models.Product) error {
	return a.store.PartialUpdate(ctx, p.ID, map[string]interface{}{
		"imo_score":         *p.ImoScore,
		"pros":              p.Pros,
		"cons":              p.Cons,
		"needs_ai_analysis": false,
	})
}

// scheduleNextPage claims a background analysis task for the following page
// and hands it to the worker queue. The work reads from the just-persisted
// batch, so no second external fetch happens.
func (a *Aggregator) scheduleNextPage(ctx context.Context, query, hash string, all []models.Product, req *SearchRequest, snap config.FetchSnapshot) {
	if req.Tier() == models.TierLimited || a.publisher == nil {
		return
	}

	nextPage := req.Page + 1
	// The worker paginates the store-read order, so the next page is selected
	// from a store read too; the claim then covers exactly the items the
	// worker will analyze. The in-memory batch only backs a failed read.
	rows, err := a.store.FindByQuery(ctx, query, snap.MinPrice)
	if err != nil {
		a.logger.Warn("Store read for scheduling failed, using in-memory batch",
			zap.String("query", query), zap.Error(err))
		rows = all
	}
	nextItems, _ := paginate(rows, nextPage, snap.PageSize)
	needsWork := 0
	for i := range nextItems {
		if !nextItems[i].Analyzed() {
			needsWork++
		}
	}
	if needsWork == 0 {
		return
	}

	taskID, err := a.coordinator.Begin(ctx, hash, nextPage, len(nextItems))
	if err != nil {
		a.logger.Warn("Failed to claim next-page analysis",
			zap.String("query", query), zap.Int("page", nextPage), zap.Error(err))
		return
	}
	if taskID == "" {
		return
	}

	event := &models.AnalysisRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeAnalysisRequested,
			Timestamp: time.Now(),
		},
		TaskID:    taskID,
		Query:     query,
		QueryHash: hash,
		Page:      nextPage,
		PageSize:  snap.PageSize,
	}
	if err := a.publisher.PublishAnalysisRequested(ctx, event); err != nil {
		a.logger.Error("Failed to queue next-page analysis",
			zap.String("query", query), zap.Int("page", nextPage), zap.Error(err))
		a.coordinator.Abandon(ctx, hash, nextPage, taskID)
	}
}

func (a *Aggregator) publishSearchPerformed(ctx context.Context, query, hash string, page int, result *models.SearchResult, sourceCounts map[string]int) {
	if a.publisher == nil {
		return
	}

	event := &models.SearchPerformedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSearchPerformed,
			Timestamp: time.Now(),
		},
		Query:        query,
		QueryHash:    hash,
		Page:         page,
		TotalCount:   result.TotalCount,
		FromCache:    result.IsFromCache,
		SourceCounts: sourceCounts,
	}
	if err := a.publisher.PublishSearchPerformed(ctx, event); err != nil {
		a.logger.Warn("Failed to publish search event", zap.String("query", query), zap.Error(err))
	}
}

func cacheVariant(req *SearchRequest) string {
	return fmt.Sprintf("%s:%d:%g:%g:%g", req.SortBy, req.MinScore, req.MinRating, req.PriceMin, req.PriceMax)
}
