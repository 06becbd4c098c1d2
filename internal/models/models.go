package models

import (
	"time"

	"github.com/lib/pq"
)

// Product sources
const (
	SourceAmazon  = "amazon"
	SourceEbay    = "ebay"
	SourceWalmart = "walmart"
)

// Access tiers
const (
	TierLimited = "limited"
	TierFull    = "full"
)

// Sort keys accepted by the search operation
const (
	SortNewest    = "newest"
	SortPriceLow  = "price_low"
	SortPriceHigh = "price_high"
	SortImoScore  = "imo_score"
	SortRating    = "rating"
)

// Product is the canonical listing record. Identity is (Source, SourceID);
// when a provider has no native id, SourceID falls back to the product URL.
type Product struct {
	ID             int64          `db:"id" json:"id"`
	Source         string         `db:"source" json:"source"`
	SourceID       string         `db:"source_id" json:"source_id"`
	Title          string         `db:"title" json:"title"`
	Description    string         `db:"description" json:"description,omitempty"`
	Price          float64        `db:"price" json:"price"`
	Currency       string         `db:"currency" json:"currency"`
	Rating         float64        `db:"rating" json:"rating,omitempty"`
	ImageURL       string         `db:"image_url" json:"image_url,omitempty"`
	ImageURLs      pq.StringArray `db:"image_urls" json:"image_urls,omitempty"`
	ProductURL     string         `db:"product_url" json:"product_url"`
	ExternalURL    string         `db:"external_url" json:"external_url,omitempty"`
	ImoScore       *int           `db:"imo_score" json:"imo_score,omitempty"`
	Pros           pq.StringArray `db:"pros" json:"pros,omitempty"`
	Cons           pq.StringArray `db:"cons" json:"cons,omitempty"`
	ReviewsSummary *string        `db:"reviews_summary" json:"reviews_summary,omitempty"`
	NeedsAnalysis  bool           `db:"needs_ai_analysis" json:"needs_ai_analysis"`
	Query          string         `db:"query" json:"query"`
	Origin         string         `db:"origin" json:"origin,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// IdentityKey returns the deduplication key for the product.
func (p *Product) IdentityKey() string {
	if p.SourceID != "" {
		return p.Source + ":" + p.SourceID
	}
	return p.Source + ":" + p.ProductURL
}

// Analyzed reports whether the product carries a complete quality analysis.
func (p *Product) Analyzed() bool {
	return p.ImoScore != nil && len(p.Pros) > 0 && len(p.Cons) > 0
}

// Analysis is the quality triple produced by the analysis engine for one product.
type Analysis struct {
	Pros     []string `json:"pros"`
	Cons     []string `json:"cons"`
	ImoScore int      `json:"imo_score"`
}

// Analysis task statuses
const (
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// AnalysisTask coordinates background analysis work for one (query_hash, page)
// pair. A running task whose heartbeat is older than the stale threshold is
// treated as absent.
type AnalysisTask struct {
	ID               string     `db:"id" json:"id"`
	QueryHash        string     `db:"query_hash" json:"query_hash"`
	Page             int        `db:"page" json:"page"`
	Status           string     `db:"status" json:"status"`
	ProductsAnalyzed int        `db:"products_analyzed" json:"products_analyzed"`
	TotalProducts    int        `db:"total_products" json:"total_products"`
	HeartbeatAt      time.Time  `db:"heartbeat_at" json:"heartbeat_at"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// SearchResult is the response of the search operation. TotalCount is always
// the true, un-tiered count; pagination metadata is clamped to a single page
// for limited-tier callers.
type SearchResult struct {
	Products          []Product `json:"products"`
	TotalCount        int       `json:"total_count"`
	CurrentPage       int       `json:"current_page"`
	TotalPages        int       `json:"total_pages"`
	HasNextPage       bool      `json:"has_next_page"`
	HasPrevPage       bool      `json:"has_prev_page"`
	IsFromCache       bool      `json:"is_from_cache"`
	Message           string    `json:"message,omitempty"`
	Pending           bool      `json:"pending,omitempty"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}
