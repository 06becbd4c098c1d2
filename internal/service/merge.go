package service

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"listing-aggregator/internal/models"
)

// NormalizeQuery lowercases, trims and collapses whitespace. Exact-match
// caching is defined over this form; near-duplicate queries (plurals,
// punctuation) intentionally do not share cache entries.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(query))), " ")
}

// QueryHash returns the coordination key for a normalized query.
func QueryHash(query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return hex.EncodeToString(sum[:])[:16]
}

// mergeByIdentity merges stored rows with a freshly fetched batch,
// deduplicating by identity key. Fresh content fields overwrite stale ones,
// but an existing analysis is preserved when the fresh record lacks one:
// analysis is additive, never regressed. The returned order is canonical:
// stored rows first (newest first, as read), then unseen fresh records in
// fetch order.
func mergeByIdentity(stored, fresh []models.Product) []models.Product {
	merged := make([]models.Product, 0, len(stored)+len(fresh))
	index := make(map[string]int, len(stored))

	for _, p := range stored {
		index[p.IdentityKey()] = len(merged)
		merged = append(merged, p)
	}

	for _, f := range fresh {
		key := f.IdentityKey()
		i, seen := index[key]
		if !seen {
			index[key] = len(merged)
			merged = append(merged, f)
			continue
		}

		existing := merged[i]
		f.ID = existing.ID
		f.CreatedAt = existing.CreatedAt
		if !f.Analyzed() && existing.Analyzed() {
			f.ImoScore = existing.ImoScore
			f.Pros = existing.Pros
			f.Cons = existing.Cons
			f.NeedsAnalysis = false
		}
		if f.ReviewsSummary == nil {
			f.ReviewsSummary = existing.ReviewsSummary
		}
		merged[i] = f
	}

	return merged
}

// sortProducts orders a copy of products by the requested key. Unanalyzed
// products sort after analyzed ones for the imo_score key. Sorting is stable
// over the canonical order, so the result never depends on fetch completion
// order.
func sortProducts(products []models.Product, sortBy string) []models.Product {
	sorted := make([]models.Product, len(products))
	copy(sorted, products)

	switch sortBy {
	case models.SortPriceLow:
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })
	case models.SortPriceHigh:
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price > sorted[j].Price })
	case models.SortImoScore:
		sort.SliceStable(sorted, func(i, j int) bool { return scoreOf(sorted[i]) > scoreOf(sorted[j]) })
	case models.SortRating:
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rating > sorted[j].Rating })
	default: // newest
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	}

	return sorted
}

func scoreOf(p models.Product) int {
	if p.ImoScore == nil {
		return 0
	}
	return *p.ImoScore
}

// filterProducts applies the full-tier score, rating and price-range filters.
func filterProducts(products []models.Product, minScore int, minRating, priceMin, priceMax float64) []models.Product {
	if minScore <= 0 && minRating <= 0 && priceMin <= 0 && priceMax <= 0 {
		return products
	}

	filtered := make([]models.Product, 0, len(products))
	for _, p := range products {
		if minScore > 0 && scoreOf(p) < minScore {
			continue
		}
		if minRating > 0 && p.Rating < minRating {
			continue
		}
		if priceMin > 0 && p.Price < priceMin {
			continue
		}
		if priceMax > 0 && p.Price > priceMax {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

// paginate slices one page out of products. Pages are 1-based; totalPages is
// at least 1 so an empty result still reports a valid page.
func paginate(products []models.Product, page, pageSize int) ([]models.Product, int) {
	if pageSize <= 0 {
		pageSize = 12
	}
	totalPages := (len(products) + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}

	start := (page - 1) * pageSize
	if start >= len(products) {
		return []models.Product{}, totalPages
	}
	end := start + pageSize
	if end > len(products) {
		end = len(products)
	}
	return products[start:end], totalPages
}
