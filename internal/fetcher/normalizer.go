package fetcher

import (
	"fmt"
	"strings"

	"listing-aggregator/internal/models"
)

// RawListing is one provider-specific listing payload, decoded but not yet
// normalized. No code outside this package should see this shape.
type RawListing map[string]interface{}

// Normalize converts a raw provider listing into the canonical product record.
// It returns nil for payloads missing a title or a resolvable price, or whose
// price is below minPrice. A record without a provider-native id is still
// normalized; its identity falls back to the product URL downstream.
func Normalize(raw RawListing, source, query string, minPrice float64) *models.Product {
	title := firstString(raw, "title", "name", "product_title")
	if title == "" {
		return nil
	}

	var price float64
	for _, key := range []string{"price", "price_info", "current_price", "list_price"} {
		if v, ok := raw[key]; ok {
			if price = ExtractPrice(v); price > 0 {
				break
			}
		}
	}
	if price < minPrice || price <= 0 {
		return nil
	}

	productURL := firstString(raw, "url", "link", "product_url", "canonical_url")

	p := &models.Product{
		Source:        source,
		SourceID:      extractSourceID(raw),
		Title:         strings.TrimSpace(title),
		Description:   firstString(raw, "description", "snippet"),
		Price:         price,
		Currency:      currencyOrDefault(raw),
		Rating:        extractRating(raw),
		ProductURL:    productURL,
		ExternalURL:   firstString(raw, "external_url", "affiliate_url"),
		Query:         query,
		Origin:        source,
		NeedsAnalysis: true,
	}
	if p.ExternalURL == "" {
		p.ExternalURL = productURL
	}

	p.ImageURL, p.ImageURLs = extractImages(raw)

	return p
}

// extractSourceID returns the provider-native id as a string, or "" when the
// provider has none.
func extractSourceID(raw RawListing) string {
	for _, key := range []string{"id", "asin", "item_id", "itemId", "product_id", "sku"} {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// extractImages prefers non-data-URI HTTP(S) URLs; a data URI is kept only
// when no HTTP URL exists, so a product is never dropped for bad image
// metadata alone.
func extractImages(raw RawListing) (string, []string) {
	candidates := []string{}
	for _, key := range []string{"image", "image_url", "main_image", "thumbnail"} {
		if s := firstString(raw, key); s != "" {
			candidates = append(candidates, s)
		}
	}
	for _, key := range []string{"images", "image_urls"} {
		if list, ok := raw[key].([]interface{}); ok {
			for _, item := range list {
				if s, ok := item.(string); ok && s != "" {
					candidates = append(candidates, s)
				}
			}
		}
	}

	var httpURLs, dataURIs []string
	for _, c := range candidates {
		if strings.HasPrefix(c, "http://") || strings.HasPrefix(c, "https://") {
			httpURLs = append(httpURLs, c)
		} else if strings.HasPrefix(c, "data:") {
			dataURIs = append(dataURIs, c)
		}
	}

	if len(httpURLs) > 0 {
		return httpURLs[0], httpURLs
	}
	if len(dataURIs) > 0 {
		return dataURIs[0], dataURIs[:1]
	}
	return "", nil
}

func extractRating(raw RawListing) float64 {
	for _, key := range []string{"rating", "stars", "average_rating"} {
		switch v := raw[key].(type) {
		case float64:
			return v
		case string:
			return parsePriceString(v)
		}
	}
	return 0
}

func currencyOrDefault(raw RawListing) string {
	if price, ok := raw["price"].(map[string]interface{}); ok {
		if c, ok := price["currency"].(string); ok && c != "" {
			return c
		}
	}
	if c := firstString(raw, "currency"); c != "" {
		return c
	}
	return "USD"
}

func firstString(raw RawListing, keys ...string) string {
	for _, key := range keys {
		if s, ok := raw[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
