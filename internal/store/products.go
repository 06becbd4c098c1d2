package store

import (
	"context"
	"fmt"
	"strings"

	"listing-aggregator/internal/models"
)

// upsertProductQuery merges a fetched product into its stored row by identity.
// Content fields take the fresh values; analysis fields are additive and never
// regressed by a fresh record that lacks them. created_at tracks the last
// fetch/merge so the freshness window applies to re-fetched rows too.
const upsertProductQuery = `
	INSERT INTO products (
		source, source_id, title, description, price, currency, rating,
		image_url, image_urls, product_url, external_url,
		imo_score, pros, cons, reviews_summary, needs_ai_analysis,
		query, origin, created_at, updated_at
	) VALUES (
		:source, :source_id, :title, :description, :price, :currency, :rating,
		:image_url, :image_urls, :product_url, :external_url,
		:imo_score, :pros, :cons, :reviews_summary, :needs_ai_analysis,
		:query, :origin, NOW(), NOW()
	)
	ON CONFLICT (source, source_id) DO UPDATE SET
		title             = EXCLUDED.title,
		description       = EXCLUDED.description,
		price             = EXCLUDED.price,
		currency          = EXCLUDED.currency,
		rating            = EXCLUDED.rating,
		image_url         = EXCLUDED.image_url,
		image_urls        = EXCLUDED.image_urls,
		product_url       = EXCLUDED.product_url,
		external_url      = EXCLUDED.external_url,
		imo_score         = COALESCE(EXCLUDED.imo_score, products.imo_score),
		pros              = CASE WHEN cardinality(EXCLUDED.pros) > 0 THEN EXCLUDED.pros ELSE products.pros END,
		cons              = CASE WHEN cardinality(EXCLUDED.cons) > 0 THEN EXCLUDED.cons ELSE products.cons END,
		reviews_summary   = COALESCE(EXCLUDED.reviews_summary, products.reviews_summary),
		needs_ai_analysis = products.needs_ai_analysis AND EXCLUDED.needs_ai_analysis,
		query             = EXCLUDED.query,
		origin            = EXCLUDED.origin,
		created_at        = NOW(),
		updated_at        = NOW()
	RETURNING *`

// UpsertProducts upserts a batch of products by identity and returns the
// stored rows with ids and merged analysis fields.
func (s *Store) UpsertProducts(ctx context.Context, products []models.Product) ([]models.Product, error) {
	if len(products) == 0 {
		return []models.Product{}, nil
	}

	stmt, err := s.db.PrepareNamedContext(ctx, upsertProductQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	stored := make([]models.Product, 0, len(products))
	for i := range products {
		p := products[i]
		if p.SourceID == "" {
			p.SourceID = p.ProductURL
		}

		var row models.Product
		if err := stmt.GetContext(ctx, &row, p); err != nil {
			return stored, fmt.Errorf("failed to upsert product %s: %w", p.IdentityKey(), err)
		}
		stored = append(stored, row)
	}

	return stored, nil
}

// FindByQuery retrieves all stored products for an exact normalized query,
// newest first, regardless of freshness.
func (s *Store) FindByQuery(ctx context.Context, query string, minPrice float64) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE query = $1 AND price >= $2 ORDER BY created_at DESC, id",
		query, minPrice)
	return products, err
}

// FindFreshByQuery retrieves stored products for an exact normalized query
// whose created_at falls within the freshness window.
func (s *Store) FindFreshByQuery(ctx context.Context, query string, minPrice float64, days int) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		`SELECT * FROM products
		 WHERE query = $1 AND price >= $2 AND created_at > NOW() - ($3 * INTERVAL '1 day')
		 ORDER BY created_at DESC, id`,
		query, minPrice, days)
	return products, err
}

// partialUpdateColumns is the set of columns PartialUpdate may touch.
var partialUpdateColumns = map[string]bool{
	"title":             true,
	"description":       true,
	"price":             true,
	"rating":            true,
	"image_url":         true,
	"image_urls":        true,
	"imo_score":         true,
	"pros":              true,
	"cons":              true,
	"reviews_summary":   true,
	"needs_ai_analysis": true,
}

// PartialUpdate updates only the given columns of one product row.
func (s *Store) PartialUpdate(ctx context.Context, id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+1)
	i := 1
	for col, val := range fields {
		if !partialUpdateColumns[col] {
			return fmt.Errorf("column not updatable: %s", col)
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, val)
		i++
	}
	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE products SET %s WHERE id = $%d", strings.Join(setClauses, ", "), i)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
