package analysis

import (
	"fmt"
	"strings"

	"listing-aggregator/internal/models"
)

const systemPrompt = `You are a product quality analyst. For each product you receive,
return a JSON array with one object per product, in the same order, shaped as:
{"pros": ["...", "...", "..."], "cons": ["...", "...", "..."], "imo_score": 7}
Each object must have exactly 3 short pros, 3 short cons, and an integer score
from 1 to 10. Return only the JSON array, no prose.`

func buildBatchPrompt(products []models.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze these %d products:\n\n", len(products))
	for i, p := range products {
		fmt.Fprintf(&b, "%d. %s — $%.2f (%s)", i+1, p.Title, p.Price, p.Source)
		if p.Rating > 0 {
			fmt.Fprintf(&b, ", rated %.1f", p.Rating)
		}
		b.WriteString("\n")
		if p.Description != "" {
			desc := p.Description
			if len(desc) > 300 {
				desc = desc[:300]
			}
			fmt.Fprintf(&b, "   %s\n", desc)
		}
	}
	return b.String()
}
