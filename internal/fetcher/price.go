package fetcher

import (
	"strconv"
	"strings"
)

// ExtractPrice resolves a price from the shapes providers actually return:
// a plain number, a numeric string, "$1,234.56", {"value": 12.5},
// {"raw": "$1,234.56"} or {"amount": "12.50"}. Unresolvable prices return 0
// and are rejected downstream by the minimum-price rule.
func ExtractPrice(v interface{}) float64 {
	switch p := v.(type) {
	case float64:
		return p
	case int:
		return float64(p)
	case string:
		return parsePriceString(p)
	case map[string]interface{}:
		for _, key := range []string{"value", "raw", "amount", "current_price"} {
			if nested, ok := p[key]; ok {
				if price := ExtractPrice(nested); price > 0 {
					return price
				}
			}
		}
	}
	return 0
}

func parsePriceString(s string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return 0
	}

	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return price
}
