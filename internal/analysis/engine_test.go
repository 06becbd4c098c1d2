package analysis

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"listing-aggregator/config"
	"listing-aggregator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(serverURL string) *Engine {
	return NewEngine(config.OpenAIConfig{APIKey: "test-key", Model: "test-model", BaseURL: serverURL})
}

func chatResponseWith(content string) string {
	return fmt.Sprintf(`{"choices": [{"message": {"content": %q}}]}`, content)
}

func testProducts(n int) []models.Product {
	products := make([]models.Product, n)
	for i := range products {
		products[i] = models.Product{Title: fmt.Sprintf("Product %d", i+1), Price: 100, Source: "amazon"}
	}
	return products
}

func TestAnalyzeBatchParsesProviderOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponseWith(
			`[{"pros": ["solid", "cheap", "fast shipping"], "cons": ["loud", "heavy", "plastic"], "imo_score": 8}]`)))
	}))
	defer srv.Close()

	results := testEngine(srv.URL).AnalyzeBatch(context.Background(), testProducts(1))

	require.Len(t, results, 1)
	assert.Equal(t, 8, results[0].ImoScore)
	assert.Equal(t, []string{"solid", "cheap", "fast shipping"}, results[0].Pros)
	assert.Equal(t, []string{"loud", "heavy", "plastic"}, results[0].Cons)
}

func TestAnalyzeBatchPadsShortProviderOutput(t *testing.T) {
	// Provider returns 3 analyses for a 5-item batch: the tail gets fallback.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponseWith(
			`[{"pros": ["a", "b", "c"], "cons": ["d", "e", "f"], "imo_score": 7},
			  {"pros": ["a", "b", "c"], "cons": ["d", "e", "f"], "imo_score": 6},
			  {"pros": ["a", "b", "c"], "cons": ["d", "e", "f"], "imo_score": 5}]`)))
	}))
	defer srv.Close()

	results := testEngine(srv.URL).AnalyzeBatch(context.Background(), testProducts(5))

	require.Len(t, results, 5)
	assert.Equal(t, 7, results[0].ImoScore)
	assert.Equal(t, FallbackAnalysis(), results[3])
	assert.Equal(t, FallbackAnalysis(), results[4])
}

func TestAnalyzeBatchFallsBackOnProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	results := testEngine(srv.URL).AnalyzeBatch(context.Background(), testProducts(3))

	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, FallbackAnalysis(), r)
	}
}

func TestAnalyzeBatchFallsBackOnMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponseWith(`not json at all`)))
	}))
	defer srv.Close()

	results := testEngine(srv.URL).AnalyzeBatch(context.Background(), testProducts(2))

	require.Len(t, results, 2)
	assert.Equal(t, FallbackAnalysis(), results[0])
}

func TestAnalyzeBatchClampsAndTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponseWith(
			`[{"pros": ["a", "b", "c", "d", "e"], "cons": ["x"], "imo_score": 42}]`)))
	}))
	defer srv.Close()

	results := testEngine(srv.URL).AnalyzeBatch(context.Background(), testProducts(1))

	require.Len(t, results, 1)
	assert.Equal(t, 10, results[0].ImoScore)
	assert.Equal(t, []string{"a", "b", "c"}, results[0].Pros)
	assert.Equal(t, []string{"x", "Limited analysis available", "Limited analysis available"}, results[0].Cons)
}

func TestAnalyzeBatchStripsCodeFences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponseWith(
			"```json\n[{\"pros\": [\"a\", \"b\", \"c\"], \"cons\": [\"d\", \"e\", \"f\"], \"imo_score\": 3}]\n```")))
	}))
	defer srv.Close()

	results := testEngine(srv.URL).AnalyzeBatch(context.Background(), testProducts(1))

	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].ImoScore)
}

func TestAnalyzeBatchEmptyInput(t *testing.T) {
	results := testEngine("http://unused").AnalyzeBatch(context.Background(), nil)
	assert.Empty(t, results)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 1, clampScore(-3))
	assert.Equal(t, 1, clampScore(0.4))
	assert.Equal(t, 7, clampScore(6.6))
	assert.Equal(t, 10, clampScore(99))
}
