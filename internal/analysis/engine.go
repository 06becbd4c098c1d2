package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"listing-aggregator/config"
	"listing-aggregator/internal/models"
	"listing-aggregator/internal/util"

	"go.uber.org/zap"
)

const (
	// batchSize caps how many products go into one provider call.
	batchSize = 5
	// tokensPerProduct scales the output budget with batch size.
	tokensPerProduct = 220

	fallbackPro   = "Available from reputable source"
	fallbackCon   = "Limited analysis available"
	fallbackScore = 5

	prosConsLen = 3
)

// Engine produces quality analyses for product batches via a chat-completions
// provider. Analysis is best-effort enrichment: any provider failure resolves
// to deterministic fallback values, and the output is always aligned 1:1 with
// the input.
type Engine struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewEngine creates an analysis engine from the provider configuration.
func NewEngine(cfg config.OpenAIConfig) *Engine {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Engine{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: util.GetLogger(),
	}
}

// FallbackAnalysis returns the deterministic triple used when the provider
// cannot supply one.
func FallbackAnalysis() models.Analysis {
	return models.Analysis{
		Pros:     []string{fallbackPro, fallbackPro, fallbackPro},
		Cons:     []string{fallbackCon, fallbackCon, fallbackCon},
		ImoScore: fallbackScore,
	}
}

// AnalyzeBatch analyzes products in concurrent capped batches. The returned
// slice always has len(products) entries; callers never handle a length
// mismatch or an error.
func (e *Engine) AnalyzeBatch(ctx context.Context, products []models.Product) []models.Analysis {
	results := make([]models.Analysis, len(products))
	if len(products) == 0 {
		return results
	}

	start := time.Now()
	defer func() {
		util.AnalysisLatency.Observe(time.Since(start).Seconds())
	}()

	var wg sync.WaitGroup
	for offset := 0; offset < len(products); offset += batchSize {
		end := offset + batchSize
		if end > len(products) {
			end = len(products)
		}

		wg.Add(1)
		go func(offset int, chunk []models.Product) {
			defer wg.Done()
			analyses := e.analyzeChunk(ctx, chunk)
			copy(results[offset:], analyses)
		}(offset, products[offset:end])
	}
	wg.Wait()

	return results
}

// analyzeChunk analyzes one capped batch; its result is always len(chunk).
func (e *Engine) analyzeChunk(ctx context.Context, chunk []models.Product) []models.Analysis {
	util.AnalysisBatchesTotal.Inc()

	raw, err := e.complete(ctx, chunk)
	if err != nil {
		e.logger.Warn("Analysis batch failed, using fallback",
			zap.Int("batch_size", len(chunk)),
			zap.Error(err))
		util.AnalysisFallbacksTotal.Add(float64(len(chunk)))
		return fallbackBatch(len(chunk))
	}

	return alignBatch(raw, len(chunk))
}

// alignBatch validates and clamps provider output, truncating or padding with
// fallback entries so the result is exactly want items long.
func alignBatch(raw []rawAnalysis, want int) []models.Analysis {
	out := make([]models.Analysis, want)
	for i := 0; i < want; i++ {
		if i >= len(raw) {
			out[i] = FallbackAnalysis()
			util.AnalysisFallbacksTotal.Inc()
			continue
		}
		out[i] = models.Analysis{
			Pros:     padEntries(raw[i].Pros, fallbackPro),
			Cons:     padEntries(raw[i].Cons, fallbackCon),
			ImoScore: clampScore(raw[i].ImoScore),
		}
	}
	return out
}

func fallbackBatch(n int) []models.Analysis {
	out := make([]models.Analysis, n)
	for i := range out {
		out[i] = FallbackAnalysis()
	}
	return out
}

// padEntries returns exactly prosConsLen entries.
func padEntries(entries []string, filler string) []string {
	out := make([]string, 0, prosConsLen)
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		out = append(out, e)
		if len(out) == prosConsLen {
			return out
		}
	}
	for len(out) < prosConsLen {
		out = append(out, filler)
	}
	return out
}

// clampScore rounds and clamps a score into [1, 10].
func clampScore(score float64) int {
	s := int(math.Round(score))
	if s < 1 {
		return 1
	}
	if s > 10 {
		return 10
	}
	return s
}

type rawAnalysis struct {
	Pros     []string `json:"pros"`
	Cons     []string `json:"cons"`
	ImoScore float64  `json:"imo_score"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete calls the chat-completions endpoint and parses the JSON array the
// prompt demands.
func (e *Engine) complete(ctx context.Context, chunk []models.Product) ([]rawAnalysis, error) {
	payload := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildBatchPrompt(chunk)},
		},
		Temperature: 0.3,
		MaxTokens:   tokensPerProduct * len(chunk),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analysis request failed with status %d", resp.StatusCode)
	}

	var envelope chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if len(envelope.Choices) == 0 {
		return nil, fmt.Errorf("analysis response has no choices")
	}

	content := stripCodeFences(envelope.Choices[0].Message.Content)

	var analyses []rawAnalysis
	if err := json.Unmarshal([]byte(content), &analyses); err != nil {
		return nil, fmt.Errorf("failed to parse analysis payload: %w", err)
	}
	return analyses, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
