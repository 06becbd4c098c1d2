package models

import "time"

// Event types
const (
	EventTypeSearchPerformed   = "SEARCH_PERFORMED"
	EventTypeAnalysisRequested = "ANALYSIS_REQUESTED"
	EventTypePageAnalyzed      = "PAGE_ANALYZED"
	EventTypeAnalysisFailed    = "ANALYSIS_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SearchPerformedEvent is published after every completed search request.
type SearchPerformedEvent struct {
	BaseEvent
	Query        string         `json:"query"`
	QueryHash    string         `json:"query_hash"`
	Page         int            `json:"page"`
	TotalCount   int            `json:"total_count"`
	FromCache    bool           `json:"from_cache"`
	SourceCounts map[string]int `json:"source_counts,omitempty"`
}

// AnalysisRequestedEvent asks the background worker to analyze one page of a
// query's stored products. TaskID references the already-claimed coordination
// record; the worker never creates its own.
type AnalysisRequestedEvent struct {
	BaseEvent
	TaskID    string `json:"task_id"`
	Query     string `json:"query"`
	QueryHash string `json:"query_hash"`
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
}

// PageAnalyzedEvent is published when a background analysis task completes.
type PageAnalyzedEvent struct {
	BaseEvent
	TaskID           string `json:"task_id"`
	QueryHash        string `json:"query_hash"`
	Page             int    `json:"page"`
	ProductsAnalyzed int    `json:"products_analyzed"`
}

// AnalysisFailedEvent is published when a background analysis task fails.
type AnalysisFailedEvent struct {
	BaseEvent
	TaskID    string `json:"task_id"`
	QueryHash string `json:"query_hash"`
	Page      int    `json:"page"`
	Reason    string `json:"reason"`
}
