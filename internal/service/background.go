package service

import (
	"context"
	"fmt"
	"time"

	"listing-aggregator/config"
	"listing-aggregator/internal/models"
	"listing-aggregator/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// progressChunkSize is how many products are analyzed between heartbeats.
const progressChunkSize = 4

// AnalysisEventPublisher emits task completion events. Nil disables publishing.
type AnalysisEventPublisher interface {
	PublishPageAnalyzed(ctx context.Context, event *models.PageAnalyzedEvent) error
	PublishAnalysisFailed(ctx context.Context, event *models.AnalysisFailedEvent) error
}

// BackgroundAnalyzer executes claimed analysis tasks from the worker queue.
// It reads the already-persisted batch for the query; there is never a second
// external fetch.
type BackgroundAnalyzer struct {
	store       ProductStore
	coordinator *TaskCoordinator
	engine      Analyzer
	publisher   AnalysisEventPublisher
	fetchCfg    *config.FetchConfig
	logger      *zap.Logger
}

// NewBackgroundAnalyzer creates a background analyzer.
func NewBackgroundAnalyzer(
	store ProductStore,
	coordinator *TaskCoordinator,
	engine Analyzer,
	publisher AnalysisEventPublisher,
	fetchCfg *config.FetchConfig,
) *BackgroundAnalyzer {
	return &BackgroundAnalyzer{
		store:       store,
		coordinator: coordinator,
		engine:      engine,
		publisher:   publisher,
		fetchCfg:    fetchCfg,
		logger:      util.GetLogger(),
	}
}

// HandleAnalysisRequested analyzes one stored page of a query's products,
// heartbeating progress as it goes and finishing the task terminally.
func (b *BackgroundAnalyzer) HandleAnalysisRequested(ctx context.Context, event *models.AnalysisRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "BackgroundAnalyzer.HandleAnalysisRequested")
	defer span.End()

	b.logger.Info("Starting background analysis",
		zap.String("task_id", event.TaskID),
		zap.String("query", event.Query),
		zap.Int("page", event.Page))

	snap := b.fetchCfg.Snapshot()

	products, err := b.store.FindByQuery(ctx, event.Query, snap.MinPrice)
	if err != nil {
		b.fail(ctx, event, fmt.Sprintf("store read failed: %v", err))
		return fmt.Errorf("failed to load products for analysis: %w", err)
	}

	pageSize := event.PageSize
	if pageSize <= 0 {
		pageSize = snap.PageSize
	}
	pageItems, _ := paginate(products, event.Page, pageSize)

	var pending []models.Product
	for _, p := range pageItems {
		if !p.Analyzed() {
			pending = append(pending, p)
		}
	}

	analyzed := 0
	for offset := 0; offset < len(pending); offset += progressChunkSize {
		end := offset + progressChunkSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[offset:end]

		analyses := b.engine.AnalyzeBatch(ctx, chunk)
		for i := range chunk {
			applyAnalysis(&chunk[i], analyses[i])
			if err := b.store.PartialUpdate(ctx, chunk[i].ID, map[string]interface{}{
				"imo_score":         *chunk[i].ImoScore,
				"pros":              chunk[i].Pros,
				"cons":              chunk[i].Cons,
				"needs_ai_analysis": false,
			}); err != nil {
				b.logger.Warn("Failed to persist background analysis",
					zap.Int64("product_id", chunk[i].ID), zap.Error(err))
				util.StoreSaveFailuresTotal.Inc()
				continue
			}
			analyzed++
		}

		if err := b.coordinator.Progress(ctx, event.TaskID, analyzed, len(pageItems)); err != nil {
			b.logger.Warn("Failed to heartbeat task",
				zap.String("task_id", event.TaskID), zap.Error(err))
		}
	}

	if err := b.coordinator.Finish(ctx, event.QueryHash, event.Page, event.TaskID, models.TaskStatusCompleted, analyzed); err != nil {
		b.logger.Error("Failed to complete task",
			zap.String("task_id", event.TaskID), zap.Error(err))
	}

	if b.publisher != nil {
		done := &models.PageAnalyzedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePageAnalyzed,
				Timestamp: time.Now(),
			},
			TaskID:           event.TaskID,
			QueryHash:        event.QueryHash,
			Page:             event.Page,
			ProductsAnalyzed: analyzed,
		}
		if err := b.publisher.PublishPageAnalyzed(ctx, done); err != nil {
			b.logger.Warn("Failed to publish PageAnalyzed event", zap.Error(err))
		}
	}

	b.logger.Info("Background analysis completed",
		zap.String("task_id", event.TaskID),
		zap.Int("analyzed", analyzed),
		zap.Int("page_items", len(pageItems)))
	return nil
}

func (b *BackgroundAnalyzer) fail(ctx context.Context, event *models.AnalysisRequestedEvent, reason string) {
	if err := b.coordinator.Finish(ctx, event.QueryHash, event.Page, event.TaskID, models.TaskStatusFailed, 0); err != nil {
		b.logger.Error("Failed to mark task failed",
			zap.String("task_id", event.TaskID), zap.Error(err))
	}

	if b.publisher == nil {
		return
	}
	failed := &models.AnalysisFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeAnalysisFailed,
			Timestamp: time.Now(),
		},
		TaskID:    event.TaskID,
		QueryHash: event.QueryHash,
		Page:      event.Page,
		Reason:    reason,
	}
	if err := b.publisher.PublishAnalysisFailed(ctx, failed); err != nil {
		b.logger.Warn("Failed to publish AnalysisFailed event", zap.Error(err))
	}
}
