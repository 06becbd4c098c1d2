package service

import (
	"context"
	"sync"
	"testing"

	"listing-aggregator/config"
	"listing-aggregator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalysisPublisher struct {
	mu       sync.Mutex
	analyzed []*models.PageAnalyzedEvent
	failed   []*models.AnalysisFailedEvent
}

func (f *fakeAnalysisPublisher) PublishPageAnalyzed(ctx context.Context, event *models.PageAnalyzedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, event)
	return nil
}

func (f *fakeAnalysisPublisher) PublishAnalysisFailed(ctx context.Context, event *models.AnalysisFailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, event)
	return nil
}

func TestHandleAnalysisRequestedAnalyzesPage(t *testing.T) {
	products := newFakeProductStore()
	tasks := newFakeTaskStore()
	analyzer := &fakeAnalyzer{}
	publisher := &fakeAnalysisPublisher{}
	fetchCfg := config.NewFetchConfig([]string{"amazon"}, 1, 0, 20, 7, 3, 12)

	// Fifteen stored rows: page two holds items 13-15, all unanalyzed.
	products.byQuery["office chair"] = storedProducts("office chair", 15, false)

	coordinator := testCoordinator(tasks, nil)
	hash := QueryHash("office chair")
	taskID, err := coordinator.Begin(context.Background(), hash, 2, 3)
	require.NoError(t, err)

	analyzerWorker := NewBackgroundAnalyzer(products, coordinator, analyzer, publisher, fetchCfg)
	err = analyzerWorker.HandleAnalysisRequested(context.Background(), &models.AnalysisRequestedEvent{
		TaskID:    taskID,
		Query:     "office chair",
		QueryHash: hash,
		Page:      2,
		PageSize:  12,
	})
	require.NoError(t, err)

	// Only the second page's three items were analyzed and written back.
	assert.Equal(t, []int{3}, analyzer.batches)
	assert.Len(t, products.partials, 3)

	task, err := tasks.GetTask(context.Background(), hash, 2)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, 3, task.ProductsAnalyzed)

	require.Len(t, publisher.analyzed, 1)
	assert.Equal(t, 2, publisher.analyzed[0].Page)
	assert.Equal(t, 3, publisher.analyzed[0].ProductsAnalyzed)
	assert.Empty(t, publisher.failed)
}

func TestHandleAnalysisRequestedSkipsAnalyzedItems(t *testing.T) {
	products := newFakeProductStore()
	tasks := newFakeTaskStore()
	analyzer := &fakeAnalyzer{}
	fetchCfg := config.NewFetchConfig([]string{"amazon"}, 1, 0, 20, 7, 3, 12)

	products.byQuery["office chair"] = storedProducts("office chair", 5, true)

	coordinator := testCoordinator(tasks, nil)
	hash := QueryHash("office chair")
	taskID, err := coordinator.Begin(context.Background(), hash, 1, 5)
	require.NoError(t, err)

	analyzerWorker := NewBackgroundAnalyzer(products, coordinator, analyzer, nil, fetchCfg)
	err = analyzerWorker.HandleAnalysisRequested(context.Background(), &models.AnalysisRequestedEvent{
		TaskID:    taskID,
		Query:     "office chair",
		QueryHash: hash,
		Page:      1,
		PageSize:  12,
	})
	require.NoError(t, err)

	assert.Empty(t, analyzer.batches)
	assert.Empty(t, products.partials)

	task, err := tasks.GetTask(context.Background(), hash, 1)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
}
