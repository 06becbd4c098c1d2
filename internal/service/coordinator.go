package service

import (
	"context"
	"fmt"
	"time"

	"listing-aggregator/internal/models"
	"listing-aggregator/internal/store"
	"listing-aggregator/internal/util"

	"go.uber.org/zap"
)

const (
	// waitPollInterval and waitMaxDuration bound the consumer wait protocol:
	// poll an in-flight page's task once a second, give up after eight.
	waitPollInterval = time.Second
	waitMaxDuration  = 8 * time.Second

	// taskLockTTL matches the stale-task eviction threshold.
	taskLockTTL = 10 * time.Minute
)

// TaskStore is the persistence surface the coordinator needs.
type TaskStore interface {
	GetTask(ctx context.Context, queryHash string, page int) (*models.AnalysisTask, error)
	CreateTask(ctx context.Context, queryHash string, page, totalProducts int) (string, error)
	UpdateTaskProgress(ctx context.Context, taskID string, upd store.TaskProgressUpdate) error
	DeleteTask(ctx context.Context, taskID string) error
}

// LockClient is the best-effort distributed lock surface, satisfied by the
// Redis client. A nil LockClient disables the guard; the task table's
// create-if-absent still enforces mutual exclusion.
type LockClient interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// TaskCoordinator tracks long-running per-(query_hash, page) analysis jobs so
// concurrent callers never duplicate expensive work. Creation races resolve
// best-effort: one creator wins, losers observe the existing running task.
type TaskCoordinator struct {
	tasks        TaskStore
	locks        LockClient
	pollInterval time.Duration
	maxWait      time.Duration
	logger       *zap.Logger
}

// NewTaskCoordinator creates a task coordinator.
func NewTaskCoordinator(tasks TaskStore, locks LockClient) *TaskCoordinator {
	return &TaskCoordinator{
		tasks:        tasks,
		locks:        locks,
		pollInterval: waitPollInterval,
		maxWait:      waitMaxDuration,
		logger:       util.GetLogger(),
	}
}

func taskLockKey(queryHash string, page int) string {
	return fmt.Sprintf("analysis:%s:%d", queryHash, page)
}

// Status returns the current non-stale task for the pair, or nil.
func (tc *TaskCoordinator) Status(ctx context.Context, queryHash string, page int) (*models.AnalysisTask, error) {
	return tc.tasks.GetTask(ctx, queryHash, page)
}

// Begin claims analysis work for a (query_hash, page) pair. It returns the
// new task id, or "" when another caller already holds the pair. The Redis
// guard is advisory; a Redis outage degrades to the table's conflict rule.
func (tc *TaskCoordinator) Begin(ctx context.Context, queryHash string, page, totalProducts int) (string, error) {
	lockKey := taskLockKey(queryHash, page)
	if tc.locks != nil {
		acquired, err := tc.locks.AcquireLock(ctx, lockKey, taskLockTTL)
		if err != nil {
			tc.logger.Warn("Task lock unavailable, relying on task table",
				zap.String("query_hash", queryHash), zap.Error(err))
		} else if !acquired {
			return "", nil
		}
	}

	taskID, err := tc.tasks.CreateTask(ctx, queryHash, page, totalProducts)
	if err != nil {
		tc.releaseLock(queryHash, page)
		return "", fmt.Errorf("failed to create analysis task: %w", err)
	}
	if taskID == "" {
		// Lost the creation race; the winner's task stands.
		tc.releaseLock(queryHash, page)
		return "", nil
	}

	util.AnalysisTasksStartedTotal.Inc()
	return taskID, nil
}

// Progress records how far a task has come and refreshes its heartbeat.
func (tc *TaskCoordinator) Progress(ctx context.Context, taskID string, analyzed, total int) error {
	return tc.tasks.UpdateTaskProgress(ctx, taskID, store.TaskProgressUpdate{
		ProductsAnalyzed: &analyzed,
		TotalProducts:    &total,
	})
}

// Finish moves a task to a terminal status and releases the pair.
func (tc *TaskCoordinator) Finish(ctx context.Context, queryHash string, page int, taskID, status string, analyzed int) error {
	err := tc.tasks.UpdateTaskProgress(ctx, taskID, store.TaskProgressUpdate{
		Status:           &status,
		ProductsAnalyzed: &analyzed,
	})
	tc.releaseLock(queryHash, page)
	util.AnalysisTasksCompletedTotal.WithLabelValues(status).Inc()
	return err
}

// Abandon drops a claimed task that never ran (e.g. its work item could not
// be queued) so the pair is immediately available again.
func (tc *TaskCoordinator) Abandon(ctx context.Context, queryHash string, page int, taskID string) {
	if err := tc.tasks.DeleteTask(ctx, taskID); err != nil {
		tc.logger.Error("Failed to abandon task", zap.String("task_id", taskID), zap.Error(err))
	}
	tc.releaseLock(queryHash, page)
}

// WaitForCompletion polls an in-flight task until it leaves the running state
// or the wait budget runs out. It returns true when the task completed (the
// caller should re-read the store) and false when the page is still being
// analyzed.
func (tc *TaskCoordinator) WaitForCompletion(ctx context.Context, queryHash string, page int) (bool, error) {
	deadline := time.Now().Add(tc.maxWait)
	ticker := time.NewTicker(tc.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			task, err := tc.tasks.GetTask(ctx, queryHash, page)
			if err != nil {
				return false, err
			}
			if task == nil || task.Status != models.TaskStatusRunning {
				return true, nil
			}
			if time.Now().After(deadline) {
				return false, nil
			}
		}
	}
}

func (tc *TaskCoordinator) releaseLock(queryHash string, page int) {
	if tc.locks == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tc.locks.ReleaseLock(ctx, taskLockKey(queryHash, page)); err != nil {
		tc.logger.Warn("Failed to release task lock",
			zap.String("query_hash", queryHash), zap.Int("page", page), zap.Error(err))
	}
}
