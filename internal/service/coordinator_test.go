package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"listing-aggregator/internal/models"
	"listing-aggregator/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*models.AnalysisTask
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[string]*models.AnalysisTask)}
}

func pairKey(queryHash string, page int) string {
	return fmt.Sprintf("%s:%d", queryHash, page)
}

func (f *fakeTaskStore) GetTask(ctx context.Context, queryHash string, page int) (*models.AnalysisTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[pairKey(queryHash, page)]
	if !ok {
		return nil, nil
	}
	if task.Status == models.TaskStatusRunning && time.Since(task.HeartbeatAt) > 10*time.Minute {
		delete(f.tasks, pairKey(queryHash, page))
		return nil, nil
	}
	copied := *task
	return &copied, nil
}

func (f *fakeTaskStore) CreateTask(ctx context.Context, queryHash string, page, totalProducts int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(queryHash, page)
	if existing, ok := f.tasks[key]; ok &&
		existing.Status == models.TaskStatusRunning &&
		time.Since(existing.HeartbeatAt) <= 10*time.Minute {
		return "", nil
	}
	id := uuid.New().String()
	f.tasks[key] = &models.AnalysisTask{
		ID:            id,
		QueryHash:     queryHash,
		Page:          page,
		Status:        models.TaskStatusRunning,
		TotalProducts: totalProducts,
		HeartbeatAt:   time.Now(),
		CreatedAt:     time.Now(),
	}
	return id, nil
}

func (f *fakeTaskStore) UpdateTaskProgress(ctx context.Context, taskID string, upd store.TaskProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.ID != taskID {
			continue
		}
		task.HeartbeatAt = time.Now()
		if upd.Status != nil {
			task.Status = *upd.Status
		}
		if upd.ProductsAnalyzed != nil {
			task.ProductsAnalyzed = *upd.ProductsAnalyzed
		}
		if upd.TotalProducts != nil {
			task.TotalProducts = *upd.TotalProducts
		}
		return nil
	}
	return fmt.Errorf("task not found: %s", taskID)
}

func (f *fakeTaskStore) DeleteTask(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, task := range f.tasks {
		if task.ID == taskID {
			delete(f.tasks, key)
			return nil
		}
	}
	return nil
}

func (f *fakeTaskStore) setStatus(queryHash string, page int, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task, ok := f.tasks[pairKey(queryHash, page)]; ok {
		task.Status = status
	}
}

func (f *fakeTaskStore) setHeartbeat(queryHash string, page int, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task, ok := f.tasks[pairKey(queryHash, page)]; ok {
		task.HeartbeatAt = at
	}
}

type fakeLockClient struct {
	mu    sync.Mutex
	held  map[string]bool
	fail  bool
	calls int
}

func newFakeLockClient() *fakeLockClient {
	return &fakeLockClient{held: make(map[string]bool)}
}

func (f *fakeLockClient) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return false, fmt.Errorf("redis unavailable")
	}
	if f.held[lockKey] {
		return false, nil
	}
	f.held[lockKey] = true
	return true, nil
}

func (f *fakeLockClient) ReleaseLock(ctx context.Context, lockKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, lockKey)
	return nil
}

func testCoordinator(tasks TaskStore, locks LockClient) *TaskCoordinator {
	tc := NewTaskCoordinator(tasks, locks)
	tc.pollInterval = 5 * time.Millisecond
	tc.maxWait = 50 * time.Millisecond
	return tc
}

func TestBeginClaimsPair(t *testing.T) {
	tasks := newFakeTaskStore()
	tc := testCoordinator(tasks, newFakeLockClient())

	taskID, err := tc.Begin(context.Background(), "hash1", 2, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := tc.Status(context.Background(), "hash1", 2)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, models.TaskStatusRunning, task.Status)
}

func TestBeginLosesCreationRace(t *testing.T) {
	tasks := newFakeTaskStore()
	// Two coordinators sharing the task table but not the lock namespace,
	// so the race falls through to the table's conflict rule.
	tc1 := testCoordinator(tasks, nil)
	tc2 := testCoordinator(tasks, nil)

	first, err := tc1.Begin(context.Background(), "hash1", 1, 5)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := tc2.Begin(context.Background(), "hash1", 1, 5)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestBeginEvictsStaleClaim(t *testing.T) {
	tasks := newFakeTaskStore()
	tc := testCoordinator(tasks, nil)

	first, err := tc.Begin(context.Background(), "hash1", 2, 5)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// A crashed worker leaves a running task with a dead heartbeat. The next
	// claim must treat it as absent, not honor it forever.
	tasks.setHeartbeat("hash1", 2, time.Now().Add(-20*time.Minute))

	second, err := tc.Begin(context.Background(), "hash1", 2, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
}

func TestBeginBlockedByLock(t *testing.T) {
	tasks := newFakeTaskStore()
	locks := newFakeLockClient()
	tc := testCoordinator(tasks, locks)

	first, err := tc.Begin(context.Background(), "hash1", 1, 5)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// The winner still holds the lock; a second claim is refused before the
	// task table is even consulted.
	second, err := tc.Begin(context.Background(), "hash1", 1, 5)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestBeginDegradesWhenLockUnavailable(t *testing.T) {
	tasks := newFakeTaskStore()
	locks := newFakeLockClient()
	locks.fail = true
	tc := testCoordinator(tasks, locks)

	taskID, err := tc.Begin(context.Background(), "hash1", 1, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)
}

func TestFinishReleasesPair(t *testing.T) {
	tasks := newFakeTaskStore()
	locks := newFakeLockClient()
	tc := testCoordinator(tasks, locks)

	taskID, err := tc.Begin(context.Background(), "hash1", 1, 5)
	require.NoError(t, err)

	require.NoError(t, tc.Finish(context.Background(), "hash1", 1, taskID, models.TaskStatusCompleted, 5))

	task, err := tc.Status(context.Background(), "hash1", 1)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)

	// The pair is claimable again.
	next, err := tc.Begin(context.Background(), "hash1", 1, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, next)
}

func TestWaitForCompletionObservesCompletion(t *testing.T) {
	tasks := newFakeTaskStore()
	tc := testCoordinator(tasks, nil)

	_, err := tc.Begin(context.Background(), "hash1", 1, 5)
	require.NoError(t, err)

	go func() {
		time.Sleep(15 * time.Millisecond)
		tasks.setStatus("hash1", 1, models.TaskStatusCompleted)
	}()

	done, err := tc.WaitForCompletion(context.Background(), "hash1", 1)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestWaitForCompletionGivesUp(t *testing.T) {
	tasks := newFakeTaskStore()
	tc := testCoordinator(tasks, nil)

	_, err := tc.Begin(context.Background(), "hash1", 1, 5)
	require.NoError(t, err)

	done, err := tc.WaitForCompletion(context.Background(), "hash1", 1)
	require.NoError(t, err)
	assert.False(t, done)
}
