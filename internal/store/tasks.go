package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"listing-aggregator/internal/models"

	"github.com/google/uuid"
)

// staleTaskAge is how old a running task's heartbeat may be before the task is
// treated as abandoned and evicted.
const staleTaskAge = 10 * time.Minute

// GetTask returns the current analysis task for a (query_hash, page) pair, or
// nil when none exists. Stale running tasks are evicted first, so a crashed
// worker never blocks the pair forever.
func (s *Store) GetTask(ctx context.Context, queryHash string, page int) (*models.AnalysisTask, error) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM analysis_tasks
		 WHERE query_hash = $1 AND page = $2 AND status = $3
		   AND heartbeat_at < NOW() - make_interval(mins => $4)`,
		queryHash, page, models.TaskStatusRunning, int(staleTaskAge.Minutes()))
	if err != nil {
		return nil, fmt.Errorf("failed to evict stale tasks: %w", err)
	}

	var task models.AnalysisTask
	err = s.db.GetContext(ctx, &task,
		"SELECT * FROM analysis_tasks WHERE query_hash = $1 AND page = $2", queryHash, page)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask inserts a running task for a (query_hash, page) pair. Creation is
// best-effort: when another caller holds a live task for the pair, the insert
// is a no-op and an empty id is returned. Terminal and stale running tasks for
// the pair are cleared first, so a finished page can be re-analyzed and a
// crashed worker's claim never blocks the pair.
func (s *Store) CreateTask(ctx context.Context, queryHash string, page, totalProducts int) (string, error) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM analysis_tasks
		 WHERE query_hash = $1 AND page = $2
		   AND (status != $3 OR heartbeat_at < NOW() - make_interval(mins => $4))`,
		queryHash, page, models.TaskStatusRunning, int(staleTaskAge.Minutes()))
	if err != nil {
		return "", fmt.Errorf("failed to clear replaceable tasks: %w", err)
	}

	id := uuid.New().String()
	var inserted string
	err = s.db.GetContext(ctx, &inserted,
		`INSERT INTO analysis_tasks (id, query_hash, page, status, products_analyzed, total_products, heartbeat_at, created_at)
		 VALUES ($1, $2, $3, $4, 0, $5, NOW(), NOW())
		 ON CONFLICT (query_hash, page) DO NOTHING
		 RETURNING id`,
		id, queryHash, page, models.TaskStatusRunning, totalProducts)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	return inserted, nil
}

// TaskProgressUpdate is a partial update to a task; nil fields are untouched.
type TaskProgressUpdate struct {
	Status           *string
	ProductsAnalyzed *int
	TotalProducts    *int
}

// UpdateTaskProgress applies a progress update and always refreshes the
// heartbeat. Setting a terminal status also stamps completed_at.
func (s *Store) UpdateTaskProgress(ctx context.Context, taskID string, upd TaskProgressUpdate) error {
	setClauses := []string{"heartbeat_at = NOW()"}
	args := []interface{}{}
	i := 1

	if upd.Status != nil {
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", i))
		args = append(args, *upd.Status)
		i++
		if *upd.Status == models.TaskStatusCompleted || *upd.Status == models.TaskStatusFailed {
			setClauses = append(setClauses, "completed_at = NOW()")
		}
	}
	if upd.ProductsAnalyzed != nil {
		setClauses = append(setClauses, fmt.Sprintf("products_analyzed = $%d", i))
		args = append(args, *upd.ProductsAnalyzed)
		i++
	}
	if upd.TotalProducts != nil {
		setClauses = append(setClauses, fmt.Sprintf("total_products = $%d", i))
		args = append(args, *upd.TotalProducts)
		i++
	}

	args = append(args, taskID)
	query := fmt.Sprintf("UPDATE analysis_tasks SET %s WHERE id = $%d", strings.Join(setClauses, ", "), i)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// DeleteTask removes a task record.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM analysis_tasks WHERE id = $1", taskID)
	return err
}
