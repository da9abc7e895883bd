package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Status is a task's position in its lifecycle. Transitions are monotonic:
// pending → routing → executing → done|failed. The only sanctioned reset is
// crash recovery moving routing back to pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusExecuting Status = "executing"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
)

// Task is one queued request and its routing/execution state.
type Task struct {
	ID           int64
	RequestText  string
	Status       Status
	Capability   string // empty until routed
	Handoff      bool
	Params       map[string]string
	ResultRef    string // artifact path, set when done
	ErrorDetail  string // set when failed
	SpawnPID     int64  // recorded for detached external-agent processes
	ArtifactPath string // expected artifact location for detached processes
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoutingDecision is the router's verdict for a task.
type RoutingDecision struct {
	Capability string
	Params     map[string]string
	Handoff    bool
}

// ValidationError reports request text rejected before a task is created.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request text: " + e.Reason
}

// ErrStateConflict is returned when a transition finds the task in a
// different state than required; the row is left untouched.
var ErrStateConflict = errors.New("task not in required state")

// Enqueue validates text and inserts a pending task, returning its id.
func (s *Store) Enqueue(text string) (int64, error) {
	if text == "" {
		return 0, &ValidationError{Reason: "empty"}
	}
	if !utf8.ValidString(text) {
		return 0, &ValidationError{Reason: "not valid UTF-8"}
	}
	if n := utf8.RuneCountInString(text); n > s.maxRequestLen {
		return 0, &ValidationError{Reason: fmt.Sprintf("%d characters exceeds limit of %d", n, s.maxRequestLen)}
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO tasks (request_text, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		text, StatusPending, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read task id: %w", err)
	}

	s.log.Info("task enqueued", zap.Int64("task", id), zap.Int("len", utf8.RuneCountInString(text)))
	return id, nil
}

// ClaimNextPending selects the oldest pending task and moves it to routing.
// The transition is an optimistic conditional update: if another claimer
// won the race the update touches zero rows and (nil, nil) is returned, as
// it is when the queue is empty.
func (s *Store) ClaimNextPending() (*Task, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM tasks WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		StatusPending,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pending task: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusRouting, time.Now().UTC(), id, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n != 1 {
		// Lost the race; the winner owns the task now.
		return nil, nil
	}

	return s.Get(id)
}

// RecordDecision persists the routing decision and moves routing → executing.
// A task not currently in routing is left untouched and the conflict logged.
func (s *Store) RecordDecision(id int64, d RoutingDecision) error {
	params, err := json.Marshal(d.Params)
	if err != nil {
		return fmt.Errorf("failed to encode decision params: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, capability = ?, handoff = ?, params = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		StatusExecuting, d.Capability, d.Handoff, string(params), time.Now().UTC(), id, StatusRouting,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision for task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		s.log.Warn("decision rejected, task not in routing", zap.Int64("task", id))
		return fmt.Errorf("task %d: %w", id, ErrStateConflict)
	}

	s.log.Info("task routed",
		zap.Int64("task", id),
		zap.String("capability", d.Capability),
		zap.Bool("handoff", d.Handoff))
	return nil
}

// RecordSpawn persists the detached process identity for an executing task
// so a restarted engine can reconcile it.
func (s *Store) RecordSpawn(id int64, pid int, artifactPath string) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET spawn_pid = ?, artifact_path = ?, updated_at = ? WHERE id = ? AND status = ?`,
		pid, artifactPath, time.Now().UTC(), id, StatusExecuting,
	)
	if err != nil {
		return fmt.Errorf("failed to record spawn for task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("task %d: %w", id, ErrStateConflict)
	}
	return nil
}

// Finish moves executing → done and records the artifact reference.
func (s *Store) Finish(id int64, artifactRef string) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, result_ref = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusDone, artifactRef, time.Now().UTC(), id, StatusExecuting,
	)
	if err != nil {
		return fmt.Errorf("failed to finish task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		s.log.Warn("finish rejected, task not executing", zap.Int64("task", id))
		return fmt.Errorf("task %d: %w", id, ErrStateConflict)
	}

	s.log.Info("task done", zap.Int64("task", id), zap.String("artifact", artifactRef))
	return nil
}

// Fail moves any non-terminal state → failed with a descriptive detail.
func (s *Store) Fail(id int64, detail string) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, error_detail = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`,
		StatusFailed, detail, time.Now().UTC(), id, StatusPending, StatusRouting, StatusExecuting,
	)
	if err != nil {
		return fmt.Errorf("failed to fail task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		s.log.Warn("fail rejected, task already terminal", zap.Int64("task", id))
		return fmt.Errorf("task %d: %w", id, ErrStateConflict)
	}

	s.log.Info("task failed", zap.Int64("task", id), zap.String("detail", detail))
	return nil
}

// Get returns one task by id.
func (s *Store) Get(id int64) (*Task, error) {
	row := s.db.QueryRow(
		`SELECT id, request_text, status, capability, handoff, params, result_ref,
		        error_detail, spawn_pid, artifact_path, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d not found", id)
	}
	return t, err
}

// List returns tasks newest-first, optionally filtered by status.
// limit <= 0 means no limit.
func (s *Store) List(status Status, limit int) ([]*Task, error) {
	query := `SELECT id, request_text, status, capability, handoff, params, result_ref,
	                 error_detail, spawn_pid, artifact_path, created_at, updated_at
	          FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountByStatus returns the number of tasks in each status.
func (s *Store) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// ResetRouting requeues every routing task to pending. Run at startup:
// routing work is never externally observable, so redoing it is safe.
func (s *Store) ResetRouting() (int64, error) {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, time.Now().UTC(), StatusRouting,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset routing tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("requeued routing tasks", zap.Int64("count", n))
	}
	return n, nil
}

// ListExecuting returns executing tasks filtered by handoff flag.
// Crash recovery uses this to find work orphaned by a restart.
func (s *Store) ListExecuting(handoff bool) ([]*Task, error) {
	rows, err := s.db.Query(
		`SELECT id, request_text, status, capability, handoff, params, result_ref,
		        error_detail, spawn_pid, artifact_path, created_at, updated_at
		 FROM tasks WHERE status = ? AND handoff = ? ORDER BY created_at ASC, id ASC`,
		StatusExecuting, handoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list executing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t            Task
		capability   sql.NullString
		handoff      sql.NullBool
		params       sql.NullString
		resultRef    sql.NullString
		errorDetail  sql.NullString
		spawnPID     sql.NullInt64
		artifactPath sql.NullString
	)

	err := row.Scan(&t.ID, &t.RequestText, &t.Status, &capability, &handoff, &params,
		&resultRef, &errorDetail, &spawnPID, &artifactPath, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Capability = capability.String
	t.Handoff = handoff.Bool
	t.ResultRef = resultRef.String
	t.ErrorDetail = errorDetail.String
	t.SpawnPID = spawnPID.Int64
	t.ArtifactPath = artifactPath.String

	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &t.Params); err != nil {
			return nil, fmt.Errorf("failed to decode params for task %d: %w", t.ID, err)
		}
	}

	return &t, nil
}
