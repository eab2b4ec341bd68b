package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskRecord is the persisted form of a queued task.
type TaskRecord struct {
	ID           string
	Type         string
	Params       map[string]any
	Priority     string
	State        string
	Progress     float64
	Dependencies []string
	Result       string
	Error        string
	Seq          int64
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// SaveTaskSnapshot replaces the stored queue with records in one transaction.
func (db *DB) SaveTaskSnapshot(records []*TaskRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tasks`); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	insert := db.Q(`INSERT INTO tasks (id, type, params, priority, state, progress, dependencies, result, error, seq, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, r := range records {
		params, err := json.Marshal(orEmptyMap(r.Params))
		if err != nil {
			return fmt.Errorf("encode params %s: %w", r.ID, err)
		}
		deps, err := json.Marshal(orEmptySlice(r.Dependencies))
		if err != nil {
			return fmt.Errorf("encode deps %s: %w", r.ID, err)
		}
		created := r.CreatedAt
		if _, err := tx.Exec(insert, r.ID, r.Type, string(params), r.Priority, r.State, r.Progress,
			string(deps), r.Result, r.Error, r.Seq, formatTime(&created), formatTime(r.StartedAt), formatTime(r.CompletedAt)); err != nil {
			return fmt.Errorf("insert task %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// LoadTasks returns the stored snapshot in enqueue order.
func (db *DB) LoadTasks() ([]*TaskRecord, error) {
	rows, err := db.Query(`SELECT id, type, params, priority, state, progress, dependencies, result, error, seq, created_at, started_at, completed_at FROM tasks ORDER BY seq, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		var r TaskRecord
		var params, deps string
		var createdAt, startedAt, completedAt any
		if err := rows.Scan(&r.ID, &r.Type, &params, &r.Priority, &r.State, &r.Progress, &deps,
			&r.Result, &r.Error, &r.Seq, &createdAt, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("decode params %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(deps), &r.Dependencies); err != nil {
			return nil, fmt.Errorf("decode deps %s: %w", r.ID, err)
		}
		r.CreatedAt = parseTime(createdAt)
		r.StartedAt = parseTimePtr(startedAt)
		r.CompletedAt = parseTimePtr(completedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

type TaskHistoryEntry struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	TaskType  string    `json:"task_type"`
	OldState  string    `json:"old_state"`
	NewState  string    `json:"new_state"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

func (db *DB) AppendTaskHistory(taskID, taskType, oldState, newState, detail string) error {
	_, err := db.Exec(db.Q(`INSERT INTO task_history (task_id, task_type, old_state, new_state, detail) VALUES (?, ?, ?, ?, ?)`),
		taskID, taskType, oldState, newState, detail)
	return err
}

func (db *DB) ListTaskHistory(taskID string) ([]*TaskHistoryEntry, error) {
	rows, err := db.Query(db.Q(`SELECT id, task_id, task_type, old_state, new_state, detail, created_at FROM task_history WHERE task_id=? ORDER BY id`), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TaskHistoryEntry
	for rows.Next() {
		var e TaskHistoryEntry
		var createdAt any
		if err := rows.Scan(&e.ID, &e.TaskID, &e.TaskType, &e.OldState, &e.NewState, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
