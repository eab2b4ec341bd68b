package engine

import (
	"encoding/json"

	"robonav/store"
	"robonav/taskqueue"
)

// taskStore persists the queue snapshot in the tasks table.
type taskStore struct {
	db *store.DB
}

func (s *taskStore) SaveTasks(tasks []taskqueue.Task) error {
	records := make([]*store.TaskRecord, 0, len(tasks))
	for _, t := range tasks {
		r := &store.TaskRecord{
			ID:           t.ID,
			Type:         string(t.Type),
			Params:       t.Params,
			Priority:     string(t.Priority),
			State:        string(t.State),
			Progress:     t.Progress,
			Dependencies: t.Dependencies,
			Error:        t.Error,
			Seq:          t.Seq,
			CreatedAt:    t.CreatedAt,
			StartedAt:    t.StartedAt,
			CompletedAt:  t.CompletedAt,
		}
		if t.Result != nil {
			data, err := json.Marshal(t.Result)
			if err != nil {
				return err
			}
			r.Result = string(data)
		}
		records = append(records, r)
	}
	return s.db.SaveTaskSnapshot(records)
}

func (s *taskStore) LoadTasks() ([]taskqueue.Task, error) {
	records, err := s.db.LoadTasks()
	if err != nil {
		return nil, err
	}
	tasks := make([]taskqueue.Task, 0, len(records))
	for _, r := range records {
		t := taskqueue.Task{
			ID:           r.ID,
			Type:         taskqueue.TaskType(r.Type),
			Params:       r.Params,
			Priority:     taskqueue.Priority(r.Priority),
			State:        taskqueue.State(r.State),
			Progress:     r.Progress,
			Dependencies: r.Dependencies,
			Error:        r.Error,
			Seq:          r.Seq,
			CreatedAt:    r.CreatedAt,
			StartedAt:    r.StartedAt,
			CompletedAt:  r.CompletedAt,
		}
		if r.Result != "" {
			if err := json.Unmarshal([]byte(r.Result), &t.Result); err != nil {
				return nil, err
			}
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
