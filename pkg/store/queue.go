package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/zuluhq/zulu/pkg/executor"
	"github.com/zuluhq/zulu/pkg/log"
)

var bucketTasks = []byte("tasks")

// Task statuses
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Task is one queued night-shift job
type Task struct {
	ID           int64             `json:"id"`
	TaskType     executor.TaskType `json:"task_type"`
	Prompt       string            `json:"prompt"`
	Priority     int               `json:"priority"`
	CreatedAt    string            `json:"created_at"`
	ScheduledFor string            `json:"scheduled_for,omitempty"`
	Status       string            `json:"status"`
	Result       map[string]any    `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
	CompletedAt  string            `json:"completed_at,omitempty"`
	Context      map[string]any    `json:"context,omitempty"`
}

// Queue is the bbolt-backed night-shift task queue
type Queue struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// Open opens (or creates) the queue database at the given path
func Open(dbPath string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTasks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &Queue{db: db, logger: log.WithComponent("store")}, nil
}

// Close closes the database
func (q *Queue) Close() error {
	return q.db.Close()
}

// Add enqueues a task and returns its ID. An empty scheduledFor means run
// at the next opportunity.
func (q *Queue) Add(taskType executor.TaskType, prompt string, priority int,
	scheduledFor string, context map[string]any) (int64, error) {
	var id int64
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)

		task := &Task{
			ID:           id,
			TaskType:     taskType,
			Prompt:       prompt,
			Priority:     priority,
			CreatedAt:    executor.Now(),
			ScheduledFor: scheduledFor,
			Status:       StatusPending,
			Context:      context,
		}
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put(taskKey(id), data)
	})
	if err != nil {
		return 0, err
	}

	q.logger.Info().Int64("task_id", id).Str("task_type", string(taskType)).
		Msg("task queued")
	return id, nil
}

// Get retrieves a task by ID
func (q *Queue) Get(id int64) (*Task, error) {
	var task Task
	err := q.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get(taskKey(id))
		if data == nil {
			return fmt.Errorf("task not found: %d", id)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Pending returns up to limit pending tasks that are due, highest priority
// first, oldest first within a priority
func (q *Queue) Pending(limit int) ([]*Task, error) {
	now := executor.Now()

	var tasks []*Task
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.Status != StatusPending {
				return nil
			}
			// Timestamps are RFC3339 UTC, so string order is time order
			if task.ScheduledFor != "" && task.ScheduledFor > now {
				return nil
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt < tasks[j].CreatedAt
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// MarkRunning flags a task as currently executing
func (q *Queue) MarkRunning(id int64) error {
	return q.update(id, func(t *Task) {
		t.Status = StatusRunning
	})
}

// MarkCompleted records a task's result
func (q *Queue) MarkCompleted(id int64, result map[string]any) error {
	return q.update(id, func(t *Task) {
		t.Status = StatusCompleted
		t.Result = result
		t.CompletedAt = executor.Now()
	})
}

// MarkFailed records a task's error
func (q *Queue) MarkFailed(id int64, errMsg string) error {
	return q.update(id, func(t *Task) {
		t.Status = StatusFailed
		t.Error = errMsg
		t.CompletedAt = executor.Now()
	})
}

// CompletedSince returns tasks finished (completed or failed) at or after
// the given RFC3339 timestamp, in completion order
func (q *Queue) CompletedSince(since string) ([]*Task, error) {
	var tasks []*Task
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.Status != StatusCompleted && task.Status != StatusFailed {
				return nil
			}
			if task.CompletedAt < since {
				return nil
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CompletedAt < tasks[j].CompletedAt
	})
	return tasks, nil
}

// CountByStatus reports queue depth per status, for metrics
func (q *Queue) CountByStatus() (map[string]int, error) {
	counts := make(map[string]int)
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			counts[task.Status]++
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (q *Queue) update(id int64, mutate func(*Task)) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get(taskKey(id))
		if data == nil {
			return fmt.Errorf("task not found: %d", id)
		}
		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		mutate(&task)
		updated, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return b.Put(taskKey(id), updated)
	})
}

func taskKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}
