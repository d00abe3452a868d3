package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultResultTTL = 10 * time.Minute
	cleanupInterval  = time.Minute
)

// ErrQueueFull is returned when Submit cannot hand the task to a worker
// without blocking.
var ErrQueueFull = errors.New("queue: task buffer full")

type inProcessResult struct {
	result TaskResult
	doneAt time.Time
}

// InProcess runs tasks on a fixed worker pool inside the API process and
// keeps results in memory. It is the single-binary deployment mode; the
// Kafka queue replaces it when the worker runs separately.
type InProcess struct {
	handler Handler
	tasks   chan Task
	ttl     time.Duration

	mu      sync.Mutex
	results map[string]inProcessResult
}

func NewInProcess(workers int, handler Handler) *InProcess {
	if workers <= 0 {
		workers = 4
	}
	q := &InProcess{
		handler: handler,
		tasks:   make(chan Task, 1024),
		ttl:     defaultResultTTL,
		results: make(map[string]inProcessResult),
	}
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	q.startCleanup(cleanupInterval)
	return q
}

func (q *InProcess) Submit(ctx context.Context, task Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	q.mu.Lock()
	q.results[task.ID] = inProcessResult{result: TaskResult{Status: StatusPending}}
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		return task.ID, nil
	default:
		q.mu.Lock()
		delete(q.results, task.ID)
		q.mu.Unlock()
		return "", ErrQueueFull
	}
}

func (q *InProcess) Result(ctx context.Context, id string) (TaskResult, bool, error) {
	q.mu.Lock()
	entry, ok := q.results[id]
	q.mu.Unlock()
	if !ok {
		return TaskResult{}, false, nil
	}
	return entry.result, true, nil
}

func (q *InProcess) worker() {
	for task := range q.tasks {
		res := TaskResult{Status: StatusSuccess}
		outcome, err := q.handler(context.Background(), task)
		if err != nil {
			log.Printf("[Queue] task %s (%s) failed: %v", task.ID, task.Type, err)
			res = TaskResult{Status: StatusFailure, Error: err.Error()}
		} else if outcome != nil {
			raw, err := json.Marshal(outcome)
			if err != nil {
				res = TaskResult{Status: StatusFailure, Error: err.Error()}
			} else {
				res.Outcome = raw
			}
		}
		q.mu.Lock()
		q.results[task.ID] = inProcessResult{result: res, doneAt: time.Now()}
		q.mu.Unlock()
	}
}

func (q *InProcess) startCleanup(interval time.Duration) {
	go func() {
		for range time.Tick(interval) {
			now := time.Now()
			q.mu.Lock()
			for id, entry := range q.results {
				if !entry.doneAt.IsZero() && now.Sub(entry.doneAt) > q.ttl {
					delete(q.results, id)
				}
			}
			q.mu.Unlock()
		}
	}()
}
