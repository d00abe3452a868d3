package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func waitForStatus(t *testing.T, q Queue, id string, want Status) TaskResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res, found, err := q.Result(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if found && res.Status == want {
			return res
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", id, want)
	return TaskResult{}
}

func TestInProcessRunsTask(t *testing.T) {
	q := NewInProcess(2, func(ctx context.Context, task Task) (any, error) {
		return map[string]string{"echo": task.SessionID}, nil
	})

	id, err := q.Submit(context.Background(), Task{Type: TaskVerify, SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a generated task id")
	}

	res := waitForStatus(t, q, id, StatusSuccess)
	var out map[string]string
	if err := json.Unmarshal(res.Outcome, &out); err != nil {
		t.Fatal(err)
	}
	if out["echo"] != "s1" {
		t.Fatalf("unexpected outcome %v", out)
	}
}

func TestInProcessFailure(t *testing.T) {
	q := NewInProcess(1, func(ctx context.Context, task Task) (any, error) {
		return nil, errors.New("boom")
	})

	id, err := q.Submit(context.Background(), Task{Type: TaskArchive, SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}

	res := waitForStatus(t, q, id, StatusFailure)
	if res.Error != "boom" {
		t.Fatalf("expected the handler error, got %q", res.Error)
	}
}

func TestInProcessUnknownTask(t *testing.T) {
	q := NewInProcess(1, func(ctx context.Context, task Task) (any, error) {
		return nil, nil
	})

	_, found, err := q.Result(context.Background(), "never-submitted")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("unknown task ids must not resolve")
	}
}

func TestArchiverSubmitsArchiveTask(t *testing.T) {
	var got Task
	done := make(chan struct{})
	q := NewInProcess(1, func(ctx context.Context, task Task) (any, error) {
		got = task
		close(done)
		return nil, nil
	})

	if err := (Archiver{Q: q}).SubmitArchive(context.Background(), "token-1"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("archive task never ran")
	}
	if got.Type != TaskArchive || got.SessionID != "token-1" {
		t.Fatalf("unexpected task %+v", got)
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisResultsRoundTrip(t *testing.T) {
	results := NewRedisResults(newTestRedis(t), time.Minute)
	ctx := context.Background()

	if err := results.Set(ctx, "t1", TaskResult{Status: StatusPending}); err != nil {
		t.Fatal(err)
	}
	res, found, err := results.Get(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !found || res.Status != StatusPending {
		t.Fatalf("expected a pending result, got found=%v %+v", found, res)
	}

	outcome := json.RawMessage(`{"result":"success"}`)
	if err := results.Set(ctx, "t1", TaskResult{Status: StatusSuccess, Outcome: outcome}); err != nil {
		t.Fatal(err)
	}
	res, found, err = results.Get(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !found || res.Status != StatusSuccess || string(res.Outcome) != string(outcome) {
		t.Fatalf("unexpected stored result %+v", res)
	}
}

func TestRedisResultsMissingKey(t *testing.T) {
	results := NewRedisResults(newTestRedis(t), time.Minute)

	_, found, err := results.Get(context.Background(), "never-set")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("a missing key must report not found")
	}
}
