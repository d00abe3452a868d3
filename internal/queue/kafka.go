package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Kafka submits tasks to a topic and reads results back from Redis. The
// worker binary consumes the topic and writes the results; the API side
// only ever produces.
type Kafka struct {
	client  *kgo.Client
	topic   string
	results *RedisResults
}

func NewKafka(client *kgo.Client, topic string, results *RedisResults) *Kafka {
	return &Kafka{client: client, topic: topic, results: results}
}

func (k *Kafka) Submit(ctx context.Context, task Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if err := k.results.Set(ctx, task.ID, TaskResult{Status: StatusPending}); err != nil {
		return "", err
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(task.SessionID),
		Value: payload,
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return "", fmt.Errorf("produce task %s: %w", task.ID, err)
	}
	return task.ID, nil
}

func (k *Kafka) Result(ctx context.Context, id string) (TaskResult, bool, error) {
	return k.results.Get(ctx, id)
}

// Consumer is the worker-side counterpart of Kafka: it polls the task topic,
// runs each task through the handler, and publishes the result.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	results *RedisResults
}

func NewConsumer(client *kgo.Client, handler Handler, results *RedisResults) *Consumer {
	return &Consumer{client: client, handler: handler, results: results}
}

// Run polls until the context is cancelled. Keying records by session id
// keeps attempts for one session on one partition, so the row-lock path in
// the store is the only contention left.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fetchErr := range errs {
				log.Printf("[Worker] fetch error on %s: %v", fetchErr.Topic, fetchErr.Err)
			}
		}
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, record := range p.Records {
				c.process(ctx, record)
			}
		})
	}
}

func (c *Consumer) process(ctx context.Context, record *kgo.Record) {
	var task Task
	if err := json.Unmarshal(record.Value, &task); err != nil {
		log.Printf("[Worker] dropping malformed task record: %v", err)
		return
	}

	res := TaskResult{Status: StatusSuccess}
	outcome, err := c.handler(ctx, task)
	if err != nil {
		log.Printf("[Worker] task %s (%s) failed: %v", task.ID, task.Type, err)
		res = TaskResult{Status: StatusFailure, Error: err.Error()}
	} else if outcome != nil {
		raw, err := json.Marshal(outcome)
		if err != nil {
			res = TaskResult{Status: StatusFailure, Error: err.Error()}
		} else {
			res.Outcome = raw
		}
	}
	if err := c.results.Set(ctx, task.ID, res); err != nil {
		log.Printf("[Worker] storing result for task %s: %v", task.ID, err)
	}
}
