package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueName is the Redis list the API pushes to and workers pop from.
const QueueName = "mailprobe:verify"

// Task is one unit of work: verify a single address on behalf of a job.
type Task struct {
	JobID string `json:"job_id"`
	Email string `json:"email"`
}

var Client *redis.Client

// Init connects to Redis and pings it to ensure it's alive.
func Init(addr string) error {
	Client = redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Enqueue pushes a task to the tail of the work queue.
func Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return Client.RPush(ctx, QueueName, payload).Err()
}

// Dequeue blocks until a task is available.
func Dequeue(ctx context.Context) (Task, error) {
	var task Task
	result, err := Client.BLPop(ctx, 0, QueueName).Result()
	if err != nil {
		return task, err
	}
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return task, fmt.Errorf("malformed task %q: %w", result[1], err)
	}
	return task, nil
}
