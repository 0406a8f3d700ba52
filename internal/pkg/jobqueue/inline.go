package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// InlineQueue runs jobs synchronously in the caller's goroutine. It backs
// DB_DRIVER=memory runs where no Redis is available. Completed keys are
// remembered for the life of the process.
type InlineQueue struct {
	processor JobProcessor
	mu        sync.Mutex
	done      map[string]string
}

func NewInlineQueue(processor JobProcessor) *InlineQueue {
	return &InlineQueue{processor: processor, done: map[string]string{}}
}

func (q *InlineQueue) EnqueueJob(ctx context.Context, jobType JobType, key string, payload map[string]interface{}) (*Job, error) {
	if key != "" {
		q.mu.Lock()
		id, seen := q.done[key]
		q.mu.Unlock()
		if seen {
			return &Job{ID: id, Key: key, Type: jobType, Status: JobStatusCompleted}, nil
		}
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.New().String(),
		Key:       key,
		Type:      jobType,
		Status:    JobStatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.MarkAsProcessing()
	if err := q.processor.Process(ctx, job); err != nil {
		job.MarkAsFailed(err.Error())
		log.Errorf("[JobQueue] Inline job %s (Type: %s) failed: %v", job.ID, job.Type, err)
		return job, nil
	}
	job.MarkAsCompleted()
	if key != "" {
		q.mu.Lock()
		q.done[key] = job.ID
		q.mu.Unlock()
	}
	return job, nil
}
