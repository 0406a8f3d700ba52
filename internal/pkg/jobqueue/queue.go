package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics"
)

const (
	// Redis keys
	JobKeyPrefix     = "jobqueue:job:"
	JobQueueKey      = "jobqueue:pending"
	JobProcessingKey = "jobqueue:processing"
	// JobDedupePrefix maps an idempotency key to the job created for it.
	JobDedupePrefix = "jobqueue:key:"
	// JobDonePrefix marks an idempotency key whose job finished successfully.
	JobDonePrefix = "jobqueue:done:"
	// JobClaimPrefix is held by the worker executing a job.
	JobClaimPrefix = "jobqueue:claim:"

	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour
	// KeyTTL outlives JobTTL so a late redelivery still finds the done marker.
	KeyTTL = 7 * 24 * time.Hour
	// StuckAfter is how long a job may sit in processing before it is requeued.
	// Claims expire at the same age so a requeued job can run again.
	StuckAfter = 10 * time.Minute
)

// Result labels recorded per handled job.
const (
	resultCompleted = "completed"
	resultRetried   = "retried"
	resultFailed    = "failed"
	resultSkipped   = "skipped"
	resultDuplicate = "duplicate"
)

// Enqueuer accepts jobs for asynchronous execution. A non-empty key makes
// the enqueue idempotent: a second job with the same key is not created and
// a job whose key already completed is not executed again.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobType JobType, key string, payload map[string]interface{}) (*Job, error)
}

// Queue runs side-effect jobs from Redis lists with a fixed worker pool.
type Queue struct {
	client     *redis.Client
	processor  JobProcessor
	metrics    *metrics.Payments
	workers    int
	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewQueue creates a new job queue
func NewQueue(client *redis.Client, workers int, processor JobProcessor, m *metrics.Payments) *Queue {
	if workers <= 0 {
		workers = 3
	}

	return &Queue{
		client:     client,
		processor:  processor,
		metrics:    m,
		workers:    workers,
		workerPool: make(chan struct{}, workers),
		stopCh:     make(chan struct{}),
	}
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	q.workerPool = make(chan struct{}, q.workers)
	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(1)
	go q.maintenance(StuckAfter, time.Minute)
}

// Stop stops the job queue workers
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// maintenance requeues jobs stuck in processing and samples the queue depth.
func (q *Queue) maintenance(maxAge, interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.recoverStuck(ctx, maxAge, time.Now())
			q.sampleDepth(ctx)
		}
	}
}

func (q *Queue) recoverStuck(ctx context.Context, maxAge time.Duration, now time.Time) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue] Listing processing jobs: %v", err)
		return
	}
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Loading processing job %s: %v", id, err)
			}
			q.removeFromProcessing(ctx, id)
			continue
		}
		if job.Status != JobStatusProcessing {
			q.removeFromProcessing(ctx, id)
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= maxAge {
			continue
		}
		log.Warnf("[JobQueue] Requeueing stuck job %s (%s, key %q) after %s", job.ID, job.Type, job.Key, now.Sub(started))
		job.Status = JobStatusPending
		job.ErrorMsg = "requeued after processing timeout"
		job.UpdatedAt = now
		q.saveJob(ctx, job)
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, JobProcessingKey, 1, id)
		pipe.RPush(ctx, JobQueueKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Errorf("[JobQueue] Requeueing job %s: %v", id, err)
		}
	}
}

// sampleDepth publishes the pending and processing list lengths.
func (q *Queue) sampleDepth(ctx context.Context) {
	pending, processing, err := q.depth(ctx)
	if err != nil {
		log.Errorf("[JobQueue] Sampling queue depth: %v", err)
		return
	}
	q.metrics.JobQueueSize(pending, processing)
}

func (q *Queue) depth(ctx context.Context) (int64, int64, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, JobQueueKey)
	processing := pipe.LLen(ctx, JobProcessingKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return pending.Val(), processing.Val(), nil
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		default:
			<-q.workerPool

			job, err := q.dequeueJob(ctx)
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					log.Errorf("[JobQueue] Worker %d: dequeue: %v", id, err)
				}
				q.workerPool <- struct{}{}
				time.Sleep(time.Second)
				continue
			}

			q.processJob(ctx, job)
			q.workerPool <- struct{}{}
		}
	}
}

// EnqueueJob stores the job and pushes it onto the pending list. With a key,
// an existing job for that key is returned instead of creating another one.
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, key string, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.New().String(),
		Key:        key,
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}

	if key != "" {
		claimed, err := q.client.SetNX(ctx, JobDedupePrefix+key, job.ID, KeyTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve job key %s: %w", key, err)
		}
		if !claimed {
			q.metrics.JobResult(string(jobType), resultDuplicate)
			return q.existingJob(ctx, jobType, key)
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		if key != "" {
			_ = q.client.Del(ctx, JobDedupePrefix+key).Err()
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	log.Debugf("[JobQueue] Enqueued job %s (%s, key %q)", job.ID, job.Type, key)
	return job, nil
}

// existingJob returns the job recorded for key. A job already removed after
// completion is reported as completed.
func (q *Queue) existingJob(ctx context.Context, jobType JobType, key string) (*Job, error) {
	id, err := q.client.Get(ctx, JobDedupePrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup job key %s: %w", key, err)
	}
	job, err := q.loadJob(ctx, id)
	if errors.Is(err, redis.Nil) {
		return &Job{ID: id, Key: key, Type: jobType, Status: JobStatusCompleted}, nil
	}
	return job, err
}

func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}
	job, err := q.loadJob(ctx, id)
	if err != nil {
		q.removeFromProcessing(ctx, id)
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return job, nil
}

// processJob runs one job under a claim. A job whose key already completed
// is dropped, which covers redelivery after a stuck requeue.
func (q *Queue) processJob(ctx context.Context, job *Job) {
	defer q.removeFromProcessing(ctx, job.ID)

	claimed, err := q.client.SetNX(ctx, JobClaimPrefix+job.ID, "1", StuckAfter).Result()
	if err != nil {
		log.Errorf("[JobQueue] Claiming job %s: %v", job.ID, err)
		return
	}
	if !claimed {
		log.Debugf("[JobQueue] Job %s is running elsewhere", job.ID)
		return
	}
	defer q.client.Del(ctx, JobClaimPrefix+job.ID)

	if job.Key != "" {
		done, err := q.client.Exists(ctx, JobDonePrefix+job.Key).Result()
		if err == nil && done > 0 {
			log.Infof("[JobQueue] Skipping job %s, key %q already completed", job.ID, job.Key)
			q.metrics.JobResult(string(job.Type), resultSkipped)
			q.deleteJob(ctx, job.ID)
			return
		}
	}

	job.MarkAsProcessing()
	q.saveJob(ctx, job)

	if err := q.processor.Process(ctx, job); err != nil {
		job.MarkAsFailed(err.Error())
		if job.IsRetryable() {
			log.Warnf("[JobQueue] Job %s (%s) failed, retry %d/%d: %v", job.ID, job.Type, job.RetryCount, job.MaxRetries, err)
			job.MarkAsRetrying()
			q.saveJob(ctx, job)
			q.metrics.JobResult(string(job.Type), resultRetried)
			id := job.ID
			time.AfterFunc(time.Minute*time.Duration(job.RetryCount), func() {
				q.client.LPush(context.Background(), JobQueueKey, id)
			})
			return
		}
		log.Errorf("[JobQueue] Job %s (%s) failed permanently after %d attempts: %v", job.ID, job.Type, job.RetryCount, err)
		q.saveJob(ctx, job)
		q.metrics.JobResult(string(job.Type), resultFailed)
		return
	}

	job.MarkAsCompleted()
	if job.Key != "" {
		if err := q.client.Set(ctx, JobDonePrefix+job.Key, job.ID, KeyTTL).Err(); err != nil {
			log.Errorf("[JobQueue] Marking key %q done: %v", job.Key, err)
		}
	}
	q.metrics.JobResult(string(job.Type), resultCompleted)
	q.deleteJob(ctx, job.ID)
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, JobKeyPrefix+id).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Save job %s: %v", job.ID, err)
	}
}

func (q *Queue) deleteJob(ctx context.Context, id string) {
	if err := q.client.Del(ctx, JobKeyPrefix+id).Err(); err != nil {
		log.Errorf("[JobQueue] Delete job %s: %v", id, err)
	}
}

func (q *Queue) removeFromProcessing(ctx context.Context, id string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, id).Err(); err != nil {
		log.Errorf("[JobQueue] Remove job %s from processing: %v", id, err)
	}
}
