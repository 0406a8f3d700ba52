package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics"
)

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.workers, nil, nil)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.False(t, queue.running)
		})
	}
}

func TestKeyTTLOutlivesJobs(t *testing.T) {
	assert.Greater(t, KeyTTL, JobTTL)
	assert.Equal(t, "ord_1:crm_sync", OrderJobKey("ord_1", JobTypeCRMSync))
}

type countingProcessor struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *countingProcessor) Process(ctx context.Context, job *Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[job.Key]++
	return nil
}

func (p *countingProcessor) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[key]
}

func TestQueue_EnqueueAndProcess(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	m := metrics.New(prometheus.NewRegistry())
	p := &countingProcessor{}
	q := NewQueue(client, 2, p, m)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobTypeOperatorAlert, "ord_1:operator_alert", OperatorAlertJobPayload{Subject: "s", Body: "b"}.ToMap())
	require.NoError(t, err)

	stored, err := q.loadJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
	assert.Equal(t, "ord_1:operator_alert", stored.Key)

	q.sampleDepth(ctx)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobQueueDepth.WithLabelValues("pending")))

	q.Start()
	defer q.Stop()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.JobsTotal.WithLabelValues(string(JobTypeOperatorAlert), resultCompleted)) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, p.count("ord_1:operator_alert"))

	pending, processing, err := q.depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, processing)
}

func TestQueue_DuplicateKeyIsNotEnqueuedTwice(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	m := metrics.New(prometheus.NewRegistry())
	q := NewQueue(client, 1, &countingProcessor{}, m)
	ctx := context.Background()
	key := OrderJobKey("ord_7", JobTypeSaleNotification)

	first, err := q.EnqueueJob(ctx, JobTypeSaleNotification, key, map[string]interface{}{"order_reference": "ord_7"})
	require.NoError(t, err)
	second, err := q.EnqueueJob(ctx, JobTypeSaleNotification, key, map[string]interface{}{"order_reference": "ord_7"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	pending, _, err := q.depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues(string(JobTypeSaleNotification), resultDuplicate)))
}

func TestQueue_RedeliveredJobRunsOnce(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	m := metrics.New(prometheus.NewRegistry())
	p := &countingProcessor{}
	q := NewQueue(client, 1, p, m)
	ctx := context.Background()
	key := OrderJobKey("ord_8", JobTypeSaleNotification)

	job, err := q.EnqueueJob(ctx, JobTypeSaleNotification, key, map[string]interface{}{"order_reference": "ord_8"})
	require.NoError(t, err)

	// A worker takes the job and stalls past the stuck threshold.
	taken, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	taken.MarkAsProcessing()
	stalled := time.Now().Add(-2 * StuckAfter)
	taken.ProcessedAt = &stalled
	q.saveJob(ctx, taken)

	q.recoverStuck(ctx, StuckAfter, time.Now())
	redelivered, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, redelivered.ID)

	// The stalled worker finishes first, then the redelivered copy arrives.
	q.processJob(ctx, taken)
	q.processJob(ctx, redelivered)

	assert.Equal(t, 1, p.count(key))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues(string(JobTypeSaleNotification), resultSkipped)))

	_, processing, err := q.depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, processing)
}

func TestQueue_ClaimedJobIsNotRunTwice(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	p := &countingProcessor{}
	q := NewQueue(client, 1, p, nil)
	ctx := context.Background()

	_, err := q.EnqueueJob(ctx, JobTypeCRMSync, "ord_9:crm_sync", map[string]interface{}{"order_reference": "ord_9"})
	require.NoError(t, err)
	job, err := q.dequeueJob(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Set(ctx, JobClaimPrefix+job.ID, "1", time.Minute).Err())
	q.processJob(ctx, job)

	assert.Zero(t, p.count("ord_9:crm_sync"))
}

func TestQueue_FailedJobIsScheduledForRetry(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	m := metrics.New(prometheus.NewRegistry())

	q := NewQueue(client, 1, processorFunc(func(ctx context.Context, job *Job) error {
		return errBoom
	}), m)
	ctx := context.Background()
	job, err := q.EnqueueJob(ctx, JobTypeCRMSync, "", map[string]interface{}{"order_reference": "ord_1"})
	require.NoError(t, err)

	q.Start()
	defer q.Stop()

	assert.Eventually(t, func() bool {
		stored, err := q.loadJob(ctx, job.ID)
		return err == nil && stored.Status == JobStatusRetrying && stored.RetryCount == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues(string(JobTypeCRMSync), resultRetried)))
}
