package jobqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuelReschke/GearMarket/internal/pkg/crm"
)

type sentMail struct {
	To, Subject, Body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendMail(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []crm.Event
}

func (p *fakePublisher) Publish(ctx context.Context, evt crm.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []*Job
	err  error
}

func (e *recordingEnqueuer) EnqueueJob(ctx context.Context, jobType JobType, key string, payload map[string]interface{}) (*Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	job := &Job{ID: "job", Key: key, Type: jobType, Payload: payload, Status: JobStatusPending}
	e.jobs = append(e.jobs, job)
	return job, nil
}

func (e *recordingEnqueuer) types() []JobType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]JobType, len(e.jobs))
	for i, j := range e.jobs {
		out[i] = j.Type
	}
	return out
}

type processorFunc func(ctx context.Context, job *Job) error

func (f processorFunc) Process(ctx context.Context, job *Job) error { return f(ctx, job) }

var errBoom = errors.New("boom")
