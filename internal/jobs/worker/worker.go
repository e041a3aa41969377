// Package worker runs background generation jobs on a bounded pool. Jobs are
// keyed; a key already queued or running absorbs re-submissions, so a burst
// of status polls cannot stack duplicate pregenerations for one session.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lullabyte/lullabyte-backend/internal/platform/envutil"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
)

type Job struct {
	Key string
	Run func(ctx context.Context) error
}

type Pool struct {
	log     *logger.Logger
	jobs    chan Job
	timeout time.Duration

	mu       sync.Mutex
	inflight map[string]bool

	wg sync.WaitGroup
}

func NewPool(baseLog *logger.Logger) *Pool {
	queueSize := envutil.Int("WORKER_QUEUE_SIZE", 64)
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		log:      baseLog.With("component", "WorkerPool"),
		jobs:     make(chan Job, queueSize),
		timeout:  time.Duration(envutil.Int("WORKER_JOB_TIMEOUT_SECONDS", 180)) * time.Second,
		inflight: make(map[string]bool),
	}
}

// Start spins up the worker goroutines. They drain until ctx is cancelled;
// Wait blocks for any job already picked up.
func (p *Pool) Start(ctx context.Context) {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	p.log.Info("Starting worker pool", "concurrency", concurrency, "queue_size", cap(p.jobs))

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		p.wg.Add(1)
		go p.runLoop(ctx, workerID)
	}
}

func (p *Pool) Wait() { p.wg.Wait() }

// Schedule enqueues a job unless one with the same key is already queued or
// running. Returns false when the job was absorbed or the queue is full.
func (p *Pool) Schedule(key string, run func(ctx context.Context) error) bool {
	p.mu.Lock()
	if p.inflight[key] {
		p.mu.Unlock()
		return false
	}
	p.inflight[key] = true
	p.mu.Unlock()

	select {
	case p.jobs <- Job{Key: key, Run: run}:
		return true
	default:
		p.clear(key)
		p.log.Warn("Worker queue full, job dropped", "job_key", key)
		return false
	}
}

func (p *Pool) clear(key string) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.log.Info("Worker stopped", "worker_id", workerID)
			return
		case job := <-p.jobs:
			p.execute(ctx, workerID, job)
		}
	}
}

func (p *Pool) execute(ctx context.Context, workerID int, job Job) {
	defer p.clear(job.Key)

	jctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Job panicked",
				"worker_id", workerID,
				"job_key", job.Key,
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()

	if err := job.Run(jctx); err != nil {
		p.log.Warn("Job failed",
			"worker_id", workerID,
			"job_key", job.Key,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return
	}
	p.log.Debug("Job finished",
		"worker_id", workerID,
		"job_key", job.Key,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
