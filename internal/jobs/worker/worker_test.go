package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
)

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func startedPool(t *testing.T) (*Pool, context.CancelFunc) {
	t.Helper()
	t.Setenv("WORKER_CONCURRENCY", "2")
	p := NewPool(testLog(t))
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		p.Wait()
	})
	return p, cancel
}

func TestPool_RunsScheduledJobs(t *testing.T) {
	p, _ := startedPool(t)

	var ran atomic.Int32
	done := make(chan struct{})
	var once sync.Once
	for i := 0; i < 3; i++ {
		key := string(rune('a' + i))
		ok := p.Schedule(key, func(context.Context) error {
			if ran.Add(1) == 3 {
				once.Do(func() { close(done) })
			}
			return nil
		})
		if !ok {
			t.Fatalf("job %q rejected", key)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("jobs did not run, ran=%d", ran.Load())
	}
}

func TestPool_CoalescesByKey(t *testing.T) {
	p, _ := startedPool(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var ran atomic.Int32
	if ok := p.Schedule("session-1", func(context.Context) error {
		close(started)
		ran.Add(1)
		<-release
		return nil
	}); !ok {
		t.Fatal("first job rejected")
	}
	<-started

	// Same key while running: absorbed.
	if p.Schedule("session-1", func(context.Context) error { ran.Add(1); return nil }) {
		t.Fatal("duplicate key was accepted while the first job was running")
	}
	close(release)

	deadline := time.After(5 * time.Second)
	for ran.Load() != 1 {
		select {
		case <-deadline:
			t.Fatalf("ran = %d, want 1", ran.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPool_KeyReusableAfterCompletion(t *testing.T) {
	p, _ := startedPool(t)

	run := func() {
		done := make(chan struct{})
		if ok := p.Schedule("session-2", func(context.Context) error {
			close(done)
			return nil
		}); !ok {
			t.Fatal("job rejected")
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("job did not run")
		}
		// The key is cleared after Run returns; give the deferred clear a beat.
		time.Sleep(20 * time.Millisecond)
	}
	run()
	run()
}

func TestPool_SurvivesPanicAndError(t *testing.T) {
	p, _ := startedPool(t)

	if ok := p.Schedule("boom", func(context.Context) error { panic("kaboom") }); !ok {
		t.Fatal("panicking job rejected")
	}
	if ok := p.Schedule("fail", func(context.Context) error { return errors.New("nope") }); !ok {
		t.Fatal("failing job rejected")
	}

	// Pool still works afterwards.
	done := make(chan struct{})
	deadline := time.After(5 * time.Second)
	for {
		if p.Schedule("after", func(context.Context) error { close(done); return nil }) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pool stopped accepting jobs")
		case <-time.After(10 * time.Millisecond):
		}
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job after panic did not run")
	}
}

func TestPool_RejectsWhenQueueFull(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "1")
	t.Setenv("WORKER_QUEUE_SIZE", "1")
	p := NewPool(testLog(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		p.Wait()
	}()
	p.Start(ctx)

	release := make(chan struct{})
	started := make(chan struct{})
	if ok := p.Schedule("blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	}); !ok {
		t.Fatal("blocker rejected")
	}
	<-started

	// One slot in the queue, then overflow.
	accepted := 0
	for i := 0; i < 3; i++ {
		if p.Schedule(string(rune('x'+i)), func(context.Context) error { return nil }) {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted %d overflow jobs, want 1", accepted)
	}
	close(release)
}
