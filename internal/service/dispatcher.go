package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gregorydickson/loan-sub000/internal/logging"
	"github.com/gregorydickson/loan-sub000/internal/pipeline"
)

// Dispatcher hands accepted documents to the processing lifecycle.
type Dispatcher interface {
	Enqueue(ctx context.Context, task pipeline.Task) error
}

// TaskRunner executes one task delivery. *pipeline.Processor implements
// it; tests substitute a stub.
type TaskRunner interface {
	Process(ctx context.Context, task pipeline.Task, retryCount int) *pipeline.Outcome
}

const (
	defaultWorkers        = 4
	defaultAttemptTimeout = 10 * time.Minute
	defaultRetryBase      = 2 * time.Second
	defaultRetryMax       = 5 * time.Minute
	defaultSettledTTL     = time.Hour
	defaultCleanupEvery   = 5 * time.Minute
)

// ErrDispatcherStopped is returned by Enqueue after Stop.
var ErrDispatcherStopped = errors.New("service: dispatcher stopped")

// LocalDispatcher runs tasks in-process with the same delivery contract
// a hosted queue provides: at-least-once delivery, a retry counter that
// climbs on every redelivery, and exponential backoff between attempts.
// Settled outcomes are retained for a TTL so operators can inspect them.
type LocalDispatcher struct {
	runner         TaskRunner
	queue          chan delivery
	attemptTimeout time.Duration
	retryBase      time.Duration
	retryMax       time.Duration
	ttl            time.Duration
	cleanupEvery   time.Duration
	log            *logging.Logger

	mu      sync.RWMutex
	settled map[string]settledTask

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type delivery struct {
	task       pipeline.Task
	name       string
	retryCount int
}

type settledTask struct {
	outcome *pipeline.Outcome
	at      time.Time
}

// LocalDispatcherConfig tunes the in-process queue. Zero values pick the
// defaults above.
type LocalDispatcherConfig struct {
	Runner         TaskRunner
	Workers        int
	AttemptTimeout time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	SettledTTL     time.Duration
	CleanupEvery   time.Duration
	Log            *logging.Logger
}

// NewLocalDispatcher starts the worker pool and the settled-task
// cleanup loop. Callers own the lifecycle and must call Stop.
func NewLocalDispatcher(cfg LocalDispatcherConfig) *LocalDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBase
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMax
	}
	if cfg.SettledTTL <= 0 {
		cfg.SettledTTL = defaultSettledTTL
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = defaultCleanupEvery
	}
	if cfg.Log == nil {
		cfg.Log = logging.Nop()
	}
	d := &LocalDispatcher{
		runner:         cfg.Runner,
		queue:          make(chan delivery, 64),
		attemptTimeout: cfg.AttemptTimeout,
		retryBase:      cfg.RetryBaseDelay,
		retryMax:       cfg.RetryMaxDelay,
		ttl:            cfg.SettledTTL,
		cleanupEvery:   cfg.CleanupEvery,
		log:            cfg.Log,
		settled:        make(map[string]settledTask),
		done:           make(chan struct{}),
	}
	d.wg.Add(cfg.Workers + 1)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}
	go d.cleanup()
	return d
}

// Enqueue schedules the first delivery for a task. The delivery name is
// the document ID, so a second enqueue for the same document overwrites
// its settled outcome rather than duplicating it.
func (d *LocalDispatcher) Enqueue(ctx context.Context, task pipeline.Task) error {
	select {
	case <-d.done:
		return ErrDispatcherStopped
	default:
	}
	del := delivery{task: task, name: task.DocumentID}
	select {
	case d.queue <- del:
		d.log.Info("task enqueued", "task_name", del.name, "document_id", task.DocumentID)
		return nil
	case <-d.done:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome reports the settled result for a delivery name while the TTL
// retains it.
func (d *LocalDispatcher) Outcome(name string) (*pipeline.Outcome, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.settled[name]
	if !ok {
		return nil, false
	}
	return s.outcome, true
}

// Stop drains the workers and the cleanup loop. Pending redeliveries
// whose timers fire after Stop are dropped.
func (d *LocalDispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

func (d *LocalDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case del := <-d.queue:
			d.deliver(del)
		}
	}
}

func (d *LocalDispatcher) deliver(del delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), d.attemptTimeout)
	out := d.runner.Process(ctx, del.task, del.retryCount)
	cancel()

	if out.Retry {
		next := delivery{task: del.task, name: del.name, retryCount: del.retryCount + 1}
		delay := d.backoff(del.retryCount)
		d.log.Info("task redelivery scheduled",
			"task_name", del.name,
			"document_id", del.task.DocumentID,
			"retry_count", next.retryCount,
			"delay", delay.String(),
		)
		time.AfterFunc(delay, func() {
			select {
			case d.queue <- next:
			case <-d.done:
			}
		})
		return
	}

	d.mu.Lock()
	d.settled[del.name] = settledTask{outcome: out, at: time.Now()}
	d.mu.Unlock()
	d.log.Info("task settled",
		"task_name", del.name,
		"document_id", out.DocumentID,
		"status", string(out.Status),
		"attempts", del.retryCount+1,
	)
}

func (d *LocalDispatcher) backoff(retryCount int) time.Duration {
	delay := d.retryBase << uint(retryCount)
	if delay <= 0 || delay > d.retryMax {
		delay = d.retryMax
	}
	return delay
}

func (d *LocalDispatcher) cleanup() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.mu.Lock()
			now := time.Now()
			for name, s := range d.settled {
				if now.Sub(s.at) > d.ttl {
					delete(d.settled, name)
				}
			}
			d.mu.Unlock()
		}
	}
}
