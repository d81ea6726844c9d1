// Package worker provides the serialized task queue that runs component
// lifecycle work.
//
// A Serial queue accepts tasks from any goroutine and runs them one at a
// time in submission order. No goroutine is parked while the queue is
// empty: a drain goroutine is started by the first Submit after the queue
// goes idle and exits once it runs dry. The queue is unbounded so a
// submitter never blocks behind a running task.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/apache/karaf-sub011/metric"
)

// Serial is a single-flight FIFO task queue
type Serial struct {
	name string

	mu      sync.Mutex
	tasks   []func()
	running bool
	closed  bool
	idle    chan struct{}

	submitted int64
	processed int64
	panicked  int64
	dropped   int64

	metrics *metric.Metrics
	logger  *slog.Logger
}

// Option represents a configuration option for the queue
type Option func(*Serial)

// WithMetrics publishes the queue depth under the queue's name
func WithMetrics(metrics *metric.Metrics) Option {
	return func(q *Serial) { q.metrics = metrics }
}

// WithLogger sets the logger used to report panicking tasks
func WithLogger(logger *slog.Logger) Option {
	return func(q *Serial) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewSerial creates an empty queue
func NewSerial(name string, opts ...Option) *Serial {
	q := &Serial{
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit appends a task. It never blocks on running tasks.
func (q *Serial) Submit(task func()) error {
	if task == nil {
		return ErrNilTask
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		atomic.AddInt64(&q.dropped, 1)
		return ErrQueueClosed
	}

	q.tasks = append(q.tasks, task)
	atomic.AddInt64(&q.submitted, 1)
	q.metrics.RecordQueueDepth(q.name, len(q.tasks))

	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		go q.drain(q.idle)
	}
	return nil
}

func (q *Serial) drain(idle chan struct{}) {
	defer close(idle)

	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.metrics.RecordQueueDepth(q.name, len(q.tasks))
		q.mu.Unlock()

		q.run(task)
	}
}

func (q *Serial) run(task func()) {
	defer func() {
		atomic.AddInt64(&q.processed, 1)
		if r := recover(); r != nil {
			atomic.AddInt64(&q.panicked, 1)
			q.logger.Error("Queued task panicked", "queue", q.name, "panic", r)
		}
	}()
	task()
}

// Close stops accepting tasks and discards the pending ones. A task that
// is already running is left to finish. Returns the number of discarded
// tasks.
func (q *Serial) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	n := len(q.tasks)
	q.tasks = nil
	atomic.AddInt64(&q.dropped, int64(n))
	q.metrics.RecordQueueDepth(q.name, 0)
	return n
}

// Wait blocks until the queue is idle or ctx is done. Tasks submitted
// while waiting extend the wait.
func (q *Serial) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if !q.running {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Closed reports whether Close was called
func (q *Serial) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats returns current queue statistics
func (q *Serial) Stats() Stats {
	q.mu.Lock()
	depth := len(q.tasks)
	q.mu.Unlock()

	return Stats{
		Name:      q.name,
		Depth:     depth,
		Submitted: atomic.LoadInt64(&q.submitted),
		Processed: atomic.LoadInt64(&q.processed),
		Panicked:  atomic.LoadInt64(&q.panicked),
		Dropped:   atomic.LoadInt64(&q.dropped),
	}
}

// Stats represents queue statistics
type Stats struct {
	Name      string `json:"name"`
	Depth     int    `json:"depth"`
	Submitted int64  `json:"submitted"`
	Processed int64  `json:"processed"`
	Panicked  int64  `json:"panicked"`
	Dropped   int64  `json:"dropped"`
}
