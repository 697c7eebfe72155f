package core

// writequeue.go serializes writes per database.
//
// Each mutable database owns one WriteQueue with a single worker goroutine.
// Execute hands a statement to that worker and blocks until it has been
// applied, so writes to one database happen in a linear order while reads
// go straight to the engine.

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/dataserve/internal/metrics"
	"github.com/google/uuid"
)

// ErrQueueClosed is returned once a queue has been shut down.
var ErrQueueClosed = errors.New("write queue closed")

// WriteFunc applies one statement.
type WriteFunc func(ctx context.Context, sql string, params map[string]any) error

// Acknowledgment is the outcome of a single queued write.
type Acknowledgment struct {
	ID        string
	Database  string
	OK        bool
	AppliedAt time.Time
}

type writeResult struct {
	ack Acknowledgment
	err error
}

type writeTask struct {
	ctx    context.Context
	sql    string
	params map[string]any
	reply  chan writeResult
}

// WriteQueue is the single write path for one database.
type WriteQueue struct {
	name  string
	exec  WriteFunc
	tasks chan writeTask
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewWriteQueue starts the worker for database name.
func NewWriteQueue(name string, exec WriteFunc) *WriteQueue {
	q := &WriteQueue{
		name:  name,
		exec:  exec,
		tasks: make(chan writeTask),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *WriteQueue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		case t := <-q.tasks:
			t.reply <- q.apply(t)
		}
	}
}

func (q *WriteQueue) apply(t writeTask) writeResult {
	ack := Acknowledgment{ID: uuid.NewString(), Database: q.name}

	// The caller gave up while the task was waiting its turn.
	if err := t.ctx.Err(); err != nil {
		metrics.WritesTotal.WithLabelValues(q.name, "cancelled").Inc()
		return writeResult{ack: ack, err: err}
	}

	start := time.Now()
	err := q.exec(t.ctx, t.sql, t.params)
	ack.AppliedAt = time.Now()
	metrics.WriteDuration.WithLabelValues(q.name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.WritesTotal.WithLabelValues(q.name, "error").Inc()
		slog.Error("write failed", "database", q.name, "write_id", ack.ID, "error", err)
		return writeResult{ack: ack, err: err}
	}

	ack.OK = true
	metrics.WritesTotal.WithLabelValues(q.name, "ok").Inc()
	return writeResult{ack: ack}
}

// Execute queues a statement and waits for it to be applied.
func (q *WriteQueue) Execute(ctx context.Context, sql string, params map[string]any) (Acknowledgment, error) {
	t := writeTask{
		ctx:    ctx,
		sql:    sql,
		params: params,
		reply:  make(chan writeResult, 1),
	}

	select {
	case q.tasks <- t:
	case <-q.quit:
		return Acknowledgment{Database: q.name}, ErrQueueClosed
	case <-ctx.Done():
		return Acknowledgment{Database: q.name}, ctx.Err()
	}

	// Once handed over the worker always replies.
	r := <-t.reply
	return r.ack, r.err
}

// Close stops the worker after any in-flight write finishes.
func (q *WriteQueue) Close() {
	q.once.Do(func() {
		close(q.quit)
	})
	<-q.done
}
