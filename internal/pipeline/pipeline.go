package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"starstep/internal/logging"
	"starstep/internal/storage"

	"github.com/google/uuid"
)

// Status is the state of a queued operation.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Operation is one unit of work executed by the queue.
type Operation interface {
	Name() string
	Kind() string
	Run(ctx context.Context) Result
}

// Result captures the outcome of an Operation.
type Result struct {
	OperationID string
	Seq         int
	Name        string
	Kind        string
	Status      Status
	Message     string
	Error       error
	Meta        map[string]any
	Duration    time.Duration
}

// MarshalJSON renders the error as text for stream consumers.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OperationID string         `json:"operation_id"`
		Seq         int            `json:"seq"`
		Name        string         `json:"name"`
		Kind        string         `json:"kind"`
		Status      Status         `json:"status"`
		Message     string         `json:"message,omitempty"`
		Error       string         `json:"error,omitempty"`
		Meta        map[string]any `json:"meta,omitempty"`
		DurationMS  int64          `json:"duration_ms"`
	}{r.OperationID, r.Seq, r.Name, r.Kind, r.Status, r.Message, errString(r.Error), r.Meta, r.Duration.Milliseconds()})
}

// Failed reports whether the operation ended in the FAILED state.
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}

type entry struct {
	id  string
	seq int
	op  Operation
}

// Queue is the ordered operation list of one run. Operations are appended
// during scheduling and executed later, one at a time, in append order.
type Queue struct {
	log   *slog.Logger
	store *storage.Store
	runID string

	mu        sync.Mutex
	entries   []*entry
	next      int
	subs      map[int]chan Result
	nextSubID int
	closed    bool
}

// New creates an empty queue for runID. A nil store disables auditing.
func New(runID string, logger *slog.Logger, store *storage.Store) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		log:   logger,
		store: store,
		runID: runID,
		subs:  make(map[int]chan Result),
	}
}

// RunID returns the run the queue belongs to.
func (q *Queue) RunID() string {
	return q.runID
}

// Append adds op to the end of the queue and returns its id.
func (q *Queue) Append(op Operation) string {
	q.mu.Lock()
	e := &entry{id: uuid.NewString(), seq: len(q.entries), op: op}
	q.entries = append(q.entries, e)
	q.mu.Unlock()

	_ = q.store.RecordOperationQueued(storage.OperationRecord{
		ID:     e.id,
		RunID:  q.runID,
		Seq:    e.seq,
		Name:   op.Name(),
		Kind:   op.Kind(),
		Status: string(StatusPending),
	})
	return e.id
}

// Len returns the number of operations ever appended.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns the number of operations not yet run.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) - q.next
}

// Operations returns all appended operations in queue order.
func (q *Queue) Operations() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops := make([]Operation, len(q.entries))
	for i, e := range q.entries {
		ops[i] = e.op
	}
	return ops
}

// Drain runs every pending operation in order, each to completion before
// the next starts. Cancellation is checked between operations only.
func (q *Queue) Drain(ctx context.Context) ([]Result, error) {
	var results []Result
	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		e := q.take()
		if e == nil {
			return results, nil
		}
		results = append(results, q.run(ctx, e))
	}
}

func (q *Queue) take() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.entries) {
		return nil
	}
	e := q.entries[q.next]
	q.next++
	return e
}

func (q *Queue) run(ctx context.Context, e *entry) Result {
	start := time.Now()
	kind := e.op.Kind()
	name := e.op.Name()

	logging.LogOperationStart(q.log, kind, e.id, name, map[string]any{"seq": e.seq, "run": q.runID})
	_ = q.store.RecordOperationStart(e.id)

	res := e.op.Run(ctx)
	res.OperationID = e.id
	res.Seq = e.seq
	res.Name = name
	res.Kind = kind
	res.Duration = time.Since(start)
	if res.Status == "" || res.Status == StatusPending || res.Status == StatusRunning {
		res.Status = StatusDone
		if res.Error != nil {
			res.Status = StatusFailed
		}
	}

	if res.Failed() {
		err := res.Error
		if err == nil {
			err = errorString(res.Message)
		}
		logging.LogOperationError(q.log, kind, e.id, name, res.Duration, err, res.Meta)
	} else {
		logging.LogOperationComplete(q.log, kind, e.id, name, res.Duration, res.Message, res.Meta)
	}
	_ = q.store.RecordOperationResult(e.id, string(res.Status), res.Message, res.Meta, errString(res.Error))

	q.broadcast(res)
	return res
}

// Subscribe returns a channel for receiving operation results and an
// unsubscribe function.
func (q *Queue) Subscribe() (<-chan Result, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextSubID
	q.nextSubID++
	ch := make(chan Result, 16)
	if q.closed {
		close(ch)
		return ch, func() {}
	}
	q.subs[id] = ch
	unsub := func() {
		q.mu.Lock()
		if c, ok := q.subs[id]; ok {
			close(c)
			delete(q.subs, id)
		}
		q.mu.Unlock()
	}
	return ch, unsub
}

// Close ends all subscriptions.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, ch := range q.subs {
		close(ch)
		delete(q.subs, id)
	}
}

func (q *Queue) broadcast(res Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, ch := range q.subs {
		select {
		case ch <- res:
		default:
			q.log.Warn("result channel full", "subscriber", id, "operation", res.OperationID)
		}
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
