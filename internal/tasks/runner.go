package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/matgraph/internal/db"
	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/stages"
)

// Sentinel errors for task submission and control.
var (
	// ErrQueueFull indicates the runner cannot accept more work right now.
	ErrQueueFull = errors.New("task queue full")

	// ErrAlreadyProcessing indicates a stage is already queued or running for the process.
	ErrAlreadyProcessing = errors.New("process already has an active stage")

	// ErrNoActiveTask indicates there is nothing to cancel.
	ErrNoActiveTask = errors.New("no active task")

	// ErrCancelled is returned from Checkpoint once the task has been cancelled.
	ErrCancelled = errors.New("task cancelled")

	// ErrShutdown indicates the runner no longer accepts work.
	ErrShutdown = errors.New("runner shut down")
)

// InterruptedMessage is recorded on processes left active by a crash.
const InterruptedMessage = "interrupted by restart"

// StageFunc runs one stage for run.Process.
type StageFunc func(ctx context.Context, run *Run) (*stages.Result, error)

// Token is the in-memory cancellation flag of one task.
type Token struct {
	cancelled atomic.Bool
}

// Cancel sets the flag.
func (t *Token) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (t *Token) Cancelled() bool { return t.cancelled.Load() }

// Run is one queued or running stage.
type Run struct {
	ProcessID string
	Key       models.StageKey
	// Process is the record as it was when the stage started.
	Process *models.Process

	token *Token
	fn    StageFunc
}

// Checkpoint returns ErrCancelled once the task has been cancelled.
func (r *Run) Checkpoint() error {
	if r.token.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Config sizes the runner.
type Config struct {
	Workers   int
	QueueSize int
}

// Runner executes stages on a bounded pool, at most one per process.
type Runner struct {
	store    ProcessStore
	notifier *Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger
	workers  int

	mu       sync.Mutex
	tokens   map[string]*Token
	queue    chan *Run
	reserved int
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. Call Start to launch the workers.
func NewRunner(store ProcessStore, notifier *Notifier, collector *metrics.Collector, cfg Config, logger *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Runner{
		store:    store,
		notifier: notifier,
		metrics:  collector,
		logger:   logger.With("component", "runner"),
		workers:  cfg.Workers,
		tokens:   make(map[string]*Token),
		queue:    make(chan *Run, cfg.QueueSize),
	}
}

// Start launches the worker goroutines. Stages run under ctx.
func (r *Runner) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	for range r.workers {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for run := range r.queue {
				r.execute(run)
			}
		}()
	}
	r.logger.Info("runner started", "workers", r.workers, "queue", cap(r.queue))
}

// Submit claims the process and enqueues fn. The claim is atomic in the
// store, so concurrent submissions for one process yield ErrAlreadyProcessing.
func (r *Runner) Submit(ctx context.Context, processID string, key models.StageKey, fn StageFunc) (*Run, error) {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return nil, ErrShutdown
	case r.tokens[processID] != nil:
		r.mu.Unlock()
		return nil, ErrAlreadyProcessing
	case len(r.queue)+r.reserved >= cap(r.queue):
		r.mu.Unlock()
		return nil, ErrQueueFull
	}
	run := &Run{ProcessID: processID, Key: key, token: &Token{}, fn: fn}
	r.tokens[processID] = run.token
	r.reserved++
	r.mu.Unlock()

	_, err := r.store.ClaimProcess(ctx, processID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserved--
	if err != nil {
		delete(r.tokens, processID)
		if errors.Is(err, db.ErrProcessBusy) {
			return nil, ErrAlreadyProcessing
		}
		return nil, err
	}
	if r.closed {
		// Shutdown raced the claim; leave the pending record for ResumeInterrupted.
		delete(r.tokens, processID)
		return nil, ErrShutdown
	}
	r.queue <- run
	r.logger.Debug("stage queued", "process_id", processID, "key", key)
	return run, nil
}

// Cancel flags the active task of a process. It returns false when there is none.
func (r *Runner) Cancel(processID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[processID]
	if !ok {
		return false
	}
	t.Cancel()
	r.logger.Info("cancellation requested", "process_id", processID)
	return true
}

// Active reports whether a stage is queued or running for the process.
func (r *Runner) Active(processID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[processID]
	return ok
}

// Shutdown stops accepting work, cancels every task and waits for the
// workers to drain the queue.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, t := range r.tokens {
		t.Cancel()
	}
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if r.cancel != nil {
			r.cancel()
		}
		r.logger.Info("runner stopped")
		return nil
	case <-ctx.Done():
		if r.cancel != nil {
			r.cancel()
		}
		return fmt.Errorf("runner shutdown: %w", ctx.Err())
	}
}

// ResumeInterrupted fails every process a previous instance left queued or
// running and notifies its client.
func (r *Runner) ResumeInterrupted(ctx context.Context) error {
	procs, err := r.store.MarkInterrupted(ctx, InterruptedMessage)
	if err != nil {
		return err
	}
	if len(procs) == 0 {
		r.logger.Info("no interrupted processes")
		return nil
	}
	r.logger.Warn("found interrupted processes", "count", len(procs))
	for i := range procs {
		p := &procs[i]
		r.notifier.Notify(ctx, p, interruptedKey(p), InterruptedMessage)
	}
	return nil
}

// interruptedKey guesses which stage was running from the outputs present.
func interruptedKey(p *models.Process) models.StageKey {
	if p.FileID == "" {
		return models.KeyMatch
	}
	for _, k := range models.StageKeys {
		if p.Output(k) == nil {
			return k
		}
	}
	return models.KeyDataset
}

func (r *Runner) release(processID string) {
	r.mu.Lock()
	delete(r.tokens, processID)
	r.mu.Unlock()
}

func (r *Runner) execute(run *Run) {
	defer r.release(run.ProcessID)
	// Transitions use a context that survives shutdown so a stopped stage
	// still leaves a terminal status behind.
	persist := context.WithoutCancel(r.ctx)
	start := time.Now()
	log := r.logger.With("process_id", run.ProcessID, "key", run.Key)

	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("panic: %v\n%s", rec, debug.Stack())
			log.Error("stage panicked", "panic", rec)
			r.fail(persist, run, msg, start)
		}
	}()

	if run.token.Cancelled() {
		r.cancelled(persist, run, start)
		return
	}
	p, err := r.store.StartProcess(persist, run.ProcessID)
	if err != nil {
		log.Warn("could not start stage", "error", err)
		return
	}
	run.Process = p
	log.Info("stage started")

	res, err := run.fn(r.ctx, run)
	switch {
	case errors.Is(err, ErrCancelled) || run.token.Cancelled():
		r.cancelled(persist, run, start)
	case err != nil:
		log.Error("stage failed", "error", err)
		r.fail(persist, run, err.Error(), start)
	default:
		r.complete(persist, run, res, start)
	}
}

func (r *Runner) complete(ctx context.Context, run *Run, res *stages.Result, start time.Time) {
	if res == nil {
		res = &stages.Result{}
	}
	var cached json.RawMessage
	if res.CachedGraph != nil {
		raw, err := models.EncodeOutput(res.CachedGraph)
		if err != nil {
			r.logger.Warn("dropping cached graph", "process_id", run.ProcessID, "error", err)
		} else {
			cached = json.RawMessage(raw)
		}
	}

	raw, err := models.EncodeOutput(res.Output)
	if err != nil {
		r.fail(ctx, run, err.Error(), start)
		return
	}
	if err := run.Checkpoint(); err != nil {
		r.cancelled(ctx, run, start)
		return
	}
	p, err := r.store.CompleteStage(ctx, run.ProcessID, run.Key, raw)
	if err != nil {
		// Another writer moved the process on; it owns the callback.
		r.logger.Warn("failed to complete stage", "process_id", run.ProcessID, "key", run.Key, "error", err)
		return
	}
	r.record(run.Key, "completed", start)
	r.logger.Info("stage completed", "process_id", run.ProcessID, "key", run.Key, "duration_ms", time.Since(start).Milliseconds())
	r.notifier.NotifyWithCache(ctx, p, run.Key, res.Message, cached)
}

func (r *Runner) fail(ctx context.Context, run *Run, msg string, start time.Time) {
	p, err := r.store.FailProcess(ctx, run.ProcessID, msg)
	if err != nil {
		r.logger.Warn("failed to record failure", "process_id", run.ProcessID, "error", err)
		return
	}
	r.record(run.Key, "failed", start)
	r.notifier.Notify(ctx, p, run.Key, msg)
}

func (r *Runner) cancelled(ctx context.Context, run *Run, start time.Time) {
	p, err := r.store.CancelProcess(ctx, run.ProcessID)
	if err != nil {
		r.logger.Warn("failed to record cancellation", "process_id", run.ProcessID, "error", err)
		return
	}
	r.record(run.Key, "cancelled", start)
	r.logger.Info("stage cancelled", "process_id", run.ProcessID, "key", run.Key)
	r.notifier.Notify(ctx, p, run.Key, "cancelled")
}

func (r *Runner) record(key models.StageKey, outcome string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordStage(string(key), outcome, time.Since(start))
	}
}
