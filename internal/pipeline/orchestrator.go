package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dgallion1/docscan/internal/config"
)

var (
	ErrQueueFull = errors.New("run queue is full")
	ErrStopped   = errors.New("orchestrator stopped")
)

// Orchestrator runs submitted jobs on a fixed set of worker goroutines.
type Orchestrator struct {
	runs   *RunStore
	queue  chan *Run
	worker *Worker
	log    *slog.Logger
	cfg    config.Config

	mu       sync.Mutex
	stopped  bool
	finished []func(*Run)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(cfg config.Config, w *Worker, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		runs:   NewRunStore(cfg.JobTTL),
		queue:  make(chan *Run, cfg.MaxQueueSize),
		worker: w,
		log:    log,
		cfg:    cfg,
	}
}

// OnFinish registers fn to be called, on the worker goroutine, after each run
// reaches a terminal state. Register before Start.
func (o *Orchestrator) OnFinish(fn func(*Run)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, fn)
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range max(o.cfg.WorkerCount, 1) {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					o.drain(workerCtx)
					return
				case run, ok := <-o.queue:
					if !ok {
						return
					}
					o.execute(workerCtx, run)
				}
			}
		}()
	}

	// Start run store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.runs.Cleanup()
			}
		}
	}()
}

// Stop cancels in-flight runs, which still persist their partial results,
// and waits for the workers to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit validates job and queues it under a new run ID.
func (o *Orchestrator) Submit(job Job) (*Run, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	run := NewRun(ulid.Make().String(), job)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return nil, ErrStopped
	}
	o.runs.Put(run)
	select {
	case o.queue <- run:
		o.log.Info("run queued", "run_id", run.ID, "files", len(job.Files))
		return run, nil
	default:
		run.fail("queue_full")
		return run, fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// Get returns a run by ID, or nil.
func (o *Orchestrator) Get(id string) *Run {
	return o.runs.Get(id)
}

// Cancel requests cancellation of a queued or running run.
func (o *Orchestrator) Cancel(id string) error {
	run := o.runs.Get(id)
	if run == nil {
		return ErrRunNotFound
	}
	if err := run.Cancel(); err != nil {
		return err
	}
	o.log.Info("run cancel requested", "run_id", id)
	return nil
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

func (o *Orchestrator) execute(ctx context.Context, run *Run) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := run.begin(cancel); err != nil {
		o.log.Warn("run not started", "run_id", run.ID, "error", err)
		return
	}
	o.log.Info("run started", "run_id", run.ID)
	res := o.worker.Process(runCtx, run.Job, run)
	run.finish(res)

	o.mu.Lock()
	hooks := o.finished
	o.mu.Unlock()
	for _, fn := range hooks {
		fn(run)
	}
}

// drain finishes runs still queued after shutdown began. ctx is already
// cancelled, so each one finalizes as cancelled without processing a file.
func (o *Orchestrator) drain(ctx context.Context) {
	for {
		select {
		case run, ok := <-o.queue:
			if !ok {
				return
			}
			o.execute(ctx, run)
		default:
			return
		}
	}
}
