package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mergegate-dev/mergegate/internal/compliance"
	"github.com/mergegate-dev/mergegate/internal/platform"
	"github.com/mergegate-dev/mergegate/internal/storage"
)

// PipelineRunner executes one gating pass for a task. Satisfied by
// gate.Pipeline; stubbed in tests.
type PipelineRunner interface {
	Run(ctx context.Context, task *storage.Task) (*compliance.Result, error)
}

// WorkerPool manages the gating workers pulling from the shared store
type WorkerPool struct {
	store       storage.Store
	cfgGetter   ConfigGetter
	pipeline    PipelineRunner
	broadcaster Broadcaster
	metrics     *Metrics

	numWorkers    int
	activeWorkers atomic.Int32
	stopCh        chan struct{}
	readyCh       chan struct{} // closed after wg.Add in Start
	startOnce     sync.Once
	stopOnce      sync.Once
	wg            sync.WaitGroup

	// Poll intervals, shortened in tests
	idleInterval time.Duration
	errInterval  time.Duration
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(store storage.Store, cfgGetter ConfigGetter, pipeline PipelineRunner, numWorkers int, broadcaster Broadcaster, metrics *Metrics) *WorkerPool {
	return &WorkerPool{
		store:        store,
		cfgGetter:    cfgGetter,
		pipeline:     pipeline,
		broadcaster:  broadcaster,
		metrics:      metrics,
		numWorkers:   numWorkers,
		stopCh:       make(chan struct{}),
		readyCh:      make(chan struct{}),
		idleInterval: 2 * time.Second,
		errInterval:  5 * time.Second,
	}
}

// Start begins the worker pool. Safe to call multiple times; only the
// first call spawns workers.
func (wp *WorkerPool) Start() {
	wp.startOnce.Do(func() {
		log.Printf("Starting worker pool with %d workers", wp.numWorkers)
		wp.wg.Add(wp.numWorkers)
		close(wp.readyCh)
		for i := 0; i < wp.numWorkers; i++ {
			go wp.worker(i)
		}
	})
}

// Stop gracefully shuts down the worker pool. In-progress tasks run to
// completion; preempting mid-sync could leave partially-applied remote
// state.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		log.Println("Stopping worker pool...")
		close(wp.stopCh)
		select {
		case <-wp.readyCh:
			wp.wg.Wait()
		default:
		}
		log.Println("Worker pool stopped")
	})
}

// ActiveWorkers returns the number of workers currently processing a task
func (wp *WorkerPool) ActiveWorkers() int {
	return int(wp.activeWorkers.Load())
}

// MaxWorkers returns the total number of workers in the pool
func (wp *WorkerPool) MaxWorkers() int {
	return wp.numWorkers
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	workerID := fmt.Sprintf("worker-%d", id)

	log.Printf("[%s] Started", workerID)

	for {
		select {
		case <-wp.stopCh:
			log.Printf("[%s] Shutting down", workerID)
			return
		default:
		}

		lease := time.Duration(wp.cfgGetter.Config().LeaseSeconds) * time.Second
		task, err := wp.store.Claim(workerID, lease)
		if err != nil {
			// Store connectivity trouble. Never fail a task over this;
			// another worker may still complete it. Back off and retry.
			log.Printf("[%s] Error claiming task: %v", workerID, err)
			wp.sleep(wp.errInterval)
			continue
		}

		if task == nil {
			wp.sleep(wp.idleInterval)
			continue
		}

		wp.activeWorkers.Add(1)
		wp.processTask(workerID, task)
		wp.activeWorkers.Add(-1)
	}
}

// sleep waits for d or until the pool is stopped
func (wp *WorkerPool) sleep(d time.Duration) {
	select {
	case <-wp.stopCh:
	case <-time.After(d):
	}
}

func (wp *WorkerPool) processTask(workerID string, task *storage.Task) {
	log.Printf("[%s] Processing task %d %s sha=%s retry=%d",
		workerID, task.ID, task.Slug(), shortSHA(task.HeadSHA), task.RetryCount)
	start := time.Now()

	cfg := task.Config.Normalized()
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutMinutes)*time.Minute)
	defer cancel()

	wp.broadcaster.Broadcast(Event{
		Type:     "task.started",
		TS:       time.Now(),
		TaskID:   task.ID,
		Owner:    task.Owner,
		Repo:     task.Repo,
		PRNumber: task.PRNumber,
		SHA:      task.HeadSHA,
	})

	result, err := wp.pipeline.Run(ctx, task)
	if err != nil {
		wp.failOrRetry(workerID, task, err)
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		log.Printf("[%s] Error encoding result for task %d: %v", workerID, task.ID, err)
		wp.failOrRetry(workerID, task, err)
		return
	}

	completed, err := wp.store.Complete(task.ID, workerID, string(resultJSON))
	if err != nil {
		log.Printf("[%s] Error completing task %d: %v", workerID, task.ID, err)
		return
	}
	if !completed {
		// Lease was reclaimed or the task was cancelled mid-run; the remote
		// surfaces are idempotent so whoever finishes wins.
		log.Printf("[%s] Task %d no longer owned, result discarded", workerID, task.ID)
		return
	}

	wp.metrics.TasksCompleted.Inc()
	wp.metrics.TaskDuration.Observe(time.Since(start).Seconds())
	log.Printf("[%s] Completed task %d %s decision=%s in %s",
		workerID, task.ID, task.Slug(),
		result.Decision, time.Since(start).Round(time.Millisecond))

	wp.broadcaster.Broadcast(Event{
		Type:     "task.completed",
		TS:       time.Now(),
		TaskID:   task.ID,
		Owner:    task.Owner,
		Repo:     task.Repo,
		PRNumber: task.PRNumber,
		SHA:      task.HeadSHA,
		Decision: string(result.Decision),
	})
}

// engineFailureTag prefixes the stored error message when the failure came
// from the analysis engine, so the next attempt can tell an engine repeat
// apart from a retry charged to a platform blip
const engineFailureTag = "engine: "

// failOrRetry applies the failure taxonomy: terminal platform errors and
// repeated engine errors fail the task immediately; everything else goes
// back through the queue's retry path (priority demotion + delay floor).
func (wp *WorkerPool) failOrRetry(workerID string, task *storage.Task, runErr error) {
	errMsg := runErr.Error()

	engineErr := compliance.IsEngineError(runErr)
	if engineErr {
		errMsg = engineFailureTag + errMsg
	}

	terminal := platform.IsTerminal(runErr)
	if engineErr && strings.HasPrefix(task.ErrorMessage, engineFailureTag) {
		// Engine errors are transient once, terminal when the previous
		// attempt already failed in the engine
		terminal = true
	}

	if terminal {
		failed, err := wp.store.FailTerminal(task.ID, workerID, errMsg)
		if err != nil {
			log.Printf("[%s] Error failing task %d: %v", workerID, task.ID, err)
			return
		}
		if failed {
			log.Printf("[%s] Task %d %s failed (terminal): %s",
				workerID, task.ID, task.Slug(), errMsg)
			wp.metrics.TasksFailed.Inc()
			wp.broadcastFailed(task, errMsg)
		}
		return
	}

	requeued, err := wp.store.Fail(task.ID, workerID, errMsg)
	if err != nil {
		log.Printf("[%s] Error recording failure for task %d: %v", workerID, task.ID, err)
		return
	}
	if requeued {
		wp.metrics.TasksRetried.Inc()
		log.Printf("[%s] Task %d %s requeued for retry (%d/%d): %s",
			workerID, task.ID, task.Slug(),
			task.RetryCount+1, task.MaxRetries, errMsg)
		return
	}

	wp.metrics.TasksFailed.Inc()
	log.Printf("[%s] Task %d %s failed after %d retries: %s",
		workerID, task.ID, task.Slug(), task.MaxRetries, errMsg)
	wp.broadcastFailed(task, errMsg)
}

func (wp *WorkerPool) broadcastFailed(task *storage.Task, errMsg string) {
	wp.broadcaster.Broadcast(Event{
		Type:     "task.failed",
		TS:       time.Now(),
		TaskID:   task.ID,
		Owner:    task.Owner,
		Repo:     task.Repo,
		PRNumber: task.PRNumber,
		SHA:      task.HeadSHA,
		Error:    errMsg,
	})
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
