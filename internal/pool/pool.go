// Package pool dispatches subtasks to a bounded set of research workers.
// Output is positional: result[i] always corresponds to subtasks[i], with a
// zero-confidence placeholder standing in for a panicked worker and nil for
// tasks that never started. One task's failure never cancels its peers.
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/models"
	"github.com/probelabs/deepresearch/internal/worker"
)

// Runner is what the pool needs from a worker.
type Runner interface {
	ID() int
	Search(ctx context.Context, subtask models.Subtask) models.SubtaskResult
}

// Factory builds a worker on first use.
type Factory func(id int) Runner

// Pool runs subtasks across lazily allocated workers.
type Pool struct {
	factory    Factory
	controller *Controller
	logger     *zap.Logger

	mu      sync.Mutex
	workers []Runner
}

func New(factory Factory, maxParallel int, logger *zap.Logger) *Pool {
	return &Pool{
		factory:    factory,
		controller: NewController(maxParallel, logger),
		logger:     logger,
	}
}

// Controller exposes the adaptive width controller for observation.
func (p *Pool) Controller() *Controller { return p.controller }

// workerFor returns the i-th worker, allocating it on first use.
func (p *Pool) workerFor(i int) Runner {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.workers) <= i {
		p.workers = append(p.workers, p.factory(len(p.workers)))
	}
	return p.workers[i]
}

// ExecuteParallel runs all subtasks, at most Width at a time, preserving
// positional correspondence between input and output. Workers are reused
// round-robin across batches.
func (p *Pool) ExecuteParallel(ctx context.Context, subtasks []models.Subtask) []*models.SubtaskResult {
	results := make([]*models.SubtaskResult, len(subtasks))
	if len(subtasks) == 0 {
		return results
	}

	width := p.controller.Width()
	p.logger.Info("Dispatching subtasks",
		zap.Int("count", len(subtasks)),
		zap.Int("width", width))

	batchStart := 0
	for batchStart < len(subtasks) {
		if ctx.Err() != nil {
			break
		}
		batchEnd := batchStart + width
		if batchEnd > len(subtasks) {
			batchEnd = len(subtasks)
		}

		var wg sync.WaitGroup
		for i := batchStart; i < batchEnd; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = p.runOne(ctx, i-batchStart, subtasks[i])
			}(i)
		}
		wg.Wait()

		batchStart = batchEnd
		// Width may have adapted mid-run; the next batch honors it.
		width = p.controller.Width()
	}
	return results
}

// runOne executes a single subtask with wall-clock timing and panic
// isolation.
func (p *Pool) runOne(ctx context.Context, workerIdx int, subtask models.Subtask) (out *models.SubtaskResult) {
	w := p.workerFor(workerIdx)
	start := time.Now()
	p.logger.Info("Subtask started",
		zap.Int("worker_id", w.ID()),
		zap.Int("subtask_id", subtask.ID),
		zap.String("focus", subtask.Focus))

	defer func() {
		elapsed := time.Since(start)
		if r := recover(); r != nil {
			p.logger.Error("Worker panicked, substituting placeholder",
				zap.Int("worker_id", w.ID()),
				zap.Int("subtask_id", subtask.ID),
				zap.Any("panic", r))
			out = &models.SubtaskResult{
				SubtaskID:  subtask.ID,
				Focus:      subtask.Focus,
				Findings:   []string{"Research failed: worker crashed"},
				Sources:    []models.Source{},
				Confidence: 0.0,
			}
			p.controller.Record(elapsed, false)
			return
		}
		p.logger.Info("Subtask finished",
			zap.Int("worker_id", w.ID()),
			zap.Int("subtask_id", subtask.ID),
			zap.Int64("elapsed_ms", elapsed.Milliseconds()),
			zap.Float64("confidence", out.Confidence))
		p.controller.Record(elapsed, out.Confidence > 0)
	}()

	result := w.Search(ctx, subtask)
	return &result
}

// NewWorkerFactory adapts worker construction to the pool's Factory shape.
func NewWorkerFactory(build func(id int) *worker.Worker) Factory {
	return func(id int) Runner { return build(id) }
}
