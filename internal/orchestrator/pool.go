package orchestrator

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/practicepulse/ranking-cli/internal/model"
)

// ErrQueueFull is returned when the pool's queue cannot accept another
// batch. Callers surface it as backpressure instead of dropping work.
var ErrQueueFull = eris.New("orchestrator: batch queue full")

type job struct {
	req  BatchRequest
	runs []model.RankingRun
}

// Pool runs prepared batches on a bounded set of workers with a bounded
// queue. Batches are independent tasks; only locations within one batch are
// sequential.
type Pool struct {
	orch   *Orchestrator
	jobs   chan job
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewPool starts workers workers draining a queue of queueSize batches.
func NewPool(orch *Orchestrator, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	p := &Pool{
		orch:   orch,
		jobs:   make(chan job, queueSize),
		group:  g,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			p.worker(gctx)
			return nil
		})
	}
	return p
}

// Enqueue submits a prepared batch. It returns ErrQueueFull when the queue
// is at capacity rather than blocking the caller.
func (p *Pool) Enqueue(req BatchRequest, runs []model.RankingRun) error {
	select {
	case p.jobs <- job{req: req, runs: runs}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(ctx, j)
		}
	}
}

// process runs one batch, converting a worker panic into a failed batch so
// a single bad input cannot take the pool down.
func (p *Pool) process(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			message := fmt.Sprintf("internal error: %v", r)
			p.orch.failBatch(ctx, j.req, j.runs, message)
			zap.L().Error("batch worker panic recovered",
				zap.String("batch_id", j.req.BatchID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := p.orch.RunPrepared(ctx, j.req, j.runs); err != nil {
		zap.L().Error("batch processing failed",
			zap.String("batch_id", j.req.BatchID),
			zap.Error(err),
		)
	}
}

// Shutdown stops accepting work, lets in-flight batches finish draining the
// queue, and waits for the workers to exit.
func (p *Pool) Shutdown() {
	close(p.jobs)
	_ = p.group.Wait() //nolint:errcheck
	p.cancel()
}
