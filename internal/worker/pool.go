package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/aigc_server/internal/pkg/queue"
)

const (
	defaultPopTimeout = 5 * time.Second
	jobTimeout        = 5 * time.Minute
	popErrorBackoff   = time.Second
)

// JobSource 任务来源，queue.Queue 实现了该接口
type JobSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.ImageJob, error)
}

// Pool 固定数量的 worker 并发消费队列
type Pool struct {
	source     JobSource
	processor  *Processor
	workers    int
	PopTimeout time.Duration
}

func NewPool(source JobSource, processor *Processor, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		source:     source,
		processor:  processor,
		workers:    workers,
		PopTimeout: defaultPopTimeout,
	}
}

// Run 阻塞直到 ctx 取消，已取出的任务会处理完再返回
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		workerID := i
		g.Go(func() error {
			p.loop(gctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	log := zap.L().With(zap.Int("worker", workerID))
	log.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		default:
		}

		job, err := p.source.Pop(ctx, p.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error("pop job failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(popErrorBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}

		log.Info("processing image job", zap.Int64("image_id", job.ImageID))
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
		if err := p.processor.Process(jobCtx, job); err != nil {
			log.Error("image job error", zap.Int64("image_id", job.ImageID), zap.Error(err))
		}
		cancel()
	}
}
