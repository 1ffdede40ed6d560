package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 取消后留给任务写回失败状态的时间
const defaultCancelGrace = 10 * time.Second

// Runner 在请求生命周期之外执行后台任务（如课程内容生成）。
// 任务共享一个进程级 context，Shutdown 时先等待再取消。
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.Logger

	// CancelGrace 取消后继续等待任务退出的上限
	CancelGrace time.Duration
}

func NewRunner(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{ctx: ctx, cancel: cancel, log: log, CancelGrace: defaultCancelGrace}
}

func (r *Runner) Go(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("background task panicked", zap.String("task", name), zap.Any("panic", p))
			}
		}()
		fn(r.ctx)
	}()
}

// Wait 阻塞直到所有任务结束或 ctx 到期
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 等待进行中的任务，超时后取消剩余任务，
// 并在 CancelGrace 内等待它们退出，之后调用方才能释放存储连接
func (r *Runner) Shutdown(ctx context.Context) error {
	err := r.Wait(ctx)
	r.cancel()
	if err == nil {
		return nil
	}
	r.log.Warn("background tasks cancelled before completion", zap.Error(err))

	graceCtx, cancel := context.WithTimeout(context.Background(), r.CancelGrace)
	defer cancel()
	if graceErr := r.Wait(graceCtx); graceErr != nil {
		r.log.Error("background tasks still running after cancel", zap.Duration("grace", r.CancelGrace))
	}
	return err
}
