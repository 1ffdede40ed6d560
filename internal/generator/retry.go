package generator

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

func DefaultRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: maxAttempts,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     8 * time.Second,
		Multiplier:  2,
	}
}

// retryClient 对瞬时错误做指数退避重试；上下文取消/超时不重试
type retryClient struct {
	inner  Client
	config RetryConfig
}

func WithRetry(c Client, cfg RetryConfig) Client {
	if cfg.MaxAttempts <= 1 {
		return c
	}
	return &retryClient{inner: c, config: cfg}
}

func retry[T any](ctx context.Context, cfg RetryConfig, call func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	invalidRetried := false

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		out, err := call()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !shouldRetry(ctx, err, &invalidRetried) || attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return zero, &ErrProviderUnavailable{Err: ctx.Err()}
		case <-time.After(backoff(cfg, attempt, err)):
		}
	}
	return zero, lastErr
}

func shouldRetry(ctx context.Context, err error, invalidRetried *bool) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// 格式错误只重试一次
	var invalid *ErrInvalidResponse
	if errors.As(err, &invalid) {
		if *invalidRetried {
			return false
		}
		*invalidRetried = true
		return true
	}
	return true
}

func backoff(cfg RetryConfig, attempt int, err error) time.Duration {
	var rl *ErrRateLimit
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}

	wait := float64(cfg.InitialWait) * math.Pow(cfg.Multiplier, float64(attempt))
	if wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}
	// ±20% 抖动
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

func (r *retryClient) GenerateLesson(ctx context.Context, req LessonRequest) (string, error) {
	return retry(ctx, r.config, func() (string, error) { return r.inner.GenerateLesson(ctx, req) })
}

func (r *retryClient) GeneratePracticeTasks(ctx context.Context, req ContentRequest) ([]TaskDraft, error) {
	return retry(ctx, r.config, func() ([]TaskDraft, error) { return r.inner.GeneratePracticeTasks(ctx, req) })
}

func (r *retryClient) GenerateQuizQuestions(ctx context.Context, req QuizRequest) ([]QuestionDraft, error) {
	return retry(ctx, r.config, func() ([]QuestionDraft, error) { return r.inner.GenerateQuizQuestions(ctx, req) })
}

func (r *retryClient) GenerateFeedback(ctx context.Context, studentAnswers, correctAnswers []string) (string, error) {
	return retry(ctx, r.config, func() (string, error) {
		return r.inner.GenerateFeedback(ctx, studentAnswers, correctAnswers)
	})
}
