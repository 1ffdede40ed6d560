package generator

import (
	"context"
	"eduai_backend/pkg/monitoring"
	"eduai_backend/pkg/tracing"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// instrumentedClient 为每次调用加上超时、日志、指标与 trace，
// 并保证返回的错误都能 errors.Is(err, ErrGenerationFailed)
type instrumentedClient struct {
	inner   Client
	timeout time.Duration
	log     *zap.Logger
}

func WithInstrumentation(c Client, timeout time.Duration, log *zap.Logger) Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &instrumentedClient{inner: c, timeout: timeout, log: log}
}

// New 组装生产环境使用的客户端：超时 -> 重试 -> OpenAI 兼容接口
func New(cfg OpenAIConfig, timeout time.Duration, maxAttempts int, log *zap.Logger) (Client, error) {
	base, err := NewOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	return WithInstrumentation(WithRetry(base, DefaultRetryConfig(maxAttempts)), timeout, log), nil
}

func call[T any](ctx context.Context, c *instrumentedClient, op string, fn func(context.Context) (T, error)) (T, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx, span := tracing.Start(ctx, "generator."+op)

	start := time.Now()
	out, err := fn(ctx)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		if !errors.Is(err, ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
		c.log.Warn("generator call failed",
			zap.String("operation", op),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		c.log.Debug("generator call", zap.String("operation", op), zap.Duration("elapsed", elapsed))
	}

	monitoring.GeneratorCallDuration.WithLabelValues(op, status).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.String("generator.status", status))
	tracing.End(span, err)
	return out, err
}

func (c *instrumentedClient) GenerateLesson(ctx context.Context, req LessonRequest) (string, error) {
	return call(ctx, c, "lesson", func(ctx context.Context) (string, error) {
		return c.inner.GenerateLesson(ctx, req)
	})
}

func (c *instrumentedClient) GeneratePracticeTasks(ctx context.Context, req ContentRequest) ([]TaskDraft, error) {
	return call(ctx, c, "practice_tasks", func(ctx context.Context) ([]TaskDraft, error) {
		return c.inner.GeneratePracticeTasks(ctx, req)
	})
}

func (c *instrumentedClient) GenerateQuizQuestions(ctx context.Context, req QuizRequest) ([]QuestionDraft, error) {
	return call(ctx, c, "quiz_questions", func(ctx context.Context) ([]QuestionDraft, error) {
		return c.inner.GenerateQuizQuestions(ctx, req)
	})
}

func (c *instrumentedClient) GenerateFeedback(ctx context.Context, studentAnswers, correctAnswers []string) (string, error) {
	return call(ctx, c, "feedback", func(ctx context.Context) (string, error) {
		return c.inner.GenerateFeedback(ctx, studentAnswers, correctAnswers)
	})
}
