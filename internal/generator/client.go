// Package generator wraps the external content-generation service (an
// OpenAI-compatible chat completion endpoint) behind a typed capability.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrGenerationFailed 是所有生成失败的根错误，调用方只需 errors.Is 判断
var ErrGenerationFailed = errors.New("content generation failed")

// Client 生成课程正文、练习题、测验题目和答题反馈
type Client interface {
	GenerateLesson(ctx context.Context, req LessonRequest) (string, error)
	GeneratePracticeTasks(ctx context.Context, req ContentRequest) ([]TaskDraft, error)
	GenerateQuizQuestions(ctx context.Context, req QuizRequest) ([]QuestionDraft, error)
	GenerateFeedback(ctx context.Context, studentAnswers, correctAnswers []string) (string, error)
}

type LessonRequest struct {
	Title      string
	GradeLevel int
	Language   string
	Subject    string
}

type ContentRequest struct {
	LessonContent string
	GradeLevel    int
	Language      string
}

type QuizRequest struct {
	LessonContent string
	GradeLevel    int
	Language      string
	// Avoid 之前版本出过的题目，重新出题时避免重复
	Avoid []string
}

type TaskDraft struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Difficulty string `json:"difficulty"`
	Solution   string `json:"solution"`
}

type QuestionDraft struct {
	QuestionText  string   `json:"question_text"`
	Options       []string `json:"options"`
	QuestionType  string   `json:"question_type"`
	CorrectAnswer string   `json:"correct_answer"`
}

// ErrRateLimit 服务端返回 429
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *ErrRateLimit) Unwrap() []error { return []error{ErrGenerationFailed, e.Err} }

// ErrInvalidResponse 输出不是合法 JSON 或不符合 schema
type ErrInvalidResponse struct {
	Content json.RawMessage
	Err     error
}

func (e *ErrInvalidResponse) Error() string {
	return fmt.Sprintf("invalid generator response: %v", e.Err)
}

func (e *ErrInvalidResponse) Unwrap() []error { return []error{ErrGenerationFailed, e.Err} }

// ErrProviderUnavailable 网络错误、5xx 或超时
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generator unavailable: %v", e.Err)
	}
	return "generator unavailable"
}

func (e *ErrProviderUnavailable) Unwrap() []error { return []error{ErrGenerationFailed, e.Err} }
