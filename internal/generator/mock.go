package generator

import (
	"context"
	"errors"
	"sync"
)

// MockClient 按 FIFO 返回预置结果并记录调用，用于测试
type MockClient struct {
	mu sync.Mutex

	Lessons   []MockResult[string]
	Tasks     []MockResult[[]TaskDraft]
	Questions []MockResult[[]QuestionDraft]
	Feedback  []MockResult[string]

	LessonCalls   []LessonRequest
	TaskCalls     []ContentRequest
	QuestionCalls []QuizRequest
	FeedbackCalls int
}

type MockResult[T any] struct {
	Value T
	Err   error
}

var errMockExhausted = &ErrProviderUnavailable{Err: errors.New("mock: no canned response left")}

func next[T any](queue *[]MockResult[T]) (T, error) {
	var zero T
	if len(*queue) == 0 {
		return zero, errMockExhausted
	}
	r := (*queue)[0]
	*queue = (*queue)[1:]
	return r.Value, r.Err
}

func (m *MockClient) GenerateLesson(_ context.Context, req LessonRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LessonCalls = append(m.LessonCalls, req)
	return next(&m.Lessons)
}

func (m *MockClient) GeneratePracticeTasks(_ context.Context, req ContentRequest) ([]TaskDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TaskCalls = append(m.TaskCalls, req)
	return next(&m.Tasks)
}

func (m *MockClient) GenerateQuizQuestions(_ context.Context, req QuizRequest) ([]QuestionDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QuestionCalls = append(m.QuestionCalls, req)
	return next(&m.Questions)
}

func (m *MockClient) GenerateFeedback(_ context.Context, _, _ []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedbackCalls++
	return next(&m.Feedback)
}

func (m *MockClient) QuestionCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.QuestionCalls)
}
