package generator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	mock := &MockClient{Lessons: []MockResult[string]{
		{Err: &ErrProviderUnavailable{Err: errors.New("502")}},
		{Err: &ErrRateLimit{Err: errors.New("429")}},
		{Value: "lesson body"},
	}}
	c := WithRetry(mock, fastRetry(3))

	out, err := c.GenerateLesson(context.Background(), LessonRequest{Title: "Fractions"})
	require.NoError(t, err)
	assert.Equal(t, "lesson body", out)
	assert.Len(t, mock.LessonCalls, 3)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	down := &ErrProviderUnavailable{Err: errors.New("503")}
	mock := &MockClient{Feedback: []MockResult[string]{{Err: down}, {Err: down}, {Value: "too late"}}}
	c := WithRetry(mock, fastRetry(2))

	_, err := c.GenerateFeedback(context.Background(), []string{"a"}, []string{"b"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, 2, mock.FeedbackCalls)
}

func TestRetry_InvalidResponseRetriedOnce(t *testing.T) {
	bad := &ErrInvalidResponse{Err: errors.New("not json")}
	mock := &MockClient{Questions: []MockResult[[]QuestionDraft]{{Err: bad}, {Err: bad}, {Value: []QuestionDraft{{QuestionText: "q"}}}}}
	c := WithRetry(mock, fastRetry(5))

	_, err := c.GenerateQuizQuestions(context.Background(), QuizRequest{})
	var invalid *ErrInvalidResponse
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, 2, mock.QuestionCallCount())
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &MockClient{Tasks: []MockResult[[]TaskDraft]{{Err: &ErrProviderUnavailable{Err: errors.New("boom")}}, {Value: []TaskDraft{{}}}}}
	c := WithRetry(mock, fastRetry(3))

	_, err := c.GeneratePracticeTasks(ctx, ContentRequest{})
	assert.Error(t, err)
	assert.Len(t, mock.TaskCalls, 1)
}

func TestWithRetry_SingleAttemptIsPassthrough(t *testing.T) {
	mock := &MockClient{}
	assert.Same(t, Client(mock), WithRetry(mock, fastRetry(1)))
}

func TestBackoff_HonoursRetryAfter(t *testing.T) {
	cfg := fastRetry(3)
	wait := backoff(cfg, 0, &ErrRateLimit{RetryAfter: 3 * time.Second})
	assert.Equal(t, 3*time.Second, wait)

	wait = backoff(RetryConfig{InitialWait: time.Second, MaxWait: 2 * time.Second, Multiplier: 2}, 5, errors.New("x"))
	assert.LessOrEqual(t, wait, time.Duration(float64(2*time.Second)*1.2))
}

// blockingClient 一直阻塞到上下文结束
type blockingClient struct{ MockClient }

func (b *blockingClient) GenerateLesson(ctx context.Context, _ LessonRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestInstrumentation_WrapsErrors(t *testing.T) {
	plain := &MockClient{Feedback: []MockResult[string]{{Err: errors.New("socket closed")}}}
	c := WithInstrumentation(plain, time.Second, zap.NewNop())

	_, err := c.GenerateFeedback(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, err.Error(), "socket closed")

	c = WithInstrumentation(&blockingClient{}, 20*time.Millisecond, nil)
	start := time.Now()
	_, err = c.GenerateLesson(context.Background(), LessonRequest{})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInstrumentation_PassesSuccess(t *testing.T) {
	mock := &MockClient{Tasks: []MockResult[[]TaskDraft]{{Value: []TaskDraft{{Title: "t"}}}}}
	c := WithInstrumentation(mock, 0, nil)

	tasks, err := c.GeneratePracticeTasks(context.Background(), ContentRequest{LessonContent: "body"})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

// --- OpenAI 兼容接口 ---

type chatHandler func(w http.ResponseWriter, body map[string]any)

func newOpenAIServer(t *testing.T, handler chatHandler) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
	t.Cleanup(srv.Close)

	c, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "test-key", Model: "test-model", QuestionCount: 3})
	require.NoError(t, err)
	return c
}

func writeChoice(w http.ResponseWriter, content, finish string) {
	json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
	})
}

func writeAPIError(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": http.StatusText(status), "type": "server_error"},
	})
}

func TestNewOpenAIClient_RequiresKeyAndModel(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{Model: "m"})
	assert.Error(t, err)
	_, err = NewOpenAIClient(OpenAIConfig{APIKey: "k"})
	assert.Error(t, err)
}

func TestOpenAIClient_GenerateLesson(t *testing.T) {
	c := newOpenAIServer(t, func(w http.ResponseWriter, body map[string]any) {
		assert.Equal(t, "test-model", body["model"])
		messages := body["messages"].([]any)
		require.Len(t, messages, 2)
		system := messages[0].(map[string]any)["content"].(string)
		assert.Contains(t, system, "Fractions")
		assert.Contains(t, system, "grade 5")
		writeChoice(w, "  # Fractions\nParts of a whole.  ", "stop")
	})

	out, err := c.GenerateLesson(context.Background(), LessonRequest{Title: "Fractions", GradeLevel: 5, Language: "English", Subject: "Math"})
	require.NoError(t, err)
	assert.Equal(t, "# Fractions\nParts of a whole.", out)
}

func TestOpenAIClient_StructuredOutput(t *testing.T) {
	payload := "```json\n" + `{"questions":[{"question_text":"1/2 + 1/2?","options":["1","2"],"question_type":"MCQs","correct_answer":"1"}]}` + "\n```"
	c := newOpenAIServer(t, func(w http.ResponseWriter, body map[string]any) {
		format := body["response_format"].(map[string]any)
		assert.Equal(t, "json_schema", format["type"])
		system := body["messages"].([]any)[0].(map[string]any)["content"].(string)
		assert.Contains(t, system, "3 multiple choice questions")
		assert.Contains(t, system, "- What is 1/3?")
		writeChoice(w, payload, "stop")
	})

	questions, err := c.GenerateQuizQuestions(context.Background(), QuizRequest{
		LessonContent: "fractions", GradeLevel: 5, Language: "English", Avoid: []string{"What is 1/3?"},
	})
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, "1/2 + 1/2?", questions[0].QuestionText)
	assert.Equal(t, "1", questions[0].CorrectAnswer)
}

func TestOpenAIClient_SchemaViolation(t *testing.T) {
	c := newOpenAIServer(t, func(w http.ResponseWriter, _ map[string]any) {
		writeChoice(w, `{"tasks":[{"title":"t","content":"c","difficulty":"impossible","solution":"s"}]}`, "stop")
	})

	_, err := c.GeneratePracticeTasks(context.Background(), ContentRequest{LessonContent: "x"})
	var invalid *ErrInvalidResponse
	require.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, string(invalid.Content), "impossible")
}

func TestOpenAIClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		handle chatHandler
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limited",
			handle: func(w http.ResponseWriter, _ map[string]any) { writeAPIError(w, http.StatusTooManyRequests) },
			check: func(t *testing.T, err error) {
				var rl *ErrRateLimit
				assert.ErrorAs(t, err, &rl)
			},
		},
		{
			name:   "server error",
			handle: func(w http.ResponseWriter, _ map[string]any) { writeAPIError(w, http.StatusBadGateway) },
			check: func(t *testing.T, err error) {
				var down *ErrProviderUnavailable
				assert.ErrorAs(t, err, &down)
			},
		},
		{
			name:   "bad request",
			handle: func(w http.ResponseWriter, _ map[string]any) { writeAPIError(w, http.StatusBadRequest) },
			check: func(t *testing.T, err error) {
				var invalid *ErrInvalidResponse
				assert.ErrorAs(t, err, &invalid)
			},
		},
		{
			name:   "truncated",
			handle: func(w http.ResponseWriter, _ map[string]any) { writeChoice(w, "partial", "length") },
			check: func(t *testing.T, err error) {
				var invalid *ErrInvalidResponse
				assert.ErrorAs(t, err, &invalid)
			},
		},
		{
			name:   "empty",
			handle: func(w http.ResponseWriter, _ map[string]any) { writeChoice(w, "   ", "stop") },
			check: func(t *testing.T, err error) {
				var invalid *ErrInvalidResponse
				assert.ErrorAs(t, err, &invalid)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newOpenAIServer(t, tt.handle)
			_, err := c.GenerateFeedback(context.Background(), []string{"2"}, []string{"1"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGenerationFailed)
			tt.check(t, err)
		})
	}
}

func TestNew_RetriesThroughFullChain(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if n.Add(1) == 1 {
			writeAPIError(w, http.StatusServiceUnavailable)
			return
		}
		writeChoice(w, "feedback text", "stop")
	}))
	t.Cleanup(srv.Close)

	client, err := New(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "m"}, 5*time.Second, 2, zap.NewNop())
	require.NoError(t, err)
	// New 使用默认退避，首个重试等待约 500ms
	out, err := client.GenerateFeedback(context.Background(), []string{"a"}, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, "feedback text", out)
	assert.Equal(t, int32(2), n.Load())
}
