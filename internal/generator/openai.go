package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Temperature   float64
	QuestionCount int
	TaskCount     int
}

// OpenAIClient 面向任意 OpenAI 兼容接口（包括 Gemini 的兼容端点）
type OpenAIClient struct {
	client        *openai.Client
	model         string
	temperature   float32
	questionCount int
	taskCount     int
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ai api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("ai model is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	c := &OpenAIClient{
		client:        openai.NewClientWithConfig(config),
		model:         cfg.Model,
		temperature:   float32(cfg.Temperature),
		questionCount: cfg.QuestionCount,
		taskCount:     cfg.TaskCount,
	}
	if c.questionCount <= 0 {
		c.questionCount = 5
	}
	if c.taskCount <= 0 {
		c.taskCount = 5
	}
	return c, nil
}

func (c *OpenAIClient) GenerateLesson(ctx context.Context, req LessonRequest) (string, error) {
	system := fmt.Sprintf(lessonPrompt, req.Subject, req.Title, req.GradeLevel, req.Language)
	user := fmt.Sprintf("Generate lesson '%s' for %s", req.Title, req.Subject)
	return c.complete(ctx, system, user)
}

func (c *OpenAIClient) GeneratePracticeTasks(ctx context.Context, req ContentRequest) ([]TaskDraft, error) {
	system := fmt.Sprintf(practiceTaskPrompt, c.taskCount, req.GradeLevel, req.Language)

	var out struct {
		Tasks []TaskDraft `json:"tasks"`
	}
	if err := c.completeStructured(ctx, system, lessonContentMessage("practice tasks", req.LessonContent), practiceTasksSchema, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *OpenAIClient) GenerateQuizQuestions(ctx context.Context, req QuizRequest) ([]QuestionDraft, error) {
	system := buildQuizPrompt(c.questionCount, req)

	var out struct {
		Questions []QuestionDraft `json:"questions"`
	}
	if err := c.completeStructured(ctx, system, lessonContentMessage("quiz questions", req.LessonContent), quizQuestionsSchema, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

func (c *OpenAIClient) GenerateFeedback(ctx context.Context, studentAnswers, correctAnswers []string) (string, error) {
	system := fmt.Sprintf(feedbackPrompt, strings.Join(correctAnswers, "; "))
	user := fmt.Sprintf("Student's answers: %s", strings.Join(studentAnswers, "; "))
	return c.complete(ctx, system, user)
}

func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(system, user))
	if err != nil {
		return "", mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &ErrInvalidResponse{Err: errors.New("no choices in response")}
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		return "", &ErrInvalidResponse{Err: errors.New("response truncated by max tokens")}
	}

	content := strings.TrimSpace(resp.Choices[len(resp.Choices)-1].Message.Content)
	if content == "" {
		return "", &ErrInvalidResponse{Err: errors.New("empty response")}
	}
	return content, nil
}

func (c *OpenAIClient) completeStructured(ctx context.Context, system, user string, schema *Schema, dst any) error {
	schemaBytes, err := json.Marshal(schema.Definition)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	req := c.request(system, user)
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   schema.Name,
			Schema: json.RawMessage(schemaBytes),
			Strict: true,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return &ErrInvalidResponse{Err: errors.New("no choices in response")}
	}

	raw := json.RawMessage(stripCodeFence(resp.Choices[len(resp.Choices)-1].Message.Content))
	return decodeStructured(schema, raw, dst)
}

func (c *OpenAIClient) request(system, user string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
}

// stripCodeFence 部分兼容端点会把 JSON 包在 ``` 代码块里
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func mapOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ErrProviderUnavailable{Err: err}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &ErrRateLimit{Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &ErrProviderUnavailable{Err: err}
		default:
			return &ErrInvalidResponse{Err: err}
		}
	}
	return &ErrProviderUnavailable{Err: err}
}
