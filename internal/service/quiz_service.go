package service

import (
	"context"
	"eduai_backend/internal/generator"
	"eduai_backend/internal/model"
	"eduai_backend/internal/repository"
	"eduai_backend/internal/util"
	"eduai_backend/pkg/monitoring"
	"eduai_backend/pkg/tracing"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// QuizPolicy 及格线与每个 (课程, 学生) 的最大测验版本数，支持热更新
type QuizPolicy struct {
	PassingScore float64
	MaxAttempts  int
}

func DefaultQuizPolicy() QuizPolicy {
	return QuizPolicy{PassingScore: 70, MaxAttempts: 3}
}

type QuizService struct {
	Store     repository.Store
	Generator generator.Client

	policy atomic.Pointer[QuizPolicy]
	log    *zap.Logger
	now    func() time.Time
}

func NewQuizService(store repository.Store, gen generator.Client, policy QuizPolicy, log *zap.Logger) *QuizService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &QuizService{
		Store:     store,
		Generator: gen,
		log:       log.Named("quiz"),
		now:       time.Now,
	}
	s.SetPolicy(policy)
	return s
}

func (s *QuizService) SetPolicy(p QuizPolicy) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	s.policy.Store(&p)
}

func (s *QuizService) Policy() QuizPolicy {
	return *s.policy.Load()
}

// QuizAssignment Completed 为 true 时学生已通过该课程，Quiz 为通过的那一版
type QuizAssignment struct {
	Quiz      *model.Quiz `json:"quiz"`
	Completed bool        `json:"completed"`
}

type ResponseReq struct {
	QuestionID string `json:"questionId" binding:"required"`
	Answer     string `json:"answer"`
}

type SubmissionResult struct {
	Attempt         *model.Quiz `json:"attempt"`
	Feedback        string      `json:"feedback"`
	RegeneratedQuiz *model.Quiz `json:"regeneratedQuiz,omitempty"`
}

// GetOrCreateQuiz 返回学生当前的测验：已通过则返回完成标记；存在未提交版本则原样返回；
// 否则生成下一版本。版本号由条件写保证唯一，并发冲突时以先写入者为准。
func (s *QuizService) GetOrCreateQuiz(ctx context.Context, lessonID, studentID string) (*QuizAssignment, error) {
	ctx, span := tracing.Start(ctx, "QuizService.GetOrCreateQuiz",
		attribute.String("lesson.id", lessonID),
		attribute.String("student.id", studentID))
	assignment, err := s.getOrCreateQuiz(ctx, lessonID, studentID)
	tracing.End(span, err)
	return assignment, err
}

func (s *QuizService) getOrCreateQuiz(ctx context.Context, lessonID, studentID string) (*QuizAssignment, error) {
	lesson, err := s.Store.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, lookupErr(err, util.ErrLessonNotFound)
	}
	if !lesson.Status.VisibleToStudents() {
		return nil, util.ErrLessonNotReady
	}
	student, err := s.Store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, lookupErr(err, util.ErrStudentNotFound)
	}

	policy := s.Policy()
	// 第二轮只会在版本冲突后发生，此时胜出者的未提交版本一定可见
	for round := 0; round < 2; round++ {
		versions, err := s.versions(ctx, lessonID, studentID)
		if err != nil {
			return nil, err
		}

		if passed := passedVersion(versions); passed != nil {
			return &QuizAssignment{Quiz: passed, Completed: true}, nil
		}
		if latest := latestVersion(versions); latest != nil && !latest.Submitted() {
			return &QuizAssignment{Quiz: latest}, nil
		}

		next := nextVersion(versions)
		if next > policy.MaxAttempts {
			return nil, util.ErrAttemptsExhausted
		}

		quiz, err := s.generateVersion(ctx, lesson, student, next, askedQuestions(versions))
		if err != nil {
			return nil, err
		}

		err = s.Store.CreateQuiz(ctx, quiz)
		if err == nil {
			s.log.Info("quiz version created",
				zap.String("quiz_id", quiz.ID),
				zap.String("lesson_id", lessonID),
				zap.String("student_id", studentID),
				zap.Int("version", next))
			return &QuizAssignment{Quiz: quiz}, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
		}
		s.log.Info("quiz version taken by concurrent request",
			zap.String("lesson_id", lessonID),
			zap.String("student_id", studentID),
			zap.Int("version", next))
	}
	return nil, fmt.Errorf("%w: quiz version allocation kept conflicting", util.ErrPersistenceFailed)
}

// SubmitResponses 评分并定稿测验；未通过且还有次数时生成下一版本。
// 反馈与重新出题都是尽力而为，失败不影响评分结果。
func (s *QuizService) SubmitResponses(ctx context.Context, quizID, studentID string, responses []ResponseReq) (*SubmissionResult, error) {
	ctx, span := tracing.Start(ctx, "QuizService.SubmitResponses", attribute.String("quiz.id", quizID))
	result, err := s.submitResponses(ctx, quizID, studentID, responses)
	tracing.End(span, err)
	return result, err
}

func (s *QuizService) submitResponses(ctx context.Context, quizID, studentID string, responses []ResponseReq) (*SubmissionResult, error) {
	quiz, err := s.ownedQuiz(ctx, quizID, studentID)
	if err != nil {
		return nil, err
	}
	if quiz.IsTemplate() {
		return nil, fmt.Errorf("%w: template quiz cannot be attempted", util.ErrInvalidSubmission)
	}
	if quiz.Submitted() {
		return nil, util.ErrQuizAlreadySubmitted
	}

	graded, correct, err := grade(quiz, responses)
	if err != nil {
		return nil, err
	}

	policy := s.Policy()
	score := Score(correct, len(quiz.Questions))
	end := s.now()
	quiz.Responses = graded
	quiz.Score = &score
	quiz.Passed = score >= policy.PassingScore
	quiz.EndTime = &end
	quiz.TimeTakenSeconds = int(math.Max(0, end.Sub(quiz.StartTime).Seconds()))
	quiz.Feedback = s.feedback(ctx, quiz)

	if err := s.Store.SubmitQuiz(ctx, quiz); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadySubmitted):
			return nil, util.ErrQuizAlreadySubmitted
		case errors.Is(err, repository.ErrRecordNotFound):
			return nil, util.ErrQuizNotFound
		}
		return nil, fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
	}
	monitoring.QuizSubmissions.WithLabelValues(strconv.FormatBool(quiz.Passed)).Inc()

	s.log.Info("quiz submitted",
		zap.String("quiz_id", quiz.ID),
		zap.String("student_id", quiz.StudentID),
		zap.Int("version", quiz.Version),
		zap.Float64("score", score),
		zap.Bool("passed", quiz.Passed))

	result := &SubmissionResult{Attempt: quiz, Feedback: quiz.Feedback}
	if !quiz.Passed && quiz.Version < policy.MaxAttempts {
		result.RegeneratedQuiz = s.regenerate(ctx, quiz, policy)
	}
	return result, nil
}

// GetAttempt 返回学生本人的一次测验
func (s *QuizService) GetAttempt(ctx context.Context, quizID, studentID string) (*model.Quiz, error) {
	return s.ownedQuiz(ctx, quizID, studentID)
}

// ownedQuiz studentID 为空时不校验归属
func (s *QuizService) ownedQuiz(ctx context.Context, quizID, studentID string) (*model.Quiz, error) {
	quiz, err := s.Store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, lookupErr(err, util.ErrQuizNotFound)
	}
	// 不暴露其他学生的测验是否存在
	if studentID != "" && quiz.StudentID != studentID {
		return nil, util.ErrQuizNotFound
	}
	return quiz, nil
}

// ListAttempts lessonID 为空时返回该学生的全部测验
func (s *QuizService) ListAttempts(ctx context.Context, studentID, lessonID string) ([]model.Quiz, error) {
	q := repository.QuizQuery{Index: repository.QuizByStudent, StudentID: studentID}
	if lessonID != "" {
		q = repository.QuizQuery{Index: repository.QuizByLessonStudent, LessonID: lessonID, StudentID: studentID}
	}

	quizzes, err := collect(ctx, func(ctx context.Context, page repository.Page) (*repository.PageResult[model.Quiz], error) {
		return s.Store.QueryQuizzes(ctx, q, page)
	}, repository.DefaultPageSize, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
	}

	sort.SliceStable(quizzes, func(i, j int) bool {
		if !quizzes[i].StartTime.Equal(quizzes[j].StartTime) {
			return quizzes[i].StartTime.Before(quizzes[j].StartTime)
		}
		return quizzes[i].Version < quizzes[j].Version
	})
	return quizzes, nil
}

// regenerate 读取当前最大版本后分配下一版本；任何失败只记录日志并返回 nil
func (s *QuizService) regenerate(ctx context.Context, submitted *model.Quiz, policy QuizPolicy) *model.Quiz {
	log := s.log.With(
		zap.String("lesson_id", submitted.LessonID),
		zap.String("student_id", submitted.StudentID),
		zap.Int("failed_version", submitted.Version))

	quiz, err := s.regenerateVersion(ctx, submitted, policy)
	switch {
	case err != nil:
		monitoring.QuizRegenerations.WithLabelValues("failed").Inc()
		log.Warn("quiz regeneration failed, returning submission without a new version", zap.Error(err))
		return nil
	case quiz == nil:
		monitoring.QuizRegenerations.WithLabelValues("skipped").Inc()
		return nil
	}

	monitoring.QuizRegenerations.WithLabelValues("created").Inc()
	log.Info("quiz regenerated", zap.String("quiz_id", quiz.ID), zap.Int("version", quiz.Version))
	return quiz
}

func (s *QuizService) regenerateVersion(ctx context.Context, submitted *model.Quiz, policy QuizPolicy) (*model.Quiz, error) {
	lesson, err := s.Store.GetLesson(ctx, submitted.LessonID)
	if err != nil {
		return nil, err
	}
	student, err := s.Store.GetStudent(ctx, submitted.StudentID)
	if err != nil {
		return nil, err
	}

	versions, err := s.versions(ctx, submitted.LessonID, submitted.StudentID)
	if err != nil {
		return nil, err
	}
	if passedVersion(versions) != nil {
		return nil, nil
	}
	if latest := latestVersion(versions); latest != nil && !latest.Submitted() {
		return latest, nil
	}
	next := nextVersion(versions)
	if next > policy.MaxAttempts {
		return nil, nil
	}

	quiz, err := s.generateVersion(ctx, lesson, student, next, askedQuestions(versions))
	if err != nil {
		return nil, err
	}
	err = s.Store.CreateQuiz(ctx, quiz)
	if errors.Is(err, repository.ErrVersionConflict) {
		versions, err = s.versions(ctx, submitted.LessonID, submitted.StudentID)
		if err != nil {
			return nil, err
		}
		if latest := latestVersion(versions); latest != nil && !latest.Submitted() {
			return latest, nil
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return quiz, nil
}

// generateVersion 出题并组装新版本；若生成器返回与历史完全相同的题目则再试一次
func (s *QuizService) generateVersion(ctx context.Context, lesson *model.Lesson, student *model.Student, version int, asked []string) (*model.Quiz, error) {
	req := generator.QuizRequest{
		LessonContent: lesson.ContentText(),
		GradeLevel:    student.GradeLevel,
		Language:      lesson.Language,
		Avoid:         asked,
	}

	var drafts []generator.QuestionDraft
	for attempt := 0; attempt < 2; attempt++ {
		var err error
		drafts, err = s.Generator.GenerateQuizQuestions(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(drafts) == 0 {
			return nil, fmt.Errorf("%w: no quiz questions generated", generator.ErrGenerationFailed)
		}
		if !repeatsAsked(drafts, asked) {
			return &model.Quiz{
				LessonID:    lesson.ID,
				StudentID:   student.ID,
				SubjectID:   lesson.SubjectID,
				Version:     version,
				Questions:   toQuizQuestions(drafts),
				StartTime:   s.now(),
				AIGenerated: true,
			}, nil
		}
		s.log.Warn("generator repeated previous questions",
			zap.String("lesson_id", lesson.ID),
			zap.Int("version", version),
			zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("%w: generator kept repeating previous questions", generator.ErrGenerationFailed)
}

func (s *QuizService) feedback(ctx context.Context, quiz *model.Quiz) string {
	answers := make(map[string]string, len(quiz.Responses))
	for _, r := range quiz.Responses {
		answers[r.QuestionID] = r.Answer
	}
	studentAnswers := make([]string, len(quiz.Questions))
	correctAnswers := make([]string, len(quiz.Questions))
	for i, q := range quiz.Questions {
		studentAnswers[i] = answers[q.ID]
		correctAnswers[i] = q.CorrectAnswer
	}

	text, err := s.Generator.GenerateFeedback(ctx, studentAnswers, correctAnswers)
	if err != nil {
		s.log.Warn("feedback generation failed", zap.String("quiz_id", quiz.ID), zap.Error(err))
		return ""
	}
	return text
}

func (s *QuizService) versions(ctx context.Context, lessonID, studentID string) ([]model.Quiz, error) {
	q := repository.QuizQuery{Index: repository.QuizByLessonStudent, LessonID: lessonID, StudentID: studentID}
	quizzes, err := collect(ctx, func(ctx context.Context, page repository.Page) (*repository.PageResult[model.Quiz], error) {
		return s.Store.QueryQuizzes(ctx, q, page)
	}, repository.DefaultPageSize, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
	}
	return quizzes, nil
}

// grade 每道题只计一次，重复作答以第一次为准；未作答的题目算错
func grade(quiz *model.Quiz, responses []ResponseReq) ([]model.QuizResponse, int, error) {
	graded := make([]model.QuizResponse, 0, len(responses))
	seen := make(map[string]bool, len(responses))
	correct := 0
	for _, r := range responses {
		question, ok := quiz.Question(r.QuestionID)
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s", util.ErrQuestionNotFound, r.QuestionID)
		}
		if seen[r.QuestionID] {
			continue
		}
		seen[r.QuestionID] = true

		isCorrect := model.AnswersMatch(r.Answer, question.CorrectAnswer)
		if isCorrect {
			correct++
		}
		graded = append(graded, model.QuizResponse{
			QuestionID: r.QuestionID,
			Answer:     r.Answer,
			IsCorrect:  isCorrect,
		})
	}
	return graded, correct, nil
}

// Score 百分制，保留两位小数；没有题目时为 0
func Score(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(correct) * 100 / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func passedVersion(versions []model.Quiz) *model.Quiz {
	for i := range versions {
		if versions[i].Passed {
			return &versions[i]
		}
	}
	return nil
}

func latestVersion(versions []model.Quiz) *model.Quiz {
	var latest *model.Quiz
	for i := range versions {
		if latest == nil || versions[i].Version > latest.Version {
			latest = &versions[i]
		}
	}
	return latest
}

func nextVersion(versions []model.Quiz) int {
	if latest := latestVersion(versions); latest != nil {
		return latest.Version + 1
	}
	return 1
}

func askedQuestions(versions []model.Quiz) []string {
	var asked []string
	for _, v := range versions {
		for _, q := range v.Questions {
			asked = append(asked, q.Text)
		}
	}
	return asked
}

// repeatsAsked 新题目全部在历史中出现过即视为重复
func repeatsAsked(drafts []generator.QuestionDraft, asked []string) bool {
	if len(asked) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(asked))
	for _, a := range asked {
		set[normalizeQuestion(a)] = struct{}{}
	}
	for _, d := range drafts {
		if _, ok := set[normalizeQuestion(d.QuestionText)]; !ok {
			return false
		}
	}
	return true
}

func normalizeQuestion(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
