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
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	maxPracticeTasks    = 5
	maxFailureReason    = 500
	failurePersistTries = 3
)

// Scheduler 后台执行器，生产环境为 *Runner
type Scheduler interface {
	Go(name string, fn func(ctx context.Context))
}

type LessonService struct {
	Store     repository.Store
	Generator generator.Client
	Scheduler Scheduler

	log *zap.Logger
	now func() time.Time
}

func NewLessonService(store repository.Store, gen generator.Client, scheduler Scheduler, log *zap.Logger) *LessonService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LessonService{
		Store:     store,
		Generator: gen,
		Scheduler: scheduler,
		log:       log.Named("lesson"),
		now:       time.Now,
	}
}

type StartLessonReq struct {
	SubjectID    string `json:"-"`
	SubjectName  string `json:"subjectName"`
	GradeLevel   int    `json:"gradeLevel"`
	Language     string `json:"language"`
	InstructorID string `json:"-"`
	Title        string `json:"title" binding:"required"`
}

type LessonDetail struct {
	Lesson *model.Lesson        `json:"lesson"`
	Tasks  []model.PracticeTask `json:"practiceTasks"`
}

// lessonJob 后台生成所需的全部输入，placeholder 为已落库的待生成记录
type lessonJob struct {
	placeholder model.Lesson
	subjectName string
	gradeLevel  int
}

// StartLesson 立即落库一条 pending 课程并返回，正文、练习与模板测验在后台生成
func (s *LessonService) StartLesson(ctx context.Context, req StartLessonReq) (*model.Lesson, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.SubjectID == "" || req.Title == "" {
		return nil, fmt.Errorf("%w: subject and title are required", util.ErrInvalidInput)
	}
	if req.Language == "" {
		req.Language = "English"
	}

	subject, err := s.Store.GetSubject(ctx, req.SubjectID)
	if err != nil {
		return nil, lookupErr(err, util.ErrSubjectNotFound)
	}
	if req.SubjectName == "" {
		req.SubjectName = subject.Name
	}
	if req.GradeLevel == 0 {
		req.GradeLevel = subject.GradeLevel
	}

	order, err := s.Store.NextLessonOrder(ctx, req.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
	}

	placeholder := model.LessonPlaceholderContent
	lesson := &model.Lesson{
		SubjectID:    req.SubjectID,
		InstructorID: req.InstructorID,
		Title:        req.Title,
		Language:     req.Language,
		Content:      &placeholder,
		Status:       model.LessonPending,
		Order:        order,
	}
	if err := s.Store.PutLesson(ctx, lesson); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
	}

	s.log.Info("lesson accepted",
		zap.String("lesson_id", lesson.ID),
		zap.String("subject_id", lesson.SubjectID),
		zap.Int("order", lesson.Order))

	s.schedule(lessonJob{placeholder: *lesson, subjectName: req.SubjectName, gradeLevel: req.GradeLevel})
	return lesson, nil
}

// RetryLesson 仅允许对生成失败的课程重新生成
func (s *LessonService) RetryLesson(ctx context.Context, lessonID string) (*model.Lesson, error) {
	lesson, err := s.Store.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, lookupErr(err, util.ErrLessonNotFound)
	}
	if lesson.Status != model.LessonFailed {
		return nil, util.ErrLessonNotRetryable
	}

	subject, err := s.Store.GetSubject(ctx, lesson.SubjectID)
	if err != nil {
		return nil, lookupErr(err, util.ErrSubjectNotFound)
	}

	placeholder := model.LessonPlaceholderContent
	lesson.Content = &placeholder
	lesson.Status = model.LessonPending
	lesson.FailureReason = ""
	if err := s.Store.PutLesson(ctx, lesson); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
	}

	s.log.Info("lesson retry accepted", zap.String("lesson_id", lesson.ID))
	s.schedule(lessonJob{placeholder: *lesson, subjectName: subject.Name, gradeLevel: subject.GradeLevel})
	return lesson, nil
}

// GetLesson 生成完成前不返回练习题
func (s *LessonService) GetLesson(ctx context.Context, lessonID string) (*LessonDetail, error) {
	lesson, err := s.Store.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, lookupErr(err, util.ErrLessonNotFound)
	}

	detail := &LessonDetail{Lesson: lesson, Tasks: []model.PracticeTask{}}
	if !lesson.Status.VisibleToStudents() {
		return detail, nil
	}

	tasks, err := s.Store.QueryPracticeTasks(ctx, lesson.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
	}
	detail.Tasks = tasks
	return detail, nil
}

func (s *LessonService) schedule(job lessonJob) {
	s.Scheduler.Go("lesson.generate", func(ctx context.Context) {
		s.completeLessonContent(ctx, job)
	})
}

// completeLessonContent 后台流水线：正文 -> 练习题 -> 模板测验，全部成功后一次性提交。
// 任何一步失败都不落部分结果，课程标记为 failed。
func (s *LessonService) completeLessonContent(ctx context.Context, job lessonJob) {
	start := s.now()
	ctx, span := tracing.Start(ctx, "LessonService.completeLessonContent",
		attribute.String("lesson.id", job.placeholder.ID))

	err := s.recoverGenerate(ctx, job)
	tracing.End(span, err)

	log := s.log.With(
		zap.String("lesson_id", job.placeholder.ID),
		zap.Duration("elapsed", s.now().Sub(start)))
	if err != nil {
		monitoring.LessonGenerations.WithLabelValues(string(model.LessonFailed)).Inc()
		log.Error("lesson generation failed", zap.Error(err))
		s.markFailed(ctx, job.placeholder, err)
		return
	}

	monitoring.LessonGenerations.WithLabelValues(string(model.LessonDraft)).Inc()
	log.Info("lesson generated")
}

// recoverGenerate 把流水线中的 panic 转为生成失败，保证课程不会停留在 pending
func (s *LessonService) recoverGenerate(ctx context.Context, job lessonJob) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("lesson generation panicked",
				zap.String("lesson_id", job.placeholder.ID),
				zap.Any("panic", p),
				zap.Stack("stack"))
			err = fmt.Errorf("%w: panic: %v", generator.ErrGenerationFailed, p)
		}
	}()
	return s.generateAndCommit(ctx, job)
}

func (s *LessonService) generateAndCommit(ctx context.Context, job lessonJob) error {
	lesson := job.placeholder

	body, err := s.Generator.GenerateLesson(ctx, generator.LessonRequest{
		Title:      lesson.Title,
		GradeLevel: job.gradeLevel,
		Language:   lesson.Language,
		Subject:    job.subjectName,
	})
	if err != nil {
		return err
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: empty lesson content", generator.ErrGenerationFailed)
	}

	drafts, err := s.Generator.GeneratePracticeTasks(ctx, generator.ContentRequest{
		LessonContent: body,
		GradeLevel:    job.gradeLevel,
		Language:      lesson.Language,
	})
	if err != nil {
		return err
	}
	if len(drafts) == 0 {
		return fmt.Errorf("%w: no practice tasks generated", generator.ErrGenerationFailed)
	}
	if len(drafts) > maxPracticeTasks {
		drafts = drafts[:maxPracticeTasks]
	}

	questions, err := s.Generator.GenerateQuizQuestions(ctx, generator.QuizRequest{
		LessonContent: body,
		GradeLevel:    job.gradeLevel,
		Language:      lesson.Language,
	})
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return fmt.Errorf("%w: no quiz questions generated", generator.ErrGenerationFailed)
	}

	now := s.now()
	lesson.Content = &body
	lesson.Status = model.LessonDraft
	lesson.FailureReason = ""
	lesson.GeneratedAt = &now

	tx := s.Store.Begin(ctx)
	staged := []any{&lesson}
	for _, d := range drafts {
		staged = append(staged, &model.PracticeTask{
			LessonID:    lesson.ID,
			Title:       d.Title,
			Content:     d.Content,
			Solution:    d.Solution,
			Difficulty:  model.ParseDifficulty(d.Difficulty),
			AIGenerated: true,
		})
	}
	staged = append(staged, &model.Quiz{
		LessonID:    lesson.ID,
		SubjectID:   lesson.SubjectID,
		Version:     1,
		Questions:   toQuizQuestions(questions),
		StartTime:   now,
		AIGenerated: true,
	})

	for _, e := range staged {
		if err := tx.Stage(e); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
	}
	return nil
}

// markFailed 写入 failed 状态；写入本身失败时重试，最终仍失败则告警
func (s *LessonService) markFailed(ctx context.Context, lesson model.Lesson, cause error) {
	lesson.Status = model.LessonFailed
	lesson.Content = nil
	lesson.FailureReason = truncate(cause.Error(), maxFailureReason)

	// 进程关闭导致的取消也要把状态写回去
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 0; attempt < failurePersistTries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		putCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = s.Store.PutLesson(putCtx, &lesson)
		cancel()
		if err == nil {
			return
		}
	}

	monitoring.LessonStatusPersistFailures.Inc()
	s.log.Error("failed to persist failed lesson status, lesson remains pending",
		zap.String("lesson_id", lesson.ID),
		zap.NamedError("cause", cause),
		zap.Error(err))
}

func toQuizQuestions(drafts []generator.QuestionDraft) []model.QuizQuestion {
	questions := make([]model.QuizQuestion, 0, len(drafts))
	for _, d := range drafts {
		qType := d.QuestionType
		if qType == "" {
			qType = model.QuestionTypeMCQ
		}
		questions = append(questions, model.QuizQuestion{
			ID:            model.GenerateUUID(),
			Text:          d.QuestionText,
			Type:          qType,
			Options:       d.Options,
			CorrectAnswer: d.CorrectAnswer,
		})
	}
	return questions
}

// lookupErr 把存储层的未找到映射为领域错误，其余视为持久化失败
func lookupErr(err, notFound error) error {
	if errors.Is(err, repository.ErrRecordNotFound) {
		return notFound
	}
	return fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
}

// truncate 按字节截断，回退到字符边界，避免写入非法 UTF-8
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
