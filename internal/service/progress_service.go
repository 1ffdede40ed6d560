package service

import (
	"context"
	"eduai_backend/internal/model"
	"eduai_backend/internal/repository"
	"eduai_backend/internal/util"
	"eduai_backend/pkg/tracing"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	recentAttemptsLimit  = 5
	dashboardConcurrency = 4
)

type ProgressConfig struct {
	Location    *time.Location
	PageSize    int
	PageRetries int
}

// ProgressService 从测验记录实时汇总学习进度，不落地任何统计表
type ProgressService struct {
	Store repository.Store

	cfg ProgressConfig
	log *zap.Logger
}

func NewProgressService(store repository.Store, cfg ProgressConfig, log *zap.Logger) *ProgressService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = repository.DefaultPageSize
	}
	if cfg.PageRetries <= 0 {
		cfg.PageRetries = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ProgressService{Store: store, cfg: cfg, log: log.Named("progress")}
}

type LessonProgress struct {
	LessonID     string             `json:"lessonId"`
	Title        string             `json:"title"`
	Order        int                `json:"order"`
	Status       model.LessonStatus `json:"status"`
	QuizAttempts int                `json:"quizAttempts"`
	BestScore    float64            `json:"bestScore"`
	IsCompleted  bool               `json:"isCompleted"`
}

type SubjectDetail struct {
	SubjectID      string           `json:"subjectId"`
	SubjectName    string           `json:"subjectName"`
	Lessons        []LessonProgress `json:"lessons"`
	CompletedCount int              `json:"completedCount"`
	TotalCount     int              `json:"totalCount"`
	ProgressPct    float64          `json:"progressPct"`
}

type DashboardStats struct {
	CompletedLessons int     `json:"completedLessons"`
	TotalLessons     int     `json:"totalLessons"`
	AvgScore         float64 `json:"avgScore"`
	Streak           int     `json:"streak"`
}

type Dashboard struct {
	StudentID      string          `json:"studentId"`
	Enrollments    []SubjectDetail `json:"enrollments"`
	Stats          DashboardStats  `json:"stats"`
	RecentAttempts []model.Quiz    `json:"recentAttempts"`
}

func (s *ProgressService) ComputeSubjectDetail(ctx context.Context, subjectID, studentID string) (*SubjectDetail, error) {
	ctx, span := tracing.Start(ctx, "ProgressService.ComputeSubjectDetail",
		attribute.String("subject.id", subjectID),
		attribute.String("student.id", studentID))

	detail, err := s.computeSubjectDetail(ctx, subjectID, studentID)
	tracing.End(span, err)
	return detail, err
}

func (s *ProgressService) computeSubjectDetail(ctx context.Context, subjectID, studentID string) (*SubjectDetail, error) {
	subject, err := s.Store.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, lookupErr(err, util.ErrSubjectNotFound)
	}
	student, err := s.Store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, lookupErr(err, util.ErrStudentNotFound)
	}
	return s.subjectDetail(ctx, subject, student)
}

// ComputeDashboard 各已选科目并发汇总，再基于学生全部测验计算平均分与连续天数
func (s *ProgressService) ComputeDashboard(ctx context.Context, studentID string) (*Dashboard, error) {
	ctx, span := tracing.Start(ctx, "ProgressService.ComputeDashboard", attribute.String("student.id", studentID))
	dashboard, err := s.computeDashboard(ctx, studentID)
	tracing.End(span, err)
	return dashboard, err
}

func (s *ProgressService) computeDashboard(ctx context.Context, studentID string) (*Dashboard, error) {
	student, err := s.Store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, lookupErr(err, util.ErrStudentNotFound)
	}

	details := make([]*SubjectDetail, len(student.Enrollments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dashboardConcurrency)
	for i, enrollment := range student.Enrollments {
		i, enrollment := i, enrollment
		g.Go(func() error {
			subject, err := s.Store.GetSubject(gctx, enrollment.SubjectID)
			if errors.Is(err, repository.ErrRecordNotFound) {
				s.log.Warn("enrollment references missing subject",
					zap.String("student_id", studentID),
					zap.String("subject_id", enrollment.SubjectID))
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
			}
			detail, err := s.subjectDetail(gctx, subject, student)
			if err != nil {
				return err
			}
			details[i] = detail
			return nil
		})
	}

	var quizzes []model.Quiz
	g.Go(func() error {
		var err error
		quizzes, err = s.collectQuizzes(gctx, repository.QuizQuery{Index: repository.QuizByStudent, StudentID: studentID})
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	dashboard := &Dashboard{
		StudentID:      studentID,
		Enrollments:    make([]SubjectDetail, 0, len(details)),
		RecentAttempts: recentAttempts(quizzes, recentAttemptsLimit),
	}
	for _, d := range details {
		if d == nil {
			continue
		}
		dashboard.Enrollments = append(dashboard.Enrollments, *d)
		dashboard.Stats.CompletedLessons += d.CompletedCount
		dashboard.Stats.TotalLessons += d.TotalCount
	}
	dashboard.Stats.AvgScore = averageScore(quizzes)
	dashboard.Stats.Streak = LongestStreak(passedTimes(quizzes), s.cfg.Location)
	return dashboard, nil
}

// subjectDetail 只统计学生语言下对学生可见的课程
func (s *ProgressService) subjectDetail(ctx context.Context, subject *model.Subject, student *model.Student) (*SubjectDetail, error) {
	lessons, err := collect(ctx, func(ctx context.Context, page repository.Page) (*repository.PageResult[model.Lesson], error) {
		return s.Store.QueryLessons(ctx, repository.LessonQuery{SubjectID: subject.ID, Language: student.Language}, page)
	}, s.cfg.PageSize, s.cfg.PageRetries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
	}

	quizzes, err := s.collectQuizzes(ctx, repository.QuizQuery{
		Index:     repository.QuizBySubjectStudent,
		SubjectID: subject.ID,
		StudentID: student.ID,
	})
	if err != nil {
		return nil, err
	}

	// 按课程建立到测验下标的索引
	byLesson := make(map[string][]int, len(lessons))
	for i := range quizzes {
		byLesson[quizzes[i].LessonID] = append(byLesson[quizzes[i].LessonID], i)
	}

	detail := &SubjectDetail{
		SubjectID:   subject.ID,
		SubjectName: subject.Name,
		Lessons:     make([]LessonProgress, 0, len(lessons)),
	}
	for _, lesson := range lessons {
		if !lesson.Status.VisibleToStudents() {
			continue
		}
		lp := LessonProgress{
			LessonID: lesson.ID,
			Title:    lesson.Title,
			Order:    lesson.Order,
			Status:   lesson.Status,
		}
		for _, idx := range byLesson[lesson.ID] {
			q := &quizzes[idx]
			lp.QuizAttempts++
			if q.Score != nil && *q.Score > lp.BestScore {
				lp.BestScore = *q.Score
			}
			if q.Passed {
				lp.IsCompleted = true
			}
		}
		if lp.IsCompleted {
			detail.CompletedCount++
		}
		detail.Lessons = append(detail.Lessons, lp)
	}

	sort.SliceStable(detail.Lessons, func(i, j int) bool {
		return detail.Lessons[i].Order < detail.Lessons[j].Order
	})
	detail.TotalCount = len(detail.Lessons)
	if detail.TotalCount > 0 {
		detail.ProgressPct = round2(float64(detail.CompletedCount) * 100 / float64(detail.TotalCount))
	}
	return detail, nil
}

func (s *ProgressService) collectQuizzes(ctx context.Context, q repository.QuizQuery) ([]model.Quiz, error) {
	quizzes, err := collect(ctx, func(ctx context.Context, page repository.Page) (*repository.PageResult[model.Quiz], error) {
		return s.Store.QueryQuizzes(ctx, q, page)
	}, s.cfg.PageSize, s.cfg.PageRetries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrPersistenceFailed, err)
	}
	return quizzes, nil
}

// averageScore 所有有分数的测验（含未通过的）的算术平均
func averageScore(quizzes []model.Quiz) float64 {
	sum, n := 0.0, 0
	for _, q := range quizzes {
		if q.Score == nil {
			continue
		}
		sum += *q.Score
		n++
	}
	if n == 0 {
		return 0
	}
	return round2(sum / float64(n))
}

func passedTimes(quizzes []model.Quiz) []time.Time {
	var times []time.Time
	for _, q := range quizzes {
		if q.Passed && q.EndTime != nil {
			times = append(times, *q.EndTime)
		}
	}
	return times
}

func recentAttempts(quizzes []model.Quiz, limit int) []model.Quiz {
	submitted := make([]model.Quiz, 0, len(quizzes))
	for _, q := range quizzes {
		if q.Submitted() {
			submitted = append(submitted, q)
		}
	}
	sort.SliceStable(submitted, func(i, j int) bool {
		return submitted[i].EndTime.After(*submitted[j].EndTime)
	})
	if len(submitted) > limit {
		submitted = submitted[:limit]
	}
	return submitted
}
