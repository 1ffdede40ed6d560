package service

import (
	"context"
	"eduai_backend/internal/generator"
	"eduai_backend/internal/model"
	"eduai_backend/internal/repository"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// --- 测试用存储：sqlite 内存库 + 故障注入 ---

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 共享缓存下并发写会报 table locked，串行化连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, repository.AutoMigrate(db))
	return db
}

type faultStore struct {
	repository.Store

	mu               sync.Mutex
	commitErr        error
	putLessonErr     error
	quizQueryFails   int
	beforeCreateQuiz func(ctx context.Context, quiz *model.Quiz)
}

func newFaultStore(t *testing.T) *faultStore {
	return &faultStore{Store: repository.NewGormStore(setupTestDB(t))}
}

func (f *faultStore) setPutLessonErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLessonErr = err
}

func (f *faultStore) PutLesson(ctx context.Context, lesson *model.Lesson) error {
	f.mu.Lock()
	err := f.putLessonErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.PutLesson(ctx, lesson)
}

func (f *faultStore) QueryQuizzes(ctx context.Context, q repository.QuizQuery, page repository.Page) (*repository.PageResult[model.Quiz], error) {
	f.mu.Lock()
	if f.quizQueryFails > 0 {
		f.quizQueryFails--
		f.mu.Unlock()
		return nil, fmt.Errorf("injected query failure")
	}
	f.mu.Unlock()
	return f.Store.QueryQuizzes(ctx, q, page)
}

func (f *faultStore) CreateQuiz(ctx context.Context, quiz *model.Quiz) error {
	f.mu.Lock()
	hook := f.beforeCreateQuiz
	f.beforeCreateQuiz = nil
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, quiz)
	}
	return f.Store.CreateQuiz(ctx, quiz)
}

func (f *faultStore) Begin(ctx context.Context) repository.Tx {
	tx := f.Store.Begin(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return &failingTx{Tx: tx, err: f.commitErr}
	}
	return tx
}

type failingTx struct {
	repository.Tx
	err error
}

func (t *failingTx) Commit(ctx context.Context) error {
	t.Tx.Rollback()
	return t.err
}

// manualScheduler 收集后台任务，由测试显式执行
type manualScheduler struct {
	mu   sync.Mutex
	jobs []func(ctx context.Context)
}

func (m *manualScheduler) Go(_ string, fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, fn)
}

func (m *manualScheduler) runAll(ctx context.Context) {
	m.mu.Lock()
	jobs := m.jobs
	m.jobs = nil
	m.mu.Unlock()
	for _, fn := range jobs {
		fn(ctx)
	}
}

// --- 测试数据 ---

func seedStudent(t *testing.T, store repository.Store, grade int, language string, subjectIDs ...string) *model.Student {
	t.Helper()
	student := &model.Student{Name: "Ada", GradeLevel: grade, Language: language}
	enrolled := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range subjectIDs {
		student.Enrollments = append(student.Enrollments, model.Enrollment{
			SubjectID:  id,
			EnrolledAt: enrolled.Add(time.Duration(i) * time.Hour),
		})
	}
	require.NoError(t, store.PutStudent(context.Background(), student))
	return student
}

func seedSubject(t *testing.T, store repository.Store, name string) *model.Subject {
	t.Helper()
	subject := &model.Subject{Name: name, GradeLevel: 5, Language: "English"}
	require.NoError(t, store.PutSubject(context.Background(), subject))
	return subject
}

func seedLesson(t *testing.T, store repository.Store, subjectID, language string, status model.LessonStatus, order int) *model.Lesson {
	t.Helper()
	content := "Fractions describe parts of a whole."
	lesson := &model.Lesson{
		SubjectID: subjectID,
		Title:     fmt.Sprintf("Lesson %d", order),
		Language:  language,
		Content:   &content,
		Status:    status,
		Order:     order,
	}
	require.NoError(t, store.PutLesson(context.Background(), lesson))
	return lesson
}

func seedAttempt(t *testing.T, store repository.Store, lesson *model.Lesson, studentID string, version int, score float64, passed bool, end time.Time) *model.Quiz {
	t.Helper()
	quiz := &model.Quiz{
		LessonID:  lesson.ID,
		StudentID: studentID,
		SubjectID: lesson.SubjectID,
		Version:   version,
		Questions: []model.QuizQuestion{{ID: "q1", Text: "Q?", Type: model.QuestionTypeMCQ, CorrectAnswer: "A"}},
		Score:     &score,
		Passed:    passed,
		StartTime: end.Add(-5 * time.Minute),
		EndTime:   &end,
	}
	require.NoError(t, store.CreateQuiz(context.Background(), quiz))
	return quiz
}

// questionSet 生成 n 道题，prefix 区分不同版本的题目
func questionSet(prefix string, n int) []generator.QuestionDraft {
	drafts := make([]generator.QuestionDraft, n)
	for i := range drafts {
		drafts[i] = generator.QuestionDraft{
			QuestionText:  fmt.Sprintf("%s question %d", prefix, i+1),
			Options:       []string{"A", "B", "C", "D"},
			QuestionType:  model.QuestionTypeMCQ,
			CorrectAnswer: "A",
		}
	}
	return drafts
}

func taskSet(n int) []generator.TaskDraft {
	drafts := make([]generator.TaskDraft, n)
	for i := range drafts {
		drafts[i] = generator.TaskDraft{
			Title:      fmt.Sprintf("Task %d", i+1),
			Content:    "Solve it",
			Difficulty: "EA",
			Solution:   "42",
		}
	}
	return drafts
}

// answers 前 correct 道答对，其余答错
func answers(quiz *model.Quiz, correct int) []ResponseReq {
	out := make([]ResponseReq, len(quiz.Questions))
	for i, q := range quiz.Questions {
		answer := "wrong"
		if i < correct {
			answer = "  " + strings.ToLower(q.CorrectAnswer) + " "
		}
		out[i] = ResponseReq{QuestionID: q.ID, Answer: answer}
	}
	return out
}
