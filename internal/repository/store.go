package repository

import (
	"context"
	"eduai_backend/internal/model"
	"errors"
	"strconv"
)

var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrVersionConflict  = errors.New("quiz version already exists")
	ErrAlreadySubmitted = errors.New("quiz already submitted")
	ErrTxClosed         = errors.New("transaction already committed or rolled back")
	ErrUnsupportedType  = errors.New("unsupported entity type")
)

// Store 是两种持久化后端（gorm / redis）共同实现的存储能力。
// 批量读取只能走二级索引查询，不允许全表扫描。
type Store interface {
	GetLesson(ctx context.Context, id string) (*model.Lesson, error)
	PutLesson(ctx context.Context, lesson *model.Lesson) error
	NextLessonOrder(ctx context.Context, subjectID string) (int, error)
	QueryLessons(ctx context.Context, q LessonQuery, page Page) (*PageResult[model.Lesson], error)

	QueryPracticeTasks(ctx context.Context, lessonID string) ([]model.PracticeTask, error)

	GetQuiz(ctx context.Context, id string) (*model.Quiz, error)
	QueryQuizzes(ctx context.Context, q QuizQuery, page Page) (*PageResult[model.Quiz], error)
	// CreateQuiz 仅当 (lesson, student, version) 未被占用时写入，否则返回 ErrVersionConflict
	CreateQuiz(ctx context.Context, quiz *model.Quiz) error
	// SubmitQuiz 仅当测验尚未提交时写入作答结果，否则返回 ErrAlreadySubmitted
	SubmitQuiz(ctx context.Context, quiz *model.Quiz) error

	GetSubject(ctx context.Context, id string) (*model.Subject, error)
	PutSubject(ctx context.Context, subject *model.Subject) error
	GetStudent(ctx context.Context, id string) (*model.Student, error)
	PutStudent(ctx context.Context, student *model.Student) error

	Begin(ctx context.Context) Tx
}

// Tx 有界的多记录原子写：Stage 暂存，Commit 全部生效或全部不生效
type Tx interface {
	Stage(entity any) error
	Commit(ctx context.Context) error
	Rollback()
}

type LessonQuery struct {
	SubjectID string
	// Language 为空时返回该科目下所有语言的课程
	Language string
}

type QuizIndex int

const (
	QuizByLessonStudent QuizIndex = iota
	QuizBySubjectStudent
	QuizByStudent
)

func (i QuizIndex) String() string {
	switch i {
	case QuizByLessonStudent:
		return "lesson_student"
	case QuizBySubjectStudent:
		return "subject_student"
	case QuizByStudent:
		return "student"
	}
	return "unknown"
}

type QuizQuery struct {
	Index     QuizIndex
	LessonID  string
	SubjectID string
	StudentID string
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Page 游标为偏移量的字符串形式，空串表示第一页
type Page struct {
	Cursor string
	Limit  int
}

type PageResult[T any] struct {
	Items      []T
	NextCursor string
}

func (r *PageResult[T]) Done() bool {
	return r.NextCursor == ""
}

func (p Page) bounds() (offset, limit int, err error) {
	limit = p.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if p.Cursor == "" {
		return 0, limit, nil
	}
	offset, err = strconv.Atoi(p.Cursor)
	if err != nil || offset < 0 {
		return 0, 0, errors.New("invalid page cursor")
	}
	return offset, limit, nil
}

// newPageResult items 多取一条用于判断是否还有下一页
func newPageResult[T any](items []T, offset, limit int) *PageResult[T] {
	if len(items) > limit {
		return pageOf(items[:limit], true, offset, limit)
	}
	return pageOf(items, false, offset, limit)
}

// pageOf more 由调用方按索引成员数判断
func pageOf[T any](items []T, more bool, offset, limit int) *PageResult[T] {
	res := &PageResult[T]{Items: items}
	if more {
		res.NextCursor = strconv.Itoa(offset + limit)
	}
	return res
}
