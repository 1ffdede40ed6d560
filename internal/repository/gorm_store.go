package repository

import (
	"context"
	"eduai_backend/internal/model"
	"fmt"

	"gorm.io/gorm"
)

// GormStore 关系型后端，原子写使用数据库原生事务
type GormStore struct {
	DB       *gorm.DB
	lessons  *LessonRepository
	tasks    *PracticeTaskRepository
	quizzes  *QuizRepository
	subjects *SubjectRepository
	students *StudentRepository
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		DB:       db,
		lessons:  NewLessonRepository(db),
		tasks:    NewPracticeTaskRepository(db),
		quizzes:  NewQuizRepository(db),
		subjects: NewSubjectRepository(db),
		students: NewStudentRepository(db),
	}
}

// AutoMigrate 创建核心表及索引
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Subject{},
		&model.Student{},
		&model.Enrollment{},
		&model.Lesson{},
		&model.PracticeTask{},
		&model.Quiz{},
	)
}

func (s *GormStore) GetLesson(ctx context.Context, id string) (*model.Lesson, error) {
	return s.lessons.FindByID(ctx, id)
}

func (s *GormStore) PutLesson(ctx context.Context, lesson *model.Lesson) error {
	return s.lessons.Save(ctx, lesson)
}

func (s *GormStore) NextLessonOrder(ctx context.Context, subjectID string) (int, error) {
	return s.lessons.NextOrder(ctx, subjectID)
}

func (s *GormStore) QueryLessons(ctx context.Context, q LessonQuery, page Page) (*PageResult[model.Lesson], error) {
	offset, limit, err := page.bounds()
	if err != nil {
		return nil, err
	}
	lessons, err := s.lessons.FindBySubject(ctx, q, offset, limit)
	if err != nil {
		return nil, err
	}
	return newPageResult(lessons, offset, limit), nil
}

func (s *GormStore) QueryPracticeTasks(ctx context.Context, lessonID string) ([]model.PracticeTask, error) {
	return s.tasks.FindByLesson(ctx, lessonID)
}

func (s *GormStore) GetQuiz(ctx context.Context, id string) (*model.Quiz, error) {
	return s.quizzes.FindByID(ctx, id)
}

func (s *GormStore) QueryQuizzes(ctx context.Context, q QuizQuery, page Page) (*PageResult[model.Quiz], error) {
	offset, limit, err := page.bounds()
	if err != nil {
		return nil, err
	}
	quizzes, err := s.quizzes.Find(ctx, q, offset, limit)
	if err != nil {
		return nil, err
	}
	return newPageResult(quizzes, offset, limit), nil
}

func (s *GormStore) CreateQuiz(ctx context.Context, quiz *model.Quiz) error {
	return s.quizzes.Create(ctx, quiz)
}

func (s *GormStore) SubmitQuiz(ctx context.Context, quiz *model.Quiz) error {
	return s.quizzes.Submit(ctx, quiz)
}

func (s *GormStore) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	return s.subjects.FindByID(ctx, id)
}

func (s *GormStore) PutSubject(ctx context.Context, subject *model.Subject) error {
	return s.subjects.Save(ctx, subject)
}

func (s *GormStore) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	return s.students.FindByID(ctx, id)
}

func (s *GormStore) PutStudent(ctx context.Context, student *model.Student) error {
	return s.students.Save(ctx, student)
}

func (s *GormStore) Begin(ctx context.Context) Tx {
	return &gormTx{db: s.DB}
}

// gormTx 先暂存，Commit 时在单个数据库事务内落库
type gormTx struct {
	db     *gorm.DB
	staged []any
	closed bool
}

func (t *gormTx) Stage(entity any) error {
	if t.closed {
		return ErrTxClosed
	}
	switch entity.(type) {
	case *model.Lesson, *model.PracticeTask, *model.Quiz:
		t.staged = append(t.staged, entity)
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedType, entity)
}

func (t *gormTx) Commit(ctx context.Context) error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entity := range t.staged {
			var err error
			switch e := entity.(type) {
			case *model.Lesson:
				err = tx.Save(e).Error
			case *model.PracticeTask:
				err = tx.Create(e).Error
			case *model.Quiz:
				err = translateDuplicate(tx.Create(e).Error)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *gormTx) Rollback() {
	t.closed = true
	t.staged = nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
