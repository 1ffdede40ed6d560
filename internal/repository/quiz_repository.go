package repository

import (
	"context"
	"eduai_backend/internal/model"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type QuizRepository struct {
	DB *gorm.DB
}

func NewQuizRepository(db *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: db}
}

func (r *QuizRepository) FindByID(ctx context.Context, id string) (*model.Quiz, error) {
	var quiz model.Quiz
	if err := r.DB.WithContext(ctx).First(&quiz, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &quiz, nil
}

// Create 依赖 uq_quiz_version 唯一索引保证版本号不重复
func (r *QuizRepository) Create(ctx context.Context, quiz *model.Quiz) error {
	return translateDuplicate(r.DB.WithContext(ctx).Create(quiz).Error)
}

// Submit 条件更新：只有 end_time 为空的测验才能写入作答结果
func (r *QuizRepository) Submit(ctx context.Context, quiz *model.Quiz) error {
	res := r.DB.WithContext(ctx).Model(quiz).
		Where("end_time IS NULL").
		Select("responses", "score", "passed", "end_time", "time_taken_seconds", "feedback").
		Updates(quiz)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, quiz.ID); err != nil {
			return err
		}
		return ErrAlreadySubmitted
	}
	return nil
}

func (r *QuizRepository) Find(ctx context.Context, q QuizQuery, offset, limit int) ([]model.Quiz, error) {
	db := r.DB.WithContext(ctx)
	switch q.Index {
	case QuizByLessonStudent:
		db = db.Where("lesson_id = ? AND student_id = ?", q.LessonID, q.StudentID).Order("version ASC")
	case QuizBySubjectStudent:
		db = db.Where("subject_id = ? AND student_id = ?", q.SubjectID, q.StudentID).Order("created_at ASC")
	case QuizByStudent:
		db = db.Where("student_id = ?", q.StudentID).Order("created_at ASC")
	default:
		return nil, fmt.Errorf("unknown quiz index %d", q.Index)
	}

	var quizzes []model.Quiz
	err := db.Order("id ASC").Offset(offset).Limit(limit + 1).Find(&quizzes).Error
	return quizzes, err
}

func translateDuplicate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrVersionConflict
	}
	// 未开启 TranslateError 时按驱动报错文本识别
	msg := err.Error()
	if strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed") {
		return ErrVersionConflict
	}
	return err
}
