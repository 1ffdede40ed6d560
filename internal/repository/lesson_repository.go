package repository

import (
	"context"
	"eduai_backend/internal/model"
	"errors"

	"gorm.io/gorm"
)

type LessonRepository struct {
	DB *gorm.DB
}

func NewLessonRepository(db *gorm.DB) *LessonRepository {
	return &LessonRepository{DB: db}
}

func (r *LessonRepository) FindByID(ctx context.Context, id string) (*model.Lesson, error) {
	var lesson model.Lesson
	if err := r.DB.WithContext(ctx).First(&lesson, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &lesson, nil
}

func (r *LessonRepository) Save(ctx context.Context, lesson *model.Lesson) error {
	return r.DB.WithContext(ctx).Save(lesson).Error
}

func (r *LessonRepository) NextOrder(ctx context.Context, subjectID string) (int, error) {
	var max int
	err := r.DB.WithContext(ctx).Model(&model.Lesson{}).
		Where("subject_id = ?", subjectID).
		Select("COALESCE(MAX(order_in_subject), 0)").
		Scan(&max).Error
	return max + 1, err
}

// FindBySubject 走 (subject_id, language) 复合索引
func (r *LessonRepository) FindBySubject(ctx context.Context, q LessonQuery, offset, limit int) ([]model.Lesson, error) {
	db := r.DB.WithContext(ctx).Where("subject_id = ?", q.SubjectID)
	if q.Language != "" {
		db = db.Where("language = ?", q.Language)
	}

	var lessons []model.Lesson
	err := db.Order("order_in_subject ASC").Order("id ASC").
		Offset(offset).Limit(limit + 1).
		Find(&lessons).Error
	return lessons, err
}
