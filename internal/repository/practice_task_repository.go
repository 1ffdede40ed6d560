package repository

import (
	"context"
	"eduai_backend/internal/model"

	"gorm.io/gorm"
)

type PracticeTaskRepository struct {
	DB *gorm.DB
}

func NewPracticeTaskRepository(db *gorm.DB) *PracticeTaskRepository {
	return &PracticeTaskRepository{DB: db}
}

func (r *PracticeTaskRepository) FindByLesson(ctx context.Context, lessonID string) ([]model.PracticeTask, error) {
	var tasks []model.PracticeTask
	err := r.DB.WithContext(ctx).
		Where("lesson_id = ?", lessonID).
		Order("created_at ASC").Order("id ASC").
		Find(&tasks).Error
	return tasks, err
}
