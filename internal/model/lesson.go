package model

import "time"

type LessonStatus string

const (
	LessonPending   LessonStatus = "pending"
	LessonDraft     LessonStatus = "draft"
	LessonVerified  LessonStatus = "verified"
	LessonPublished LessonStatus = "published"
	LessonArchived  LessonStatus = "archived"
	LessonFailed    LessonStatus = "failed"
)

// LessonPlaceholderContent 生成完成之前 Content 的占位内容
const LessonPlaceholderContent = "Lesson content is being generated..."

// VisibleToStudents 待生成或生成失败的课程不对学生开放
func (s LessonStatus) VisibleToStudents() bool {
	switch s {
	case LessonDraft, LessonVerified, LessonPublished:
		return true
	}
	return false
}

// swagger:model Lesson
type Lesson struct {
	UUIDBase

	SubjectID     string       `gorm:"size:36;index:idx_lesson_subject_lang,priority:1;not null" json:"subjectId"`
	InstructorID  string       `gorm:"size:36;index" json:"instructorId"`
	Title         string       `gorm:"size:255;not null" json:"title"`
	Language      string       `gorm:"size:32;index:idx_lesson_subject_lang,priority:2" json:"language"`
	Content       *string      `gorm:"type:text" json:"content"`
	Status        LessonStatus `gorm:"size:16;index;default:'pending'" json:"status"`
	Order         int          `gorm:"column:order_in_subject;default:0" json:"order"`
	FailureReason string       `gorm:"size:512" json:"failureReason,omitempty"`
	GeneratedAt   *time.Time   `json:"generatedAt,omitempty"`
}

func (Lesson) TableName() string {
	return "lessons"
}

// ContentText 返回课程正文，未生成时为空字符串
func (l *Lesson) ContentText() string {
	if l.Content == nil {
		return ""
	}
	return *l.Content
}
