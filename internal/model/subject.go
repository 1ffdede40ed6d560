package model

import "time"

// swagger:model Subject
type Subject struct {
	UUIDBase

	Name        string `gorm:"size:100;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	GradeLevel  int    `gorm:"index" json:"gradeLevel"`
	Language    string `gorm:"size:32;default:'English'" json:"language"`
}

func (Subject) TableName() string {
	return "subjects"
}

// swagger:model Student
type Student struct {
	UUIDBase

	Name        string       `gorm:"size:100" json:"name"`
	GradeLevel  int          `json:"gradeLevel"`
	Language    string       `gorm:"size:32;default:'English'" json:"language"`
	Enrollments []Enrollment `gorm:"foreignKey:StudentID" json:"enrollments"`
}

func (Student) TableName() string {
	return "students"
}

type Enrollment struct {
	StudentID  string    `gorm:"primaryKey;size:36" json:"studentId"`
	SubjectID  string    `gorm:"primaryKey;size:36" json:"subjectId"`
	EnrolledAt time.Time `json:"enrolledAt"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}
