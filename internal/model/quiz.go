package model

import (
	"strings"
	"time"
)

const QuestionTypeMCQ = "MCQs"

type QuizQuestion struct {
	ID            string   `json:"id"`
	Text          string   `json:"questionText"`
	Type          string   `json:"questionType"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
}

type QuizResponse struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
	IsCorrect  bool   `json:"isCorrect"`
}

// swagger:model Quiz
// StudentID 为空表示课程生成时附带的模板测验
type Quiz struct {
	UUIDBase

	LessonID         string         `gorm:"size:36;not null;uniqueIndex:uq_quiz_version,priority:1" json:"lessonId"`
	StudentID        string         `gorm:"size:36;uniqueIndex:uq_quiz_version,priority:2;index:idx_quiz_subject_student,priority:2;index" json:"studentId"`
	Version          int            `gorm:"not null;uniqueIndex:uq_quiz_version,priority:3" json:"version"`
	SubjectID        string         `gorm:"size:36;index:idx_quiz_subject_student,priority:1" json:"subjectId"`
	Questions        []QuizQuestion `gorm:"type:json;serializer:json" json:"questions"`
	Responses        []QuizResponse `gorm:"type:json;serializer:json" json:"responses"`
	Score            *float64       `json:"score"`
	Passed           bool           `gorm:"default:false" json:"passed"`
	StartTime        time.Time      `json:"startTime"`
	EndTime          *time.Time     `json:"endTime,omitempty"`
	TimeTakenSeconds int            `json:"timeTakenSeconds"`
	Feedback         string         `gorm:"type:text" json:"feedback"`
	AIGenerated      bool           `gorm:"default:true" json:"aiGenerated"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// Submitted 首次提交后测验即定稿
func (q *Quiz) Submitted() bool {
	return q.EndTime != nil
}

func (q *Quiz) IsTemplate() bool {
	return q.StudentID == ""
}

func (q *Quiz) Question(id string) (QuizQuestion, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return QuizQuestion{}, false
}

// StudentView 返回给学生的副本：未提交的测验不暴露正确答案
func (q *Quiz) StudentView() *Quiz {
	out := *q
	out.Questions = make([]QuizQuestion, len(q.Questions))
	copy(out.Questions, q.Questions)
	if !q.Submitted() {
		for i := range out.Questions {
			out.Questions[i].CorrectAnswer = ""
		}
	}
	return &out
}

// AnswersMatch 去除首尾空白后忽略大小写比较
func AnswersMatch(answer, correct string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(correct))
}
