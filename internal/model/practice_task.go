package model

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty 兼容生成器返回的 EA/ME/HA 缩写，未知值按 medium 处理
func ParseDifficulty(s string) Difficulty {
	switch s {
	case "easy", "EA", "Easy":
		return DifficultyEasy
	case "hard", "HA", "Hard":
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}

// swagger:model PracticeTask
type PracticeTask struct {
	UUIDBase

	LessonID    string     `gorm:"size:36;index;not null" json:"lessonId"`
	Title       string     `gorm:"size:255" json:"title"`
	Content     string     `gorm:"type:text" json:"content"`
	Solution    string     `gorm:"type:text" json:"solution"`
	Difficulty  Difficulty `gorm:"size:8;default:'medium'" json:"difficulty"`
	AIGenerated bool       `gorm:"default:true" json:"aiGenerated"`
}

func (PracticeTask) TableName() string {
	return "practice_tasks"
}
