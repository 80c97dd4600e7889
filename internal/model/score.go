package model

import "time"

// QuizScore 每个难度仅保留最近一次成绩
// swagger:model QuizScore
type QuizScore struct {
	BaseModel

	LearnerID  uint            `gorm:"uniqueIndex:idx_quiz_score_slot;type:bigint unsigned" json:"learnerId"`
	CourseID   string          `gorm:"uniqueIndex:idx_quiz_score_slot;size:64" json:"courseId"`
	Week       int             `gorm:"uniqueIndex:idx_quiz_score_slot" json:"week"`
	Difficulty DifficultyLevel `gorm:"uniqueIndex:idx_quiz_score_slot;size:20" json:"difficulty"`
	Percentage float64         `json:"percentage"`
	Passed     bool            `gorm:"default:false" json:"passed"`
	RecordedAt time.Time       `json:"recordedAt"`
}

func (QuizScore) TableName() string {
	return "quiz_scores"
}

// CodeScore 编程任务成绩；Score 覆盖为最近一次，BestScore 只增不减
// swagger:model CodeScore
type CodeScore struct {
	BaseModel

	LearnerID  uint      `gorm:"uniqueIndex:idx_code_score_slot;type:bigint unsigned" json:"learnerId"`
	CourseID   string    `gorm:"uniqueIndex:idx_code_score_slot;size:64" json:"courseId"`
	Week       int       `gorm:"uniqueIndex:idx_code_score_slot" json:"week"`
	TaskID     string    `gorm:"uniqueIndex:idx_code_score_slot;size:64" json:"taskId"`
	Score      float64   `json:"score"`
	BestScore  float64   `json:"bestScore"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (CodeScore) TableName() string {
	return "code_scores"
}
