package model

import (
	"encoding/json"

	"gorm.io/datatypes"
)

type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionTrueFalse    QuestionType = "true_false"
	QuestionOpenText     QuestionType = "open_text"
)

// Closed 选择题与判断题可在本地确定性判分
func (t QuestionType) Closed() bool {
	switch t {
	case QuestionSingleChoice, QuestionMultiChoice, QuestionTrueFalse:
		return true
	}
	return false
}

func (t QuestionType) Valid() bool {
	return t.Closed() || t == QuestionOpenText
}

// swagger:model Quiz
type Quiz struct {
	UUIDBase

	LearnerID        uint            `gorm:"uniqueIndex:idx_quiz_owner;type:bigint unsigned" json:"learnerId"`
	CourseID         string          `gorm:"uniqueIndex:idx_quiz_owner;size:64" json:"courseId"`
	Week             int             `gorm:"uniqueIndex:idx_quiz_owner" json:"week"`
	Difficulty       DifficultyLevel `gorm:"uniqueIndex:idx_quiz_owner;size:20" json:"difficulty"`
	PassingThreshold float64         `json:"passingThreshold"`
	LatestScore      *float64        `json:"latestScore,omitempty"`

	Questions []QuizQuestion `gorm:"foreignKey:QuizID" json:"questions"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// QuizQuestion 测验实例化时从题库复制，之后不再修改
// swagger:model QuizQuestion
type QuizQuestion struct {
	UUIDBase

	QuizID        string         `gorm:"index;type:varchar(36)" json:"quizId"`
	Order         int            `gorm:"default:0" json:"order"`
	Type          QuestionType   `gorm:"size:20;not null" json:"type"`
	Prompt        string         `gorm:"type:text;not null" json:"prompt"`
	Options       datatypes.JSON `json:"options"`
	CorrectAnswer string         `gorm:"type:text;not null" json:"-"` // 选择题用 | 分隔多个选项，开放题为参考答案
	Explanation   string         `gorm:"type:text" json:"explanation,omitempty"`
}

func (QuizQuestion) TableName() string {
	return "quiz_questions"
}

// OptionList 解析选项 JSON 数组
func (q *QuizQuestion) OptionList() []string {
	if len(q.Options) == 0 {
		return nil
	}
	var opts []string
	if err := json.Unmarshal(q.Options, &opts); err != nil {
		return nil
	}
	return opts
}

// BankQuestion 题库中的题目，由内容编写方维护
// swagger:model BankQuestion
type BankQuestion struct {
	BaseModel

	CourseID      string          `gorm:"index:idx_bank_slot;size:64" json:"courseId"`
	Week          int             `gorm:"index:idx_bank_slot" json:"week"`
	Difficulty    DifficultyLevel `gorm:"index:idx_bank_slot;size:20" json:"difficulty"`
	Order         int             `gorm:"default:0" json:"order"`
	Type          QuestionType    `gorm:"size:20;not null" json:"type"`
	Prompt        string          `gorm:"type:text;not null" json:"prompt"`
	Options       datatypes.JSON  `json:"options"`
	CorrectAnswer string          `gorm:"type:text;not null" json:"correctAnswer"`
	Explanation   string          `gorm:"type:text" json:"explanation"`
}

func (BankQuestion) TableName() string {
	return "bank_questions"
}
