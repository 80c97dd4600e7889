package model

import "time"

type WeekState string

const (
	WeekNotStarted WeekState = "not_started"
	WeekInProgress WeekState = "in_progress"
	WeekComplete   WeekState = "complete"
)

// WeekProgress 学习者在某课程某一周的完成情况
// week_complete 不落库，始终由三个关卡推导
// swagger:model WeekProgress
type WeekProgress struct {
	BaseModel

	LearnerID     uint   `gorm:"uniqueIndex:idx_week_owner;type:bigint unsigned" json:"learnerId"`
	CourseID      string `gorm:"uniqueIndex:idx_week_owner;size:64" json:"courseId"`
	Week          int    `gorm:"uniqueIndex:idx_week_owner" json:"week"`
	MaterialRead  bool   `gorm:"default:false" json:"materialRead"`
	QuizCompleted bool   `gorm:"default:false" json:"quizCompleted"`
	CodeCompleted bool   `gorm:"default:false" json:"codeCompleted"`
	// 首次创建时根据课程目录确定，之后不随配置变化
	RequiresCode bool       `gorm:"default:false" json:"requiresCode"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

func (WeekProgress) TableName() string {
	return "week_progresses"
}

func (p *WeekProgress) codeGateSatisfied() bool {
	return p.CodeCompleted || !p.RequiresCode
}

// WeekComplete 所有适用关卡均已满足
func (p *WeekProgress) WeekComplete() bool {
	return p.MaterialRead && p.QuizCompleted && p.codeGateSatisfied()
}

func (p *WeekProgress) State() WeekState {
	if p.WeekComplete() {
		return WeekComplete
	}
	if p.MaterialRead || p.QuizCompleted || (p.RequiresCode && p.CodeCompleted) {
		return WeekInProgress
	}
	return WeekNotStarted
}

// CourseEnrollment 记录学习者在课程中的当前周
// swagger:model CourseEnrollment
type CourseEnrollment struct {
	BaseModel

	LearnerID   uint       `gorm:"uniqueIndex:idx_enrollment_owner;type:bigint unsigned" json:"learnerId"`
	CourseID    string     `gorm:"uniqueIndex:idx_enrollment_owner;size:64" json:"courseId"`
	CurrentWeek int        `gorm:"default:1" json:"currentWeek"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

func (CourseEnrollment) TableName() string {
	return "course_enrollments"
}

func (e *CourseEnrollment) Finished() bool {
	return e.FinishedAt != nil
}
