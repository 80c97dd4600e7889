package service

import (
	"context"
	"progression_engine/internal/model"
	"progression_engine/pkg/evaluator"
)

// OpenAnswerEvaluator 外部开放题评判服务，一次评测请求只调用一次
type OpenAnswerEvaluator interface {
	EvaluateBatch(ctx context.Context, courseID string, week int, items []evaluator.Item) ([]evaluator.Verdict, error)
}

// CourseCatalog 课程目录与及格线策略，不归本服务所有
type CourseCatalog interface {
	WeekCount(courseID string) (int, error)
	CodingTasks(courseID string, week int) ([]CodingTask, error)
	GetPassingThreshold(courseID string, week int, difficulty model.DifficultyLevel) (float64, error)
	GetTaskPassingThreshold(courseID, taskID string) (float64, error)
}

// QuestionBank 已编写好的题目来源
type QuestionBank interface {
	QuestionsFor(ctx context.Context, courseID string, week int, difficulty model.DifficultyLevel) ([]model.BankQuestion, error)
}

// EventPublisher 提交成功后发布领域事件
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

type CodingTask struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
}

const (
	EventQuizGraded    = "quiz.graded"
	EventWeekCompleted = "week.completed"
)
