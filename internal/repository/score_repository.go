package repository

import (
	"context"
	"errors"
	"fmt"
	"progression_engine/internal/model"
	"progression_engine/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ScoreRepository struct {
	DB *gorm.DB
}

func NewScoreRepository(db *gorm.DB) *ScoreRepository {
	return &ScoreRepository{DB: db}
}

func (r *ScoreRepository) WithTx(tx *gorm.DB) *ScoreRepository {
	return &ScoreRepository{DB: tx}
}

func (r *ScoreRepository) FindQuizScore(ctx context.Context, learnerID uint, courseID string, week int, difficulty model.DifficultyLevel) (*model.QuizScore, error) {
	var score model.QuizScore
	err := r.DB.WithContext(ctx).
		Where("learner_id = ? AND course_id = ? AND week = ? AND difficulty = ?", learnerID, courseID, week, difficulty).
		First(&score).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: quiz score", util.ErrNotFound)
		}
		return nil, err
	}
	return &score, nil
}

// UpsertQuizScore 覆盖写入，不累加
func (r *ScoreRepository) UpsertQuizScore(ctx context.Context, score *model.QuizScore) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "learner_id"}, {Name: "course_id"}, {Name: "week"}, {Name: "difficulty"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"percentage", "passed", "recorded_at", "updated_at"}),
	}).Create(score).Error
}

func (r *ScoreRepository) FindCodeScore(ctx context.Context, learnerID uint, courseID string, week int, taskID string) (*model.CodeScore, error) {
	var score model.CodeScore
	err := r.DB.WithContext(ctx).
		Where("learner_id = ? AND course_id = ? AND week = ? AND task_id = ?", learnerID, courseID, week, taskID).
		First(&score).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: code score", util.ErrNotFound)
		}
		return nil, err
	}
	return &score, nil
}

// UpsertCodeScore 覆盖最近成绩；best_score 由调用方在锁内取旧值与新值的较大者
func (r *ScoreRepository) UpsertCodeScore(ctx context.Context, score *model.CodeScore) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "learner_id"}, {Name: "course_id"}, {Name: "week"}, {Name: "task_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"score", "best_score", "recorded_at", "updated_at"}),
	}).Create(score).Error
}

func (r *ScoreRepository) ListQuizScores(ctx context.Context, learnerID uint, courseID string, week int) ([]model.QuizScore, error) {
	var scores []model.QuizScore
	err := r.DB.WithContext(ctx).
		Where("learner_id = ? AND course_id = ? AND week = ?", learnerID, courseID, week).
		Find(&scores).Error
	return scores, err
}

func (r *ScoreRepository) ListCodeScores(ctx context.Context, learnerID uint, courseID string, week int) ([]model.CodeScore, error) {
	var scores []model.CodeScore
	err := r.DB.WithContext(ctx).
		Where("learner_id = ? AND course_id = ? AND week = ?", learnerID, courseID, week).
		Order("task_id ASC").
		Find(&scores).Error
	return scores, err
}
