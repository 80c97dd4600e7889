package repository

import (
	"context"
	"errors"
	"fmt"
	"progression_engine/internal/model"
	"progression_engine/internal/util"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProgressRepository struct {
	DB *gorm.DB
}

func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{DB: db}
}

func (r *ProgressRepository) WithTx(tx *gorm.DB) *ProgressRepository {
	return &ProgressRepository{DB: tx}
}

func (r *ProgressRepository) FindWeek(ctx context.Context, learnerID uint, courseID string, week int) (*model.WeekProgress, error) {
	var p model.WeekProgress
	err := r.DB.WithContext(ctx).
		Where("learner_id = ? AND course_id = ? AND week = ?", learnerID, courseID, week).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: progress for course %s week %d", util.ErrNotFound, courseID, week)
		}
		return nil, err
	}
	return &p, nil
}

// FindOrCreateWeek 首次访问时创建全部关卡为 false 的记录；并发创建时以已存在的记录为准
func (r *ProgressRepository) FindOrCreateWeek(ctx context.Context, learnerID uint, courseID string, week int, requiresCode bool) (*model.WeekProgress, error) {
	p := &model.WeekProgress{
		LearnerID:    learnerID,
		CourseID:     courseID,
		Week:         week,
		RequiresCode: requiresCode,
	}
	if err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p).Error; err != nil {
		return nil, err
	}
	return r.FindWeek(ctx, learnerID, courseID, week)
}

func (r *ProgressRepository) SaveWeek(ctx context.Context, p *model.WeekProgress) error {
	return r.DB.WithContext(ctx).Save(p).Error
}

func (r *ProgressRepository) ListWeeks(ctx context.Context, learnerID uint, courseID string) ([]model.WeekProgress, error) {
	var weeks []model.WeekProgress
	err := r.DB.WithContext(ctx).
		Where("learner_id = ? AND course_id = ?", learnerID, courseID).
		Order("week ASC").
		Find(&weeks).Error
	return weeks, err
}

func (r *ProgressRepository) FindOrCreateEnrollment(ctx context.Context, learnerID uint, courseID string) (*model.CourseEnrollment, error) {
	e := &model.CourseEnrollment{
		LearnerID:   learnerID,
		CourseID:    courseID,
		CurrentWeek: 1,
	}
	if err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e).Error; err != nil {
		return nil, err
	}

	var out model.CourseEnrollment
	err := r.DB.WithContext(ctx).
		Where("learner_id = ? AND course_id = ?", learnerID, courseID).
		First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AdvanceEnrollment 条件更新：只有当前周仍为 fromWeek 时才推进，否则说明有并发推进
func (r *ProgressRepository) AdvanceEnrollment(ctx context.Context, enrollmentID uint, fromWeek, toWeek int, finishedAt *time.Time) error {
	res := r.DB.WithContext(ctx).
		Model(&model.CourseEnrollment{}).
		Where("id = ? AND current_week = ? AND finished_at IS NULL", enrollmentID, fromWeek).
		Updates(map[string]interface{}{
			"current_week": toWeek,
			"finished_at":  finishedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: course enrollment %d already moved past week %d", util.ErrPersistenceConflict, enrollmentID, fromWeek)
	}
	return nil
}
