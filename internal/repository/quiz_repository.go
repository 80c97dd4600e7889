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

type QuizRepository struct {
	DB *gorm.DB
}

func NewQuizRepository(db *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: db}
}

func (r *QuizRepository) WithTx(tx *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: tx}
}

func orderedQuestions(db *gorm.DB) *gorm.DB {
	return db.Order("quiz_questions.`order` ASC").Order("quiz_questions.id ASC")
}

func (r *QuizRepository) FindByOwner(ctx context.Context, learnerID uint, courseID string, week int, difficulty model.DifficultyLevel) (*model.Quiz, error) {
	var quiz model.Quiz
	err := r.DB.WithContext(ctx).
		Preload("Questions", orderedQuestions).
		Where("learner_id = ? AND course_id = ? AND week = ? AND difficulty = ?", learnerID, courseID, week, difficulty).
		First(&quiz).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: quiz for course %s week %d (%s)", util.ErrNotFound, courseID, week, difficulty)
		}
		return nil, err
	}
	return &quiz, nil
}

// CreateIfAbsent 插入测验及其题目；同一所有者已存在测验时什么也不做，返回 false
func (r *QuizRepository) CreateIfAbsent(ctx context.Context, quiz *model.Quiz) (bool, error) {
	created := false
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		questions := quiz.Questions
		quiz.Questions = nil
		defer func() { quiz.Questions = questions }()

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(quiz)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		for i := range questions {
			questions[i].QuizID = quiz.ID
		}
		if len(questions) > 0 {
			if err := tx.Create(&questions).Error; err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	return created, err
}

func (r *QuizRepository) UpdateLatestScore(ctx context.Context, quizID string, percentage float64) error {
	return r.DB.WithContext(ctx).
		Model(&model.Quiz{}).
		Where("id = ?", quizID).
		Update("latest_score", percentage).Error
}
