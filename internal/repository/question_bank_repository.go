package repository

import (
	"context"
	"progression_engine/internal/model"

	"gorm.io/gorm"
)

// QuestionBankRepository 题库只读访问；题目由内容编写方导入
type QuestionBankRepository struct {
	DB *gorm.DB
}

func NewQuestionBankRepository(db *gorm.DB) *QuestionBankRepository {
	return &QuestionBankRepository{DB: db}
}

func (r *QuestionBankRepository) QuestionsFor(ctx context.Context, courseID string, week int, difficulty model.DifficultyLevel) ([]model.BankQuestion, error) {
	var questions []model.BankQuestion
	err := r.DB.WithContext(ctx).
		Where("course_id = ? AND week = ? AND difficulty = ?", courseID, week, difficulty).
		Order("`order` ASC").Order("id ASC").
		Find(&questions).Error
	return questions, err
}

// ReplaceSlot 用新题目整体替换某课程某周某难度下的题库，供导入命令使用
func (r *QuestionBankRepository) ReplaceSlot(ctx context.Context, courseID string, week int, difficulty model.DifficultyLevel, questions []model.BankQuestion) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().
			Where("course_id = ? AND week = ? AND difficulty = ?", courseID, week, difficulty).
			Delete(&model.BankQuestion{}).Error; err != nil {
			return err
		}
		if len(questions) == 0 {
			return nil
		}
		for i := range questions {
			questions[i].CourseID = courseID
			questions[i].Week = week
			questions[i].Difficulty = difficulty
		}
		return tx.Create(&questions).Error
	})
}
