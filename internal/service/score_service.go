package service

import (
	"context"
	"errors"
	"fmt"
	"progression_engine/internal/model"
	"progression_engine/internal/repository"
	"progression_engine/internal/util"
	"time"

	"gorm.io/gorm"
)

type ScoreService struct {
	Progress  *ProgressService
	QuizRepo  *repository.QuizRepository
	ScoreRepo *repository.ScoreRepository
	Catalog   CourseCatalog
}

func NewScoreService(progress *ProgressService, quizRepo *repository.QuizRepository, scoreRepo *repository.ScoreRepository, catalog CourseCatalog) *ScoreService {
	return &ScoreService{
		Progress:  progress,
		QuizRepo:  quizRepo,
		ScoreRepo: scoreRepo,
		Catalog:   catalog,
	}
}

type QuizScoreOutcome struct {
	Score        *model.QuizScore    `json:"score"`
	Passed       bool                `json:"passed"`
	Threshold    float64             `json:"threshold"`
	Progress     *model.WeekProgress `json:"progress"`
	WeekComplete bool                `json:"weekComplete"`
}

type CodeScoreOutcome struct {
	Score        *model.CodeScore    `json:"score"`
	Passed       bool                `json:"passed"`
	Threshold    float64             `json:"threshold"`
	Progress     *model.WeekProgress `json:"progress"`
	WeekComplete bool                `json:"weekComplete"`
}

func validPercentage(v float64) bool {
	return v >= 0 && v <= 100
}

// RecordQuizScore 覆盖写入该难度的成绩；及格时置 quiz_completed，不及格不会撤销已完成状态
func (s *ScoreService) RecordQuizScore(ctx context.Context, learnerID uint, courseID string, week int, difficulty model.DifficultyLevel, percentage float64) (*QuizScoreOutcome, error) {
	if !difficulty.Valid() {
		return nil, fmt.Errorf("%w: unknown difficulty %q", util.ErrPreconditionFailed, difficulty)
	}
	if !validPercentage(percentage) {
		return nil, fmt.Errorf("%w: percentage %.2f out of range", util.ErrValidation, percentage)
	}

	var outcome QuizScoreOutcome
	res, err := s.Progress.updateWeek(ctx, learnerID, courseID, week, func(ctx context.Context, tx *gorm.DB, p *model.WeekProgress) error {
		return s.applyQuizScore(ctx, tx, p, difficulty, percentage, &outcome)
	})
	if err != nil {
		return nil, err
	}
	outcome.Progress = res.Progress
	outcome.WeekComplete = res.Progress.WeekComplete()
	return &outcome, nil
}

// quizThreshold 优先使用测验创建时固定下来的及格线
func (s *ScoreService) quizThreshold(ctx context.Context, quizRepo *repository.QuizRepository, p *model.WeekProgress, difficulty model.DifficultyLevel) (*model.Quiz, float64, error) {
	quiz, err := quizRepo.FindByOwner(ctx, p.LearnerID, p.CourseID, p.Week, difficulty)
	if err == nil {
		return quiz, quiz.PassingThreshold, nil
	}
	if !errors.Is(err, util.ErrNotFound) {
		return nil, 0, err
	}
	threshold, err := s.Catalog.GetPassingThreshold(p.CourseID, p.Week, difficulty)
	if err != nil {
		return nil, 0, err
	}
	return nil, threshold, nil
}

func (s *ScoreService) applyQuizScore(ctx context.Context, tx *gorm.DB, p *model.WeekProgress, difficulty model.DifficultyLevel, percentage float64, out *QuizScoreOutcome) error {
	quizRepo := s.QuizRepo.WithTx(tx)
	scoreRepo := s.ScoreRepo.WithTx(tx)

	quiz, threshold, err := s.quizThreshold(ctx, quizRepo, p, difficulty)
	if err != nil {
		return err
	}
	passed := percentage >= threshold

	existing, err := scoreRepo.FindQuizScore(ctx, p.LearnerID, p.CourseID, p.Week, difficulty)
	if err != nil && !errors.Is(err, util.ErrNotFound) {
		return err
	}

	// 相同成绩重复写入时保持原记录不变
	if existing == nil || existing.Percentage != percentage || existing.Passed != passed {
		if err := scoreRepo.UpsertQuizScore(ctx, &model.QuizScore{
			LearnerID:  p.LearnerID,
			CourseID:   p.CourseID,
			Week:       p.Week,
			Difficulty: difficulty,
			Percentage: percentage,
			Passed:     passed,
			RecordedAt: time.Now(),
		}); err != nil {
			return err
		}
		if existing, err = scoreRepo.FindQuizScore(ctx, p.LearnerID, p.CourseID, p.Week, difficulty); err != nil {
			return err
		}
	}

	if quiz != nil {
		if err := quizRepo.UpdateLatestScore(ctx, quiz.ID, percentage); err != nil {
			return err
		}
	}
	if passed {
		p.QuizCompleted = true
	}

	out.Score = existing
	out.Passed = passed
	out.Threshold = threshold
	return nil
}

// RecordCodeScore 记录编程任务成绩；本周全部任务的最好成绩达到各自及格线后置 code_completed。
// 返回的 Passed 只反映本次提交。
func (s *ScoreService) RecordCodeScore(ctx context.Context, learnerID uint, courseID string, week int, taskID string, score float64) (*CodeScoreOutcome, error) {
	if !validPercentage(score) {
		return nil, fmt.Errorf("%w: score %.2f out of range", util.ErrValidation, score)
	}

	tasks, err := s.Catalog.CodingTasks(courseID, week)
	if err != nil {
		return nil, err
	}
	if !hasTask(tasks, taskID) {
		return nil, fmt.Errorf("%w: coding task %q in course %s week %d", util.ErrNotFound, taskID, courseID, week)
	}

	thresholds := make(map[string]float64, len(tasks))
	for _, t := range tasks {
		v, err := s.Catalog.GetTaskPassingThreshold(courseID, t.ID)
		if err != nil {
			return nil, err
		}
		thresholds[t.ID] = v
	}

	var outcome CodeScoreOutcome
	res, err := s.Progress.updateWeek(ctx, learnerID, courseID, week, func(ctx context.Context, tx *gorm.DB, p *model.WeekProgress) error {
		scoreRepo := s.ScoreRepo.WithTx(tx)
		best := score
		previous, err := scoreRepo.FindCodeScore(ctx, learnerID, courseID, week, taskID)
		if err != nil && !errors.Is(err, util.ErrNotFound) {
			return err
		}
		if previous != nil && previous.BestScore > best {
			best = previous.BestScore
		}
		if err := scoreRepo.UpsertCodeScore(ctx, &model.CodeScore{
			LearnerID:  learnerID,
			CourseID:   courseID,
			Week:       week,
			TaskID:     taskID,
			Score:      score,
			BestScore:  best,
			RecordedAt: time.Now(),
		}); err != nil {
			return err
		}

		recorded, err := scoreRepo.ListCodeScores(ctx, learnerID, courseID, week)
		if err != nil {
			return err
		}
		byTask := make(map[string]model.CodeScore, len(recorded))
		for _, cs := range recorded {
			byTask[cs.TaskID] = cs
		}

		allPassed := true
		for _, t := range tasks {
			cs, ok := byTask[t.ID]
			if !ok || cs.BestScore < thresholds[t.ID] {
				allPassed = false
				break
			}
		}
		if allPassed {
			p.CodeCompleted = true
		}

		current := byTask[taskID]
		outcome.Score = &current
		outcome.Threshold = thresholds[taskID]
		outcome.Passed = score >= thresholds[taskID]
		return nil
	})
	if err != nil {
		return nil, err
	}
	outcome.Progress = res.Progress
	outcome.WeekComplete = res.Progress.WeekComplete()
	return &outcome, nil
}

func hasTask(tasks []CodingTask, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}
