package service

import (
	"context"
	"errors"
	"fmt"
	"progression_engine/internal/model"
	"progression_engine/internal/repository"
	"progression_engine/internal/util"
	"progression_engine/pkg/logger"
	"progression_engine/pkg/monitoring"
	"progression_engine/pkg/tracing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// AssessmentService 编排测验获取、评分与成绩持久化
type AssessmentService struct {
	QuizRepo *repository.QuizRepository
	Bank     QuestionBank
	Catalog  CourseCatalog
	Grader   *QuizGrader
	Scores   *ScoreService
	Progress *ProgressService
	Cache    GradeCache
	Events   EventPublisher
}

func NewAssessmentService(
	quizRepo *repository.QuizRepository,
	bank QuestionBank,
	catalog CourseCatalog,
	grader *QuizGrader,
	scores *ScoreService,
	progress *ProgressService,
	cache GradeCache,
	events EventPublisher,
) *AssessmentService {
	return &AssessmentService{
		QuizRepo: quizRepo,
		Bank:     bank,
		Catalog:  catalog,
		Grader:   grader,
		Scores:   scores,
		Progress: progress,
		Cache:    cache,
		Events:   events,
	}
}

// QuestionView 面向学习者的题目，不含答案和解析
type QuestionView struct {
	ID      string             `json:"id"`
	Order   int                `json:"order"`
	Type    model.QuestionType `json:"type"`
	Prompt  string             `json:"prompt"`
	Options []string           `json:"options,omitempty"`
}

type QuizView struct {
	ID               string                `json:"id"`
	CourseID         string                `json:"courseId"`
	Week             int                   `json:"week"`
	Difficulty       model.DifficultyLevel `json:"difficulty"`
	PassingThreshold float64               `json:"passingThreshold"`
	LatestScore      *float64              `json:"latestScore,omitempty"`
	Questions        []QuestionView        `json:"questions"`
}

func NewQuizView(q *model.Quiz) *QuizView {
	view := &QuizView{
		ID:               q.ID,
		CourseID:         q.CourseID,
		Week:             q.Week,
		Difficulty:       q.Difficulty,
		PassingThreshold: q.PassingThreshold,
		LatestScore:      q.LatestScore,
		Questions:        make([]QuestionView, 0, len(q.Questions)),
	}
	for i := range q.Questions {
		question := &q.Questions[i]
		view.Questions = append(view.Questions, QuestionView{
			ID:      question.ID,
			Order:   question.Order,
			Type:    question.Type,
			Prompt:  question.Prompt,
			Options: question.OptionList(),
		})
	}
	return view
}

type SubmitResult struct {
	Grading        *GradingResult        `json:"grading"`
	Passed         bool                  `json:"passed"`
	Threshold      float64               `json:"threshold"`
	NextDifficulty model.DifficultyLevel `json:"nextDifficulty"`
	Progress       *model.WeekProgress   `json:"progress"`
	WeekComplete   bool                  `json:"weekComplete"`
}

type QuizGradedEvent struct {
	LearnerID  uint                  `json:"learnerId"`
	CourseID   string                `json:"courseId"`
	Week       int                   `json:"week"`
	Difficulty model.DifficultyLevel `json:"difficulty"`
	QuizID     string                `json:"quizId"`
	Percentage float64               `json:"percentage"`
	Passed     bool                  `json:"passed"`
	GradedAt   time.Time             `json:"gradedAt"`
}

// SuggestNextDifficulty 及格升一级，不及格降一级
func SuggestNextDifficulty(passed bool, level model.DifficultyLevel) model.DifficultyLevel {
	if passed {
		return model.Harder(level)
	}
	return model.Easier(level)
}

func parseLevel(difficulty model.DifficultyLevel) (model.DifficultyLevel, error) {
	level, ok := model.ParseDifficulty(string(difficulty))
	if !ok {
		return "", fmt.Errorf("%w: unknown difficulty %q", util.ErrPreconditionFailed, difficulty)
	}
	return level, nil
}

// GetQuiz 获取或创建测验；同一学习者同一周同一难度始终返回同一份测验
func (s *AssessmentService) GetQuiz(ctx context.Context, learnerID uint, courseID string, week int, difficulty model.DifficultyLevel) (*model.Quiz, error) {
	level, err := parseLevel(difficulty)
	if err != nil {
		return nil, err
	}
	if err := s.Progress.ensureUnlocked(ctx, s.Progress.ProgressRepo, learnerID, courseID, week); err != nil {
		return nil, err
	}

	quiz, err := s.QuizRepo.FindByOwner(ctx, learnerID, courseID, week, level)
	if err == nil {
		return quiz, nil
	}
	if !errors.Is(err, util.ErrNotFound) {
		return nil, err
	}

	threshold, err := s.Catalog.GetPassingThreshold(courseID, week, level)
	if err != nil {
		return nil, err
	}
	bank, err := s.Bank.QuestionsFor(ctx, courseID, week, level)
	if err != nil {
		return nil, err
	}

	quiz = &model.Quiz{
		LearnerID:        learnerID,
		CourseID:         courseID,
		Week:             week,
		Difficulty:       level,
		PassingThreshold: threshold,
	}
	for _, bq := range bank {
		if !bq.Type.Valid() {
			logger.Log.Warn("Skipping bank question with unsupported type",
				zap.Uint("bankQuestionId", bq.ID),
				zap.String("type", string(bq.Type)))
			continue
		}
		quiz.Questions = append(quiz.Questions, model.QuizQuestion{
			Order:         len(quiz.Questions) + 1,
			Type:          bq.Type,
			Prompt:        bq.Prompt,
			Options:       bq.Options,
			CorrectAnswer: bq.CorrectAnswer,
			Explanation:   bq.Explanation,
		})
	}
	if len(quiz.Questions) == 0 {
		return nil, fmt.Errorf("%w: no questions authored for course %s week %d (%s)", util.ErrNotFound, courseID, week, level)
	}

	created, err := s.QuizRepo.CreateIfAbsent(ctx, quiz)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Log.Info("Quiz instantiated",
			zap.Uint("learnerId", learnerID),
			zap.String("courseId", courseID),
			zap.Int("week", week),
			zap.String("difficulty", string(level)),
			zap.Int("questions", len(quiz.Questions)))
	}
	return s.QuizRepo.FindByOwner(ctx, learnerID, courseID, week, level)
}

// SubmitQuiz 评分并持久化成绩，两者要么都成功要么都不生效。
// 评分结果会短暂缓存，持久化冲突后重试不会再次调用评判服务。
func (s *AssessmentService) SubmitQuiz(ctx context.Context, learnerID uint, courseID string, week int, difficulty model.DifficultyLevel, submission AnswerSubmission) (*SubmitResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AssessmentService.SubmitQuiz")
	defer span.End()
	span.SetAttributes(
		attribute.String("course.id", courseID),
		attribute.Int("course.week", week),
		attribute.String("quiz.difficulty", string(difficulty)),
	)

	result, err := s.submit(ctx, learnerID, courseID, week, difficulty, submission)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		monitoring.QuizSubmissions.WithLabelValues(string(difficulty), submissionFailureOutcome(err)).Inc()
		return nil, err
	}

	outcome := "failed"
	if result.Passed {
		outcome = "passed"
	}
	monitoring.QuizSubmissions.WithLabelValues(string(difficulty), outcome).Inc()
	monitoring.QuizScorePercentage.WithLabelValues(string(difficulty)).Observe(result.Grading.Percentage)
	return result, nil
}

func submissionFailureOutcome(err error) string {
	switch {
	case errors.Is(err, util.ErrEvaluationUnavailable):
		return "evaluator_error"
	case errors.Is(err, util.ErrPersistenceConflict):
		return "conflict"
	}
	return "rejected"
}

func (s *AssessmentService) submit(ctx context.Context, learnerID uint, courseID string, week int, difficulty model.DifficultyLevel, submission AnswerSubmission) (*SubmitResult, error) {
	level, err := parseLevel(difficulty)
	if err != nil {
		return nil, err
	}
	if err := s.Progress.ensureUnlocked(ctx, s.Progress.ProgressRepo, learnerID, courseID, week); err != nil {
		return nil, err
	}

	quiz, err := s.QuizRepo.FindByOwner(ctx, learnerID, courseID, week, level)
	if err != nil {
		return nil, err
	}

	grading, err := s.grade(ctx, learnerID, quiz, submission)
	if err != nil {
		return nil, err
	}

	recorded, err := s.Scores.RecordQuizScore(ctx, learnerID, courseID, week, level, grading.Percentage)
	if err != nil {
		logger.Log.Warn("Quiz graded but score not persisted",
			zap.Uint("learnerId", learnerID),
			zap.String("quizId", quiz.ID),
			zap.Error(err))
		return nil, err
	}

	s.Progress.publish(ctx, EventQuizGraded, QuizGradedEvent{
		LearnerID:  learnerID,
		CourseID:   courseID,
		Week:       week,
		Difficulty: level,
		QuizID:     quiz.ID,
		Percentage: grading.Percentage,
		Passed:     recorded.Passed,
		GradedAt:   recorded.Score.RecordedAt,
	})

	logger.Log.Info("Quiz submitted",
		zap.Uint("learnerId", learnerID),
		zap.String("quizId", quiz.ID),
		zap.Float64("percentage", grading.Percentage),
		zap.Bool("passed", recorded.Passed))

	return &SubmitResult{
		Grading:        grading,
		Passed:         recorded.Passed,
		Threshold:      recorded.Threshold,
		NextDifficulty: SuggestNextDifficulty(recorded.Passed, level),
		Progress:       recorded.Progress,
		WeekComplete:   recorded.WeekComplete,
	}, nil
}

func (s *AssessmentService) grade(ctx context.Context, learnerID uint, quiz *model.Quiz, submission AnswerSubmission) (*GradingResult, error) {
	key := GradeCacheKey(learnerID, quiz, submission)
	if s.Cache != nil {
		if cached, ok := s.Cache.Get(ctx, key); ok {
			logger.Log.Debug("Using cached grading result", zap.String("quizId", quiz.ID))
			return cached, nil
		}
	}

	grading, err := s.Grader.Grade(ctx, quiz, submission)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Set(ctx, key, grading)
	}
	return grading, nil
}
