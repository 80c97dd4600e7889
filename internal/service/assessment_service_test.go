package service

import (
	"context"
	"errors"
	"progression_engine/internal/model"
	"progression_engine/internal/util"
	"progression_engine/pkg/evaluator"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetQuiz_InstantiatesOncePerDifficulty(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedBank(t, "go-101", 1, model.DifficultyStandard, standardBank())

	first, err := e.assessment.GetQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard)
	require.NoError(t, err)
	require.Len(t, first.Questions, 5)
	assert.Equal(t, 50.0, first.PassingThreshold)
	assert.Equal(t, "q1", first.Questions[0].Prompt)
	assert.Equal(t, []string{"a", "b", "c"}, first.Questions[0].OptionList())

	second, err := e.assessment.GetQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Questions[4].ID, second.Questions[4].ID)

	// 其他学习者拿到自己的测验
	other, err := e.assessment.GetQuiz(ctx, 2, "go-101", 1, model.DifficultyStandard)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	var count int64
	require.NoError(t, e.db.Model(&model.Quiz{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestGetQuiz_Errors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedBank(t, "go-101", 2, model.DifficultyStandard, standardBank())

	_, err := e.assessment.GetQuiz(ctx, 1, "go-101", 1, "expert")
	assert.True(t, errors.Is(err, util.ErrPreconditionFailed), "got %v", err)

	_, err = e.assessment.GetQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard)
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)

	_, err = e.assessment.GetQuiz(ctx, 1, "go-101", 2, model.DifficultyStandard)
	assert.True(t, errors.Is(err, util.ErrPreconditionFailed), "got %v", err)

	_, err = e.assessment.GetQuiz(ctx, 1, "go-101", 9, model.DifficultyStandard)
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)
}

func TestNewQuizView_HidesAnswers(t *testing.T) {
	e := newTestEngine(t)
	e.seedBank(t, "go-101", 1, model.DifficultyStandard, standardBank())
	quiz, err := e.assessment.GetQuiz(context.Background(), 1, "go-101", 1, model.DifficultyStandard)
	require.NoError(t, err)

	view := NewQuizView(quiz)
	require.Len(t, view.Questions, 5)
	assert.Equal(t, quiz.ID, view.ID)
	assert.Equal(t, 1, view.Questions[0].Order)
	assert.Empty(t, view.Questions[4].Options)
}

func TestSubmitQuiz_FailingScoreSuggestsEasier(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedBank(t, "go-101", 1, model.DifficultyStandard, standardBank())
	quiz, err := e.assessment.GetQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard)
	require.NoError(t, err)

	result, err := e.assessment.SubmitQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard, answersByPrompt(quiz, map[string][]string{
		"q1": {"b"},
		"q2": {"c", "a"},
		"q3": {"false"},
		"q4": {"a"},
		"q5": {"no idea"},
	}))
	require.NoError(t, err)

	assert.Equal(t, 1, e.eval.Calls())
	assert.InDelta(t, 40.0, result.Grading.Percentage, 1e-9)
	assert.False(t, result.Passed)
	assert.Equal(t, 50.0, result.Threshold)
	assert.Equal(t, model.DifficultyMedium, result.NextDifficulty)
	assert.False(t, result.Progress.QuizCompleted)
	assert.False(t, result.WeekComplete)

	stored, err := e.quizRepo.FindByOwner(ctx, 1, "go-101", 1, model.DifficultyStandard)
	require.NoError(t, err)
	require.NotNil(t, stored.LatestScore)
	assert.InDelta(t, 40.0, *stored.LatestScore, 1e-9)

	graded := e.events.OfType(EventQuizGraded)
	require.Len(t, graded, 1)
}

func TestSubmitQuiz_PassingScoreCompletesQuizGate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.eval.respond = judgeAll(true)
	e.seedBank(t, "go-101", 1, model.DifficultyStandard, standardBank())
	quiz, err := e.assessment.GetQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard)
	require.NoError(t, err)

	result, err := e.assessment.SubmitQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard, answersByPrompt(quiz, allCorrectAnswers()))
	require.NoError(t, err)

	assert.InDelta(t, 100.0, result.Grading.Percentage, 1e-9)
	assert.True(t, result.Passed)
	assert.Equal(t, model.DifficultyIntermediate, result.NextDifficulty)
	assert.True(t, result.Progress.QuizCompleted)
	// 本周还有编程任务和阅读未完成
	assert.False(t, result.WeekComplete)
	assert.Equal(t, model.WeekInProgress, result.Progress.State())
	assert.Empty(t, e.events.OfType(EventWeekCompleted))
}

func TestSubmitQuiz_EvaluatorFailureStoresNothing(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.eval.respond = judgeAll(true)
	e.seedBank(t, "go-101", 1, model.DifficultyStandard, standardBank())
	quiz, err := e.assessment.GetQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard)
	require.NoError(t, err)

	e.eval.respond = func([]evaluator.Item) ([]evaluator.Verdict, error) {
		return nil, errors.New("upstream 502")
	}
	_, err = e.assessment.SubmitQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard, answersByPrompt(quiz, allCorrectAnswers()))
	assert.True(t, errors.Is(err, util.ErrEvaluationUnavailable), "got %v", err)

	scores, err := e.progress.ScoreRepo.ListQuizScores(ctx, 1, "go-101", 1)
	require.NoError(t, err)
	assert.Empty(t, scores)
	assert.Empty(t, e.events.Events())

	stored, err := e.quizRepo.FindByOwner(ctx, 1, "go-101", 1, model.DifficultyStandard)
	require.NoError(t, err)
	assert.Nil(t, stored.LatestScore)
}

func TestSubmitQuiz_ValidationSkipsEvaluator(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedBank(t, "go-101", 1, model.DifficultyStandard, standardBank())
	quiz, err := e.assessment.GetQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard)
	require.NoError(t, err)

	answers := allCorrectAnswers()
	delete(answers, "q4")
	_, err = e.assessment.SubmitQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard, answersByPrompt(quiz, answers))
	assert.True(t, errors.Is(err, util.ErrValidation), "got %v", err)
	assert.Equal(t, 0, e.eval.Calls())
}

func TestSubmitQuiz_RequiresFetchedQuiz(t *testing.T) {
	e := newTestEngine(t)
	e.seedBank(t, "go-101", 1, model.DifficultyStandard, standardBank())

	_, err := e.assessment.SubmitQuiz(context.Background(), 1, "go-101", 1, model.DifficultyStandard, AnswerSubmission{"x": {"a"}})
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)
	assert.Equal(t, 0, e.eval.Calls())
}

func TestSubmitQuiz_RetryAfterConflictReusesGrade(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.eval.respond = judgeAll(true)
	e.seedBank(t, "go-101", 1, model.DifficultyStandard, standardBank())
	quiz, err := e.assessment.GetQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard)
	require.NoError(t, err)
	submission := answersByPrompt(quiz, allCorrectAnswers())

	unlock, err := e.locker.Lock(ctx, ProgressLockKey(1, "go-101", 1))
	require.NoError(t, err)

	_, err = e.assessment.SubmitQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard, submission)
	assert.True(t, errors.Is(err, util.ErrPersistenceConflict), "got %v", err)
	assert.Equal(t, 1, e.eval.Calls())
	unlock()

	result, err := e.assessment.SubmitQuiz(ctx, 1, "go-101", 1, model.DifficultyStandard, submission)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 1, e.eval.Calls())
}
