package service

import (
	"context"
	"errors"
	"progression_engine/internal/model"
	"progression_engine/internal/util"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordQuizScore_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.scores.RecordQuizScore(ctx, 1, "intro", 1, model.DifficultyNormal, 70)
	require.NoError(t, err)
	assert.True(t, first.Passed)
	assert.Equal(t, 50.0, first.Threshold)

	second, err := e.scores.RecordQuizScore(ctx, 1, "intro", 1, model.DifficultyNormal, 70)
	require.NoError(t, err)
	assert.Equal(t, first.Score.ID, second.Score.ID)
	assert.True(t, first.Score.RecordedAt.Equal(second.Score.RecordedAt))

	scores, err := e.progress.ScoreRepo.ListQuizScores(ctx, 1, "intro", 1)
	require.NoError(t, err)
	assert.Len(t, scores, 1)
}

func TestRecordQuizScore_OverwritesAndKeepsGate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.scores.RecordQuizScore(ctx, 1, "intro", 1, model.DifficultyNormal, 80)
	require.NoError(t, err)

	out, err := e.scores.RecordQuizScore(ctx, 1, "intro", 1, model.DifficultyNormal, 30)
	require.NoError(t, err)
	assert.False(t, out.Passed)
	assert.Equal(t, 30.0, out.Score.Percentage)
	// 及格后再次不及格不会撤销测验关卡
	assert.True(t, out.Progress.QuizCompleted)

	scores, err := e.progress.ScoreRepo.ListQuizScores(ctx, 1, "intro", 1)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, 30.0, scores[0].Percentage)
	assert.False(t, scores[0].Passed)
}

func TestRecordQuizScore_AnyDifficultyPasses(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	out, err := e.scores.RecordQuizScore(ctx, 1, "intro", 1, model.DifficultyAdvanced, 55)
	require.NoError(t, err)
	assert.False(t, out.Passed)
	assert.Equal(t, 60.0, out.Threshold)
	assert.False(t, out.Progress.QuizCompleted)

	out, err = e.scores.RecordQuizScore(ctx, 1, "intro", 1, model.DifficultyMedium, 55)
	require.NoError(t, err)
	assert.True(t, out.Passed)
	assert.True(t, out.Progress.QuizCompleted)

	scores, err := e.progress.ScoreRepo.ListQuizScores(ctx, 1, "intro", 1)
	require.NoError(t, err)
	assert.Len(t, scores, 2)
}

func TestRecordQuizScore_InvalidInput(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.scores.RecordQuizScore(ctx, 1, "intro", 1, "expert", 50)
	assert.True(t, errors.Is(err, util.ErrPreconditionFailed), "got %v", err)

	_, err = e.scores.RecordQuizScore(ctx, 1, "intro", 1, model.DifficultyNormal, 101)
	assert.True(t, errors.Is(err, util.ErrValidation), "got %v", err)

	_, err = e.scores.RecordQuizScore(ctx, 1, "intro", 1, model.DifficultyNormal, -1)
	assert.True(t, errors.Is(err, util.ErrValidation), "got %v", err)

	_, err = e.scores.RecordQuizScore(ctx, 1, "intro", 2, model.DifficultyNormal, 100)
	assert.True(t, errors.Is(err, util.ErrPreconditionFailed), "got %v", err)

	_, err = e.scores.RecordQuizScore(ctx, 1, "nope", 1, model.DifficultyNormal, 100)
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)
}

func TestRecordCodeScore_Errors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.scores.RecordCodeScore(ctx, 1, "go-101", 1, "missing", 90)
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)

	// 任务属于其他周
	_, err = e.scores.RecordCodeScore(ctx, 1, "go-101", 2, "hello", 90)
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)

	_, err = e.scores.RecordCodeScore(ctx, 1, "go-101", 1, "hello", 120)
	assert.True(t, errors.Is(err, util.ErrValidation), "got %v", err)
}

func TestWeekGates_CodingTaskCompletesWeek(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.progress.MarkMaterialRead(ctx, 1, "go-101", 1)
	require.NoError(t, err)
	quiz, err := e.scores.RecordQuizScore(ctx, 1, "go-101", 1, model.DifficultyNormal, 90)
	require.NoError(t, err)
	assert.False(t, quiz.WeekComplete)
	assert.Equal(t, model.WeekInProgress, quiz.Progress.State())

	code, err := e.scores.RecordCodeScore(ctx, 1, "go-101", 1, "hello", 59)
	require.NoError(t, err)
	assert.False(t, code.Passed)
	assert.Equal(t, 60.0, code.Threshold)
	assert.False(t, code.WeekComplete)
	assert.Empty(t, e.events.OfType(EventWeekCompleted))

	code, err = e.scores.RecordCodeScore(ctx, 1, "go-101", 1, "hello", 60)
	require.NoError(t, err)
	assert.True(t, code.Passed)
	assert.True(t, code.WeekComplete)
	require.NotNil(t, code.Progress.CompletedAt)
	assert.Equal(t, model.WeekComplete, code.Progress.State())

	completed := e.events.OfType(EventWeekCompleted)
	require.Len(t, completed, 1)

	// 已完成的周不再重复发布事件
	_, err = e.scores.RecordCodeScore(ctx, 1, "go-101", 1, "hello", 100)
	require.NoError(t, err)
	assert.Len(t, e.events.OfType(EventWeekCompleted), 1)
}

func TestRecordCodeScore_AllTasksMustPass(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	out, err := e.scores.RecordCodeScore(ctx, 1, "algo", 1, "sort", 85)
	require.NoError(t, err)
	assert.True(t, out.Passed)
	assert.False(t, out.Progress.CodeCompleted)

	out, err = e.scores.RecordCodeScore(ctx, 1, "algo", 1, "search", 74)
	require.NoError(t, err)
	assert.False(t, out.Passed)
	assert.Equal(t, 75.0, out.Threshold)
	assert.False(t, out.Progress.CodeCompleted)

	out, err = e.scores.RecordCodeScore(ctx, 1, "algo", 1, "search", 75)
	require.NoError(t, err)
	assert.True(t, out.Progress.CodeCompleted)
}

func TestRecordCodeScore_GateIsMonotonic(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	out, err := e.scores.RecordCodeScore(ctx, 1, "go-101", 1, "hello", 95)
	require.NoError(t, err)
	assert.True(t, out.Progress.CodeCompleted)

	out, err = e.scores.RecordCodeScore(ctx, 1, "go-101", 1, "hello", 10)
	require.NoError(t, err)
	assert.False(t, out.Passed)
	assert.Equal(t, 10.0, out.Score.Score)
	assert.True(t, out.Progress.CodeCompleted)
}

func TestRecordCodeScore_RetakeKeepsBestScore(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.scores.RecordCodeScore(ctx, 1, "algo", 1, "sort", 85)
	require.NoError(t, err)

	out, err := e.scores.RecordCodeScore(ctx, 1, "algo", 1, "sort", 10)
	require.NoError(t, err)
	assert.False(t, out.Passed)
	assert.Equal(t, 10.0, out.Score.Score)
	assert.Equal(t, 85.0, out.Score.BestScore)

	// 另一任务及格后，sort 的最好成绩仍然计入
	out, err = e.scores.RecordCodeScore(ctx, 1, "algo", 1, "search", 80)
	require.NoError(t, err)
	assert.True(t, out.Progress.CodeCompleted)

	view, err := e.progress.GetWeekProgress(ctx, 1, "algo", 1)
	require.NoError(t, err)
	require.Len(t, view.CodingTasks, 2)
	for _, task := range view.CodingTasks {
		if task.ID != "sort" {
			continue
		}
		require.NotNil(t, task.Score)
		require.NotNil(t, task.BestScore)
		assert.Equal(t, 10.0, *task.Score)
		assert.Equal(t, 85.0, *task.BestScore)
		assert.True(t, task.Passed)
	}
	assert.True(t, view.CodeCompleted)
}

func TestRecordQuizScore_FailAtOtherDifficultyKeepsGate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	out, err := e.scores.RecordQuizScore(ctx, 1, "intro", 1, model.DifficultyMedium, 70)
	require.NoError(t, err)
	assert.True(t, out.Passed)
	assert.True(t, out.Progress.QuizCompleted)

	out, err = e.scores.RecordQuizScore(ctx, 1, "intro", 1, model.DifficultyAdvanced, 20)
	require.NoError(t, err)
	assert.False(t, out.Passed)
	assert.True(t, out.Progress.QuizCompleted)

	view, err := e.progress.GetWeekProgress(ctx, 1, "intro", 1)
	require.NoError(t, err)
	assert.True(t, view.QuizCompleted)
	require.Len(t, view.QuizScores, 2)
	assert.Equal(t, model.DifficultyAdvanced, view.QuizScores[0].Difficulty)
	assert.False(t, view.QuizScores[0].Passed)
	assert.Equal(t, model.DifficultyMedium, view.QuizScores[1].Difficulty)
	assert.True(t, view.QuizScores[1].Passed)
}
