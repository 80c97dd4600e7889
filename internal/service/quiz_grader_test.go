package service

import (
	"context"
	"encoding/json"
	"errors"
	"progression_engine/internal/model"
	"progression_engine/internal/util"
	"progression_engine/pkg/evaluator"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradingQuiz() *model.Quiz {
	return &model.Quiz{
		UUIDBase:   model.UUIDBase{ID: "quiz-1"},
		CourseID:   "go-101",
		Week:       1,
		Difficulty: model.DifficultyStandard,
		Questions: []model.QuizQuestion{
			{UUIDBase: model.UUIDBase{ID: "q1"}, Type: model.QuestionSingleChoice, CorrectAnswer: "b", Explanation: "because b"},
			{UUIDBase: model.UUIDBase{ID: "q2"}, Type: model.QuestionMultiChoice, CorrectAnswer: "a|c"},
			{UUIDBase: model.UUIDBase{ID: "q3"}, Type: model.QuestionTrueFalse, CorrectAnswer: "true"},
			{UUIDBase: model.UUIDBase{ID: "q4"}, Type: model.QuestionSingleChoice, CorrectAnswer: "c"},
			{UUIDBase: model.UUIDBase{ID: "q5"}, Type: model.QuestionOpenText, Prompt: "what is a goroutine", CorrectAnswer: "lightweight thread"},
		},
	}
}

func closedOnlyQuiz() *model.Quiz {
	q := gradingQuiz()
	q.Questions = q.Questions[:4]
	return q
}

func TestGrade_MixedQuizFortyPercent(t *testing.T) {
	eval := &fakeEvaluator{respond: judgeAll(false)}
	grader := NewQuizGrader(eval)

	result, err := grader.Grade(context.Background(), gradingQuiz(), AnswerSubmission{
		"q1": {"b"},
		"q2": {"c", "a"},
		"q3": {"false"},
		"q4": {"a"},
		"q5": {"a goroutine"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, eval.Calls())
	require.Len(t, eval.batches[0], 1)
	assert.Equal(t, "q5", eval.batches[0][0].QuestionID)
	assert.Equal(t, "a goroutine", eval.batches[0][0].SubmittedText)
	assert.Equal(t, "lightweight thread", eval.batches[0][0].ReferenceAnswer)

	assert.Equal(t, 2, result.CorrectCount)
	assert.Equal(t, 5, result.TotalQuestions)
	assert.InDelta(t, 40.0, result.Percentage, 1e-9)
	assert.True(t, result.Outcomes["q1"].Correct)
	assert.Equal(t, "because b", result.Outcomes["q1"].Explanation)
	assert.True(t, result.Outcomes["q2"].Correct)
	assert.False(t, result.Outcomes["q5"].Correct)
	assert.Equal(t, "judged", result.Outcomes["q5"].Explanation)
}

func TestGrade_ClosedOnlySkipsEvaluator(t *testing.T) {
	eval := &fakeEvaluator{}
	grader := NewQuizGrader(eval)

	result, err := grader.Grade(context.Background(), closedOnlyQuiz(), AnswerSubmission{
		"q1": {"B"},
		"q2": {"a", "c", "a"},
		"q3": {"TRUE"},
		"q4": {" c "},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, eval.Calls())
	assert.InDelta(t, 100.0, result.Percentage, 1e-9)
}

func TestGrade_ClosedOnlyWithoutEvaluator(t *testing.T) {
	grader := NewQuizGrader(nil)
	result, err := grader.Grade(context.Background(), closedOnlyQuiz(), AnswerSubmission{
		"q1": {"a"}, "q2": {}, "q3": {"true"}, "q4": {"c"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.CorrectCount)
}

func TestGrade_OpenQuestionWithoutEvaluator(t *testing.T) {
	grader := NewQuizGrader(nil)
	_, err := grader.Grade(context.Background(), gradingQuiz(), AnswerSubmission{
		"q1": {"b"}, "q2": {"a"}, "q3": {"true"}, "q4": {"c"}, "q5": {"x"},
	})
	assert.True(t, errors.Is(err, util.ErrEvaluationUnavailable))
}

func TestGrade_MultiChoicePermutations(t *testing.T) {
	grader := NewQuizGrader(nil)
	quiz := &model.Quiz{Questions: []model.QuizQuestion{
		{UUIDBase: model.UUIDBase{ID: "m"}, Type: model.QuestionMultiChoice, CorrectAnswer: "a|c"},
	}}

	for _, answer := range [][]string{{"a", "c"}, {"c", "a"}, {"C", " a"}} {
		result, err := grader.Grade(context.Background(), quiz, AnswerSubmission{"m": answer})
		require.NoError(t, err)
		assert.True(t, result.Outcomes["m"].Correct, "answer %v", answer)
	}
}

func TestGrade_EvaluatorFailures(t *testing.T) {
	submission := AnswerSubmission{"q1": {"b"}, "q2": {"a"}, "q3": {"true"}, "q4": {"c"}, "q5": {"x"}}

	tests := []struct {
		name    string
		respond func([]evaluator.Item) ([]evaluator.Verdict, error)
	}{
		{
			name: "transport error",
			respond: func([]evaluator.Item) ([]evaluator.Verdict, error) {
				return nil, errors.New("timeout")
			},
		},
		{
			name: "missing verdict",
			respond: func([]evaluator.Item) ([]evaluator.Verdict, error) {
				return nil, nil
			},
		},
		{
			name: "foreign question id",
			respond: func([]evaluator.Item) ([]evaluator.Verdict, error) {
				return []evaluator.Verdict{{QuestionID: "q1", Correct: true}}, nil
			},
		},
		{
			name: "duplicate verdict",
			respond: func([]evaluator.Item) ([]evaluator.Verdict, error) {
				return []evaluator.Verdict{{QuestionID: "q5", Correct: true}, {QuestionID: "q5", Correct: false}}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grader := NewQuizGrader(&fakeEvaluator{respond: tt.respond})
			result, err := grader.Grade(context.Background(), gradingQuiz(), submission)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, util.ErrEvaluationUnavailable), "got %v", err)
		})
	}
}

func TestGrade_Validation(t *testing.T) {
	tests := []struct {
		name       string
		quiz       *model.Quiz
		submission AnswerSubmission
	}{
		{
			name:       "empty quiz",
			quiz:       &model.Quiz{},
			submission: AnswerSubmission{},
		},
		{
			name:       "missing answer",
			quiz:       closedOnlyQuiz(),
			submission: AnswerSubmission{"q1": {"b"}, "q2": {"a"}, "q3": {"true"}},
		},
		{
			name:       "unknown question",
			quiz:       closedOnlyQuiz(),
			submission: AnswerSubmission{"q1": {"b"}, "q2": {"a"}, "q3": {"true"}, "q4": {"c"}, "q9": {"x"}},
		},
		{
			name:       "open question with several values",
			quiz:       gradingQuiz(),
			submission: AnswerSubmission{"q1": {"b"}, "q2": {"a"}, "q3": {"true"}, "q4": {"c"}, "q5": {"x", "y"}},
		},
		{
			name: "unsupported question type",
			quiz: &model.Quiz{Questions: []model.QuizQuestion{
				{UUIDBase: model.UUIDBase{ID: "z"}, Type: "essay", CorrectAnswer: "x"},
			}},
			submission: AnswerSubmission{"z": {"x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &fakeEvaluator{}
			_, err := NewQuizGrader(eval).Grade(context.Background(), tt.quiz, tt.submission)
			assert.True(t, errors.Is(err, util.ErrValidation), "got %v", err)
			assert.Equal(t, 0, eval.Calls())
		})
	}
}

func TestAnswerValue_UnmarshalJSON(t *testing.T) {
	var sub AnswerSubmission
	err := json.Unmarshal([]byte(`{"a":"b","b":["a","c"],"c":true,"d":[]}`), &sub)
	require.NoError(t, err)

	assert.Equal(t, AnswerValue{"b"}, sub["a"])
	assert.Equal(t, AnswerValue{"a", "c"}, sub["b"])
	assert.Equal(t, AnswerValue{"true"}, sub["c"])
	assert.Empty(t, sub["d"])

	assert.Error(t, json.Unmarshal([]byte(`{"a":42}`), &sub))
}

func TestSuggestNextDifficulty(t *testing.T) {
	assert.Equal(t, model.DifficultyIntermediate, SuggestNextDifficulty(true, model.DifficultyStandard))
	assert.Equal(t, model.DifficultyMedium, SuggestNextDifficulty(false, model.DifficultyStandard))
	assert.Equal(t, model.DifficultyAdvanced, SuggestNextDifficulty(true, model.DifficultyAdvanced))
	assert.Equal(t, model.DifficultyNormal, SuggestNextDifficulty(false, model.DifficultyNormal))
}
