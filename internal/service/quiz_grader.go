package service

import (
	"context"
	"encoding/json"
	"fmt"
	"progression_engine/internal/model"
	"progression_engine/internal/util"
	"progression_engine/pkg/evaluator"
	"progression_engine/pkg/logger"
	"progression_engine/pkg/monitoring"
	"progression_engine/pkg/tracing"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// AnswerValue 单个题目的作答，兼容字符串、布尔值和字符串数组
type AnswerValue []string

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*v = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = AnswerValue{s}
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = AnswerValue{strconv.FormatBool(b)}
		return nil
	}
	return fmt.Errorf("answer must be a string, a boolean or an array of strings")
}

// AnswerSubmission 题目 ID 到学习者原始作答的映射，不落库
type AnswerSubmission map[string]AnswerValue

type QuestionOutcome struct {
	QuestionID  string             `json:"questionId"`
	Type        model.QuestionType `json:"type"`
	Correct     bool               `json:"correct"`
	Explanation string             `json:"explanation,omitempty"`
}

// GradingResult 评分结果；Percentage = 100 * CorrectCount / TotalQuestions
type GradingResult struct {
	QuizID         string                     `json:"quizId"`
	Outcomes       map[string]QuestionOutcome `json:"outcomes"`
	CorrectCount   int                        `json:"correctCount"`
	TotalQuestions int                        `json:"totalQuestions"`
	Percentage     float64                    `json:"percentage"`
}

type QuizGrader struct {
	evaluator OpenAnswerEvaluator
}

func NewQuizGrader(e OpenAnswerEvaluator) *QuizGrader {
	return &QuizGrader{evaluator: e}
}

// Grade 本地评判封闭题，开放题合并为一次批量请求交给评判服务。
// 评判服务失败时整体失败，不返回部分成绩。无副作用。
func (g *QuizGrader) Grade(ctx context.Context, quiz *model.Quiz, submission AnswerSubmission) (*GradingResult, error) {
	if err := validateSubmission(quiz, submission); err != nil {
		return nil, err
	}

	result := &GradingResult{
		QuizID:         quiz.ID,
		Outcomes:       make(map[string]QuestionOutcome, len(quiz.Questions)),
		TotalQuestions: len(quiz.Questions),
	}

	var open []evaluator.Item
	for _, q := range quiz.Questions {
		answer := submission[q.ID]
		switch q.Type {
		case model.QuestionSingleChoice, model.QuestionMultiChoice, model.QuestionTrueFalse:
			result.Outcomes[q.ID] = QuestionOutcome{
				QuestionID:  q.ID,
				Type:        q.Type,
				Correct:     AnswersEqual(answer, q.CorrectAnswer),
				Explanation: q.Explanation,
			}
		case model.QuestionOpenText:
			text := ""
			if len(answer) == 1 {
				text = answer[0]
			}
			open = append(open, evaluator.Item{
				QuestionID:      q.ID,
				Prompt:          q.Prompt,
				SubmittedText:   text,
				ReferenceAnswer: q.CorrectAnswer,
			})
		default:
			return nil, fmt.Errorf("%w: question %s has unsupported type %q", util.ErrValidation, q.ID, q.Type)
		}
	}

	if len(open) > 0 {
		verdicts, err := g.evaluateOpen(ctx, quiz, open)
		if err != nil {
			return nil, err
		}
		for _, item := range open {
			v := verdicts[item.QuestionID]
			result.Outcomes[item.QuestionID] = QuestionOutcome{
				QuestionID:  item.QuestionID,
				Type:        model.QuestionOpenText,
				Correct:     v.Correct,
				Explanation: v.Explanation,
			}
		}
	}

	for _, o := range result.Outcomes {
		if o.Correct {
			result.CorrectCount++
		}
	}
	result.Percentage = Percentage(result.CorrectCount, result.TotalQuestions)
	return result, nil
}

func (g *QuizGrader) evaluateOpen(ctx context.Context, quiz *model.Quiz, items []evaluator.Item) (map[string]evaluator.Verdict, error) {
	ctx, span := tracing.Tracer.Start(ctx, "QuizGrader.evaluateOpen")
	defer span.End()
	span.SetAttributes(attribute.Int("evaluator.items", len(items)))

	if g.evaluator == nil {
		monitoring.EvaluatorRequests.WithLabelValues("unconfigured").Inc()
		return nil, fmt.Errorf("%w: no evaluator configured", util.ErrEvaluationUnavailable)
	}

	verdicts, err := g.evaluator.EvaluateBatch(ctx, quiz.CourseID, quiz.Week, items)
	if err != nil {
		monitoring.EvaluatorRequests.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluator failed")
		logger.Log.Warn("Open answer evaluation failed",
			zap.String("quizId", quiz.ID),
			zap.Int("items", len(items)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", util.ErrEvaluationUnavailable, err)
	}

	byID, err := matchVerdicts(items, verdicts)
	if err != nil {
		monitoring.EvaluatorRequests.WithLabelValues("malformed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluator response malformed")
		logger.Log.Warn("Open answer evaluation returned a malformed batch", zap.String("quizId", quiz.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", util.ErrEvaluationUnavailable, err)
	}

	monitoring.EvaluatorRequests.WithLabelValues("ok").Inc()
	return byID, nil
}

// matchVerdicts 每个请求项必须恰好对应一条结果，顺序不限
func matchVerdicts(items []evaluator.Item, verdicts []evaluator.Verdict) (map[string]evaluator.Verdict, error) {
	wanted := make(map[string]bool, len(items))
	for _, it := range items {
		wanted[it.QuestionID] = true
	}

	byID := make(map[string]evaluator.Verdict, len(verdicts))
	for _, v := range verdicts {
		if !wanted[v.QuestionID] {
			return nil, fmt.Errorf("verdict for unexpected question %q", v.QuestionID)
		}
		if _, dup := byID[v.QuestionID]; dup {
			return nil, fmt.Errorf("duplicate verdict for question %q", v.QuestionID)
		}
		byID[v.QuestionID] = v
	}
	if len(byID) != len(items) {
		var missing []string
		for id := range wanted {
			if _, ok := byID[id]; !ok {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("missing verdicts for questions %s", strings.Join(missing, ","))
	}
	return byID, nil
}

func validateSubmission(quiz *model.Quiz, submission AnswerSubmission) error {
	if len(quiz.Questions) == 0 {
		return fmt.Errorf("%w: quiz has no questions", util.ErrValidation)
	}

	known := make(map[string]model.QuestionType, len(quiz.Questions))
	for _, q := range quiz.Questions {
		known[q.ID] = q.Type
	}

	for id := range submission {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: answer for unknown question %s", util.ErrValidation, id)
		}
	}
	for id, typ := range known {
		answer, ok := submission[id]
		if !ok {
			return fmt.Errorf("%w: missing answer for question %s", util.ErrValidation, id)
		}
		if typ == model.QuestionOpenText && len(answer) > 1 {
			return fmt.Errorf("%w: open question %s expects a single text answer", util.ErrValidation, id)
		}
	}
	return nil
}

func Percentage(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(correct) / float64(total)
}
