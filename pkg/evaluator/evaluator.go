// Package evaluator 调用 OpenAI 兼容的大模型接口批量评判开放题
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"progression_engine/internal/config"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Item 一道开放题的评判请求
type Item struct {
	QuestionID      string `json:"question_id"`
	Prompt          string `json:"prompt"`
	SubmittedText   string `json:"submitted_text"`
	ReferenceAnswer string `json:"reference_answer"`
}

// Verdict 评判结果，Correct 为布尔值而非字符串
type Verdict struct {
	QuestionID  string `json:"question_id"`
	Correct     bool   `json:"correct"`
	Explanation string `json:"explanation,omitempty"`
}

type batchResponse struct {
	Verdicts []Verdict `json:"verdicts"`
}

const systemPrompt = `You grade free-text quiz answers for a programming course.
For every item decide whether submitted_text means the same as reference_answer in the context of prompt.
Ignore spelling, wording and formatting differences; judge meaning only.
Return exactly one verdict per item, keyed by the item's question_id, with a one sentence explanation.`

var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"verdicts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question_id": map[string]any{"type": "string"},
					"correct":     map[string]any{"type": "boolean"},
					"explanation": map[string]any{"type": "string"},
				},
				"required":             []string{"question_id", "correct", "explanation"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"verdicts"},
	"additionalProperties": false,
}

type LLMEvaluator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewLLMEvaluator(cfg config.EvaluatorConfig) (*LLMEvaluator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("evaluator api key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &LLMEvaluator{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: cfg.Timeout(),
	}, nil
}

// EvaluateBatch 一次请求评判全部开放题；不做重试，失败直接返回
func (e *LLMEvaluator) EvaluateBatch(ctx context.Context, courseID string, week int, items []Item) ([]Verdict, error) {
	if len(items) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(map[string]any{
		"course": courseID,
		"week":   week,
		"items":  items,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation items: %w", err)
	}

	schema, err := json.Marshal(verdictSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal verdict schema: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "open-answer-verdicts",
				Schema: json.RawMessage(schema),
				Strict: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("evaluator request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("evaluator returned no choices")
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		return nil, errors.New("evaluator response truncated")
	}

	var out batchResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("decode evaluator response: %w", err)
	}
	return out.Verdicts, nil
}
