package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"progression_engine/internal/model"
	"progression_engine/internal/repository"
	"progression_engine/internal/util"
	"progression_engine/pkg/logger"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// BankFile 内容编写方提供的题库文件
type BankFile struct {
	CourseID string     `yaml:"course_id"`
	Slots    []BankSlot `yaml:"slots"`
}

type BankSlot struct {
	Week       int            `yaml:"week"`
	Difficulty string         `yaml:"difficulty"`
	Questions  []BankFileItem `yaml:"questions"`
}

type BankFileItem struct {
	Type        string   `yaml:"type"`
	Prompt      string   `yaml:"prompt"`
	Options     []string `yaml:"options"`
	Answer      string   `yaml:"answer"` // 多选题用 | 分隔
	Explanation string   `yaml:"explanation"`
}

func ParseBankFile(r io.Reader) (*BankFile, error) {
	var f BankFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: bank file: %v", util.ErrValidation, err)
	}
	return &f, nil
}

type BankImporter struct {
	Repo    *repository.QuestionBankRepository
	Catalog CourseCatalog
}

func NewBankImporter(repo *repository.QuestionBankRepository, catalog CourseCatalog) *BankImporter {
	return &BankImporter{Repo: repo, Catalog: catalog}
}

// Import 校验整个文件后逐个替换题库槽位，返回导入的题目数
func (b *BankImporter) Import(ctx context.Context, f *BankFile) (int, error) {
	total, err := b.Catalog.WeekCount(f.CourseID)
	if err != nil {
		return 0, err
	}

	type slot struct {
		week       int
		difficulty model.DifficultyLevel
		questions  []model.BankQuestion
	}
	slots := make([]slot, 0, len(f.Slots))
	for i, s := range f.Slots {
		level, ok := model.ParseDifficulty(s.Difficulty)
		if !ok {
			return 0, fmt.Errorf("%w: slot %d: unknown difficulty %q", util.ErrValidation, i, s.Difficulty)
		}
		if s.Week < 1 || s.Week > total {
			return 0, fmt.Errorf("%w: slot %d: course %s has no week %d", util.ErrValidation, i, f.CourseID, s.Week)
		}
		questions := make([]model.BankQuestion, 0, len(s.Questions))
		for j, item := range s.Questions {
			q, err := item.toModel(j + 1)
			if err != nil {
				return 0, fmt.Errorf("%w: slot %d question %d: %v", util.ErrValidation, i, j+1, err)
			}
			questions = append(questions, q)
		}
		slots = append(slots, slot{week: s.Week, difficulty: level, questions: questions})
	}

	imported := 0
	for _, s := range slots {
		if err := b.Repo.ReplaceSlot(ctx, f.CourseID, s.week, s.difficulty, s.questions); err != nil {
			return imported, err
		}
		imported += len(s.questions)
		logger.Log.Info("Question bank slot imported",
			zap.String("courseId", f.CourseID),
			zap.Int("week", s.week),
			zap.String("difficulty", string(s.difficulty)),
			zap.Int("questions", len(s.questions)))
	}
	return imported, nil
}

func (item BankFileItem) toModel(order int) (model.BankQuestion, error) {
	typ := model.QuestionType(strings.ToLower(strings.TrimSpace(item.Type)))
	if !typ.Valid() {
		return model.BankQuestion{}, fmt.Errorf("unsupported type %q", item.Type)
	}
	if strings.TrimSpace(item.Prompt) == "" {
		return model.BankQuestion{}, fmt.Errorf("prompt is required")
	}
	// 规范化后为空的答案（如 "|"）任何提交都无法匹配
	answer := NormalizeCorrectAnswer(item.Answer)
	if answer == "" {
		return model.BankQuestion{}, fmt.Errorf("answer is required")
	}

	switch typ {
	case model.QuestionSingleChoice, model.QuestionMultiChoice:
		if len(item.Options) < 2 {
			return model.BankQuestion{}, fmt.Errorf("choice question needs at least two options")
		}
		tokens := strings.Split(answer, AnswerSeparator)
		if typ == model.QuestionSingleChoice && len(tokens) > 1 {
			return model.BankQuestion{}, fmt.Errorf("single choice question has more than one answer")
		}
		known := make(map[string]struct{}, len(item.Options))
		for _, o := range item.Options {
			known[NormalizeChoice([]string{o})] = struct{}{}
		}
		for _, t := range tokens {
			if _, ok := known[t]; !ok {
				return model.BankQuestion{}, fmt.Errorf("answer %q is not one of the options", t)
			}
		}
	case model.QuestionTrueFalse:
		if answer != "true" && answer != "false" {
			return model.BankQuestion{}, fmt.Errorf("true/false answer must be true or false")
		}
	}

	q := model.BankQuestion{
		Order:         order,
		Type:          typ,
		Prompt:        item.Prompt,
		CorrectAnswer: item.Answer,
		Explanation:   item.Explanation,
	}
	if len(item.Options) > 0 {
		raw, err := json.Marshal(item.Options)
		if err != nil {
			return model.BankQuestion{}, err
		}
		q.Options = raw
	}
	return q, nil
}
