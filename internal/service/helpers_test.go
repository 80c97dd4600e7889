package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"progression_engine/internal/config"
	"progression_engine/internal/model"
	"progression_engine/internal/repository"
	"progression_engine/pkg/database"
	"progression_engine/pkg/evaluator"
	"progression_engine/pkg/events"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeEvaluator struct {
	mu      sync.Mutex
	calls   int
	batches [][]evaluator.Item
	respond func(items []evaluator.Item) ([]evaluator.Verdict, error)
}

func (f *fakeEvaluator) EvaluateBatch(_ context.Context, _ string, _ int, items []evaluator.Item) ([]evaluator.Verdict, error) {
	f.mu.Lock()
	f.calls++
	f.batches = append(f.batches, items)
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return judgeAll(false)(items)
	}
	return respond(items)
}

func (f *fakeEvaluator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func judgeAll(correct bool) func([]evaluator.Item) ([]evaluator.Verdict, error) {
	return func(items []evaluator.Item) ([]evaluator.Verdict, error) {
		out := make([]evaluator.Verdict, 0, len(items))
		for _, it := range items {
			out = append(out, evaluator.Verdict{QuestionID: it.QuestionID, Correct: correct, Explanation: "judged"})
		}
		return out, nil
	}
}

func testCatalogConfig() config.CatalogConfig {
	return config.CatalogConfig{
		QuizThresholds: map[string]float64{
			"advanced":     60,
			"intermediate": 60,
			"standard":     50,
			"medium":       50,
			"normal":       50,
		},
		TaskThresholds: map[string]float64{"easy": 60, "medium": 70, "hard": 80},
		Courses: []config.CourseConfig{
			{
				ID: "go-101",
				Weeks: []config.WeekConfig{
					{Number: 1, CodingTasks: []config.CodingTaskConfig{{ID: "hello", Title: "Hello", Difficulty: "easy"}}},
					{Number: 2},
				},
			},
			{
				ID: "algo",
				Weeks: []config.WeekConfig{
					{Number: 1, CodingTasks: []config.CodingTaskConfig{
						{ID: "sort", Title: "Sort", Difficulty: "hard"},
						{ID: "search", Title: "Search", Difficulty: "medium", PassingScore: 75},
					}},
				},
			},
			{
				ID: "intro",
				Weeks: []config.WeekConfig{
					{Number: 1},
					{Number: 2, QuizThresholds: map[string]float64{"normal": 90}},
				},
			},
		},
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "progression.db"),
	}, "test")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

type testEngine struct {
	db         *gorm.DB
	catalog    *ConfigCatalog
	eval       *fakeEvaluator
	events     *events.Recorder
	locker     *MemoryLocker
	bank       *repository.QuestionBankRepository
	quizRepo   *repository.QuizRepository
	progress   *ProgressService
	scores     *ScoreService
	assessment *AssessmentService
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	db := newTestDB(t)

	e := &testEngine{
		db:       db,
		catalog:  NewConfigCatalog(testCatalogConfig()),
		eval:     &fakeEvaluator{},
		events:   &events.Recorder{},
		locker:   NewMemoryLocker(100 * time.Millisecond),
		bank:     repository.NewQuestionBankRepository(db),
		quizRepo: repository.NewQuizRepository(db),
	}
	progressRepo := repository.NewProgressRepository(db)
	scoreRepo := repository.NewScoreRepository(db)

	e.progress = NewProgressService(db, progressRepo, scoreRepo, e.catalog, e.locker, e.events)
	e.scores = NewScoreService(e.progress, e.quizRepo, scoreRepo, e.catalog)
	e.assessment = NewAssessmentService(e.quizRepo, e.bank, e.catalog, NewQuizGrader(e.eval), e.scores, e.progress, NewMemoryGradeCache(time.Minute), e.events)
	return e
}

func options(opts ...string) []byte {
	raw, _ := json.Marshal(opts)
	return raw
}

// standardBank 四道封闭题加一道开放题
func standardBank() []model.BankQuestion {
	return []model.BankQuestion{
		{Type: model.QuestionSingleChoice, Prompt: "q1", Options: options("a", "b", "c"), CorrectAnswer: "b", Explanation: "b is right"},
		{Type: model.QuestionMultiChoice, Prompt: "q2", Options: options("a", "b", "c"), CorrectAnswer: "a|c"},
		{Type: model.QuestionTrueFalse, Prompt: "q3", Options: options("true", "false"), CorrectAnswer: "true"},
		{Type: model.QuestionSingleChoice, Prompt: "q4", Options: options("a", "b", "c"), CorrectAnswer: "c"},
		{Type: model.QuestionOpenText, Prompt: "q5", CorrectAnswer: "a goroutine is a lightweight thread"},
	}
}

func (e *testEngine) seedBank(t *testing.T, courseID string, week int, difficulty model.DifficultyLevel, questions []model.BankQuestion) {
	t.Helper()
	for i := range questions {
		questions[i].Order = i + 1
	}
	require.NoError(t, e.bank.ReplaceSlot(context.Background(), courseID, week, difficulty, questions))
}

// answersByPrompt 按题干构造作答，测验中的题目 ID 是随机生成的
func answersByPrompt(quiz *model.Quiz, answers map[string][]string) AnswerSubmission {
	sub := AnswerSubmission{}
	for _, q := range quiz.Questions {
		if a, ok := answers[q.Prompt]; ok {
			sub[q.ID] = AnswerValue(a)
		}
	}
	return sub
}

func allCorrectAnswers() map[string][]string {
	return map[string][]string{
		"q1": {"b"},
		"q2": {"C", "a"},
		"q3": {"true"},
		"q4": {"c"},
		"q5": {"a lightweight thread"},
	}
}

// completeWeek 满足某周全部关卡
func (e *testEngine) completeWeek(t *testing.T, learnerID uint, courseID string, week int) {
	t.Helper()
	ctx := context.Background()
	_, err := e.progress.MarkMaterialRead(ctx, learnerID, courseID, week)
	require.NoError(t, err)
	_, err = e.scores.RecordQuizScore(ctx, learnerID, courseID, week, model.DifficultyNormal, 100)
	require.NoError(t, err)

	tasks, err := e.catalog.CodingTasks(courseID, week)
	require.NoError(t, err)
	for _, task := range tasks {
		_, err := e.scores.RecordCodeScore(ctx, learnerID, courseID, week, task.ID, 100)
		require.NoError(t, err)
	}
}
