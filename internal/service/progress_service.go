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
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ProgressService struct {
	DB           *gorm.DB
	ProgressRepo *repository.ProgressRepository
	ScoreRepo    *repository.ScoreRepository
	Catalog      CourseCatalog
	Locker       Locker
	Events       EventPublisher
}

func NewProgressService(
	db *gorm.DB,
	progressRepo *repository.ProgressRepository,
	scoreRepo *repository.ScoreRepository,
	catalog CourseCatalog,
	locker Locker,
	events EventPublisher,
) *ProgressService {
	return &ProgressService{
		DB:           db,
		ProgressRepo: progressRepo,
		ScoreRepo:    scoreRepo,
		Catalog:      catalog,
		Locker:       locker,
		Events:       events,
	}
}

type CodingTaskStatus struct {
	CodingTask
	Threshold float64  `json:"threshold"`
	Score     *float64 `json:"score,omitempty"` // 最近一次提交的成绩
	BestScore *float64 `json:"bestScore,omitempty"`
	Passed    bool     `json:"passed"` // 按最好成绩判断
}

type DifficultyScore struct {
	Difficulty model.DifficultyLevel `json:"difficulty"`
	Percentage float64               `json:"percentage"`
	Passed     bool                  `json:"passed"`
	RecordedAt time.Time             `json:"recordedAt"`
}

// WeekProgressView 一次调用返回某周的完整视图
type WeekProgressView struct {
	CourseID      string             `json:"courseId"`
	Week          int                `json:"week"`
	Unlocked      bool               `json:"unlocked"`
	State         model.WeekState    `json:"state"`
	MaterialRead  bool               `json:"materialRead"`
	QuizCompleted bool               `json:"quizCompleted"`
	CodeCompleted bool               `json:"codeCompleted"`
	RequiresCode  bool               `json:"requiresCode"`
	WeekComplete  bool               `json:"weekComplete"`
	CompletedAt   *time.Time         `json:"completedAt,omitempty"`
	CodingTasks   []CodingTaskStatus `json:"codingTasks"`
	QuizScores    []DifficultyScore  `json:"quizScores"`
}

type AdvanceResult struct {
	PreviousWeek   int  `json:"previousWeek"`
	NextWeek       int  `json:"nextWeek,omitempty"`
	CourseFinished bool `json:"courseFinished"`
}

type CourseWeekSummary struct {
	Week         int             `json:"week"`
	State        model.WeekState `json:"state"`
	WeekComplete bool            `json:"weekComplete"`
	Unlocked     bool            `json:"unlocked"`
}

type CourseProgressView struct {
	CourseID       string              `json:"courseId"`
	CurrentWeek    int                 `json:"currentWeek"`
	TotalWeeks     int                 `json:"totalWeeks"`
	CourseFinished bool                `json:"courseFinished"`
	FinishedAt     *time.Time          `json:"finishedAt,omitempty"`
	Weeks          []CourseWeekSummary `json:"weeks"`
}

type WeekCompletedEvent struct {
	LearnerID   uint      `json:"learnerId"`
	CourseID    string    `json:"courseId"`
	Week        int       `json:"week"`
	CompletedAt time.Time `json:"completedAt"`
}

// weekMutation 在锁与事务内修改周进度；返回的错误会回滚整个事务
type weekMutation func(ctx context.Context, tx *gorm.DB, p *model.WeekProgress) error

type weekUpdate struct {
	Progress     *model.WeekProgress
	CompletedNow bool
}

// checkWeek 校验周号存在，且不超过学习者当前所在周
func (s *ProgressService) checkWeek(ctx context.Context, repo *repository.ProgressRepository, learnerID uint, courseID string, week int) (*model.CourseEnrollment, error) {
	total, err := s.Catalog.WeekCount(courseID)
	if err != nil {
		return nil, err
	}
	if week < 1 || week > total {
		return nil, fmt.Errorf("%w: course %s has no week %d", util.ErrNotFound, courseID, week)
	}

	enrollment, err := repo.FindOrCreateEnrollment(ctx, learnerID, courseID)
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

func unlocked(enrollment *model.CourseEnrollment, week int) bool {
	return week <= enrollment.CurrentWeek
}

func (s *ProgressService) ensureUnlocked(ctx context.Context, repo *repository.ProgressRepository, learnerID uint, courseID string, week int) error {
	enrollment, err := s.checkWeek(ctx, repo, learnerID, courseID, week)
	if err != nil {
		return err
	}
	if !unlocked(enrollment, week) {
		return fmt.Errorf("%w: week %d is locked, current week is %d", util.ErrPreconditionFailed, week, enrollment.CurrentWeek)
	}
	return nil
}

func (s *ProgressService) weekRow(ctx context.Context, repo *repository.ProgressRepository, learnerID uint, courseID string, week int) (*model.WeekProgress, error) {
	tasks, err := s.Catalog.CodingTasks(courseID, week)
	if err != nil {
		return nil, err
	}
	return repo.FindOrCreateWeek(ctx, learnerID, courseID, week, len(tasks) > 0)
}

// updateWeek 持有周锁并在单个事务内执行修改；周状态首次变为完成时记录完成时间并发布事件
func (s *ProgressService) updateWeek(ctx context.Context, learnerID uint, courseID string, week int, mutate weekMutation) (*weekUpdate, error) {
	unlock, err := s.Locker.Lock(ctx, ProgressLockKey(learnerID, courseID, week))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out weekUpdate
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.ProgressRepo.WithTx(tx)
		if err := s.ensureUnlocked(ctx, repo, learnerID, courseID, week); err != nil {
			return err
		}

		p, err := s.weekRow(ctx, repo, learnerID, courseID, week)
		if err != nil {
			return err
		}
		wasComplete := p.WeekComplete()

		if err := mutate(ctx, tx, p); err != nil {
			return err
		}

		if !wasComplete && p.WeekComplete() {
			now := time.Now()
			p.CompletedAt = &now
			out.CompletedNow = true
		}
		if err := repo.SaveWeek(ctx, p); err != nil {
			return err
		}
		out.Progress = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.CompletedNow {
		monitoring.WeekCompletions.Inc()
		logger.Log.Info("Week completed",
			zap.Uint("learnerId", learnerID),
			zap.String("courseId", courseID),
			zap.Int("week", week))
		s.publish(ctx, EventWeekCompleted, WeekCompletedEvent{
			LearnerID:   learnerID,
			CourseID:    courseID,
			Week:        week,
			CompletedAt: *out.Progress.CompletedAt,
		})
	}
	return &out, nil
}

// publish 事件发布失败不影响已提交的写入
func (s *ProgressService) publish(ctx context.Context, eventType string, payload interface{}) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, eventType, payload); err != nil {
		logger.Log.Warn("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

// MarkMaterialRead 由阅读模块调用，重复调用无副作用
func (s *ProgressService) MarkMaterialRead(ctx context.Context, learnerID uint, courseID string, week int) (*model.WeekProgress, error) {
	res, err := s.updateWeek(ctx, learnerID, courseID, week, func(_ context.Context, _ *gorm.DB, p *model.WeekProgress) error {
		p.MaterialRead = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res.Progress, nil
}

// GetWeekProgress 聚合关卡状态、编程任务和各难度成绩。
// 已解锁的周在首次访问时创建进度记录；未解锁的周只读返回空状态。
func (s *ProgressService) GetWeekProgress(ctx context.Context, learnerID uint, courseID string, week int) (*WeekProgressView, error) {
	enrollment, err := s.checkWeek(ctx, s.ProgressRepo, learnerID, courseID, week)
	if err != nil {
		return nil, err
	}

	var p *model.WeekProgress
	if unlocked(enrollment, week) {
		p, err = s.weekRow(ctx, s.ProgressRepo, learnerID, courseID, week)
	} else {
		p, err = s.ProgressRepo.FindWeek(ctx, learnerID, courseID, week)
		if errors.Is(err, util.ErrNotFound) {
			tasks, terr := s.Catalog.CodingTasks(courseID, week)
			if terr != nil {
				return nil, terr
			}
			p, err = &model.WeekProgress{LearnerID: learnerID, CourseID: courseID, Week: week, RequiresCode: len(tasks) > 0}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	view := &WeekProgressView{
		CourseID:      courseID,
		Week:          week,
		Unlocked:      unlocked(enrollment, week),
		State:         p.State(),
		MaterialRead:  p.MaterialRead,
		QuizCompleted: p.QuizCompleted,
		CodeCompleted: p.CodeCompleted,
		RequiresCode:  p.RequiresCode,
		WeekComplete:  p.WeekComplete(),
		CompletedAt:   p.CompletedAt,
		CodingTasks:   []CodingTaskStatus{},
		QuizScores:    []DifficultyScore{},
	}

	tasks, err := s.Catalog.CodingTasks(courseID, week)
	if err != nil {
		return nil, err
	}
	codeScores, err := s.ScoreRepo.ListCodeScores(ctx, learnerID, courseID, week)
	if err != nil {
		return nil, err
	}
	byTask := make(map[string]model.CodeScore, len(codeScores))
	for _, cs := range codeScores {
		byTask[cs.TaskID] = cs
	}
	for _, t := range tasks {
		threshold, err := s.Catalog.GetTaskPassingThreshold(courseID, t.ID)
		if err != nil {
			return nil, err
		}
		status := CodingTaskStatus{CodingTask: t, Threshold: threshold}
		if cs, ok := byTask[t.ID]; ok {
			latest, best := cs.Score, cs.BestScore
			status.Score = &latest
			status.BestScore = &best
			status.Passed = best >= threshold
		}
		view.CodingTasks = append(view.CodingTasks, status)
	}

	quizScores, err := s.ScoreRepo.ListQuizScores(ctx, learnerID, courseID, week)
	if err != nil {
		return nil, err
	}
	// 最难的排在前面
	sort.Slice(quizScores, func(i, j int) bool {
		return quizScores[i].Difficulty.Rank() < quizScores[j].Difficulty.Rank()
	})
	for _, qs := range quizScores {
		if qs.Difficulty.Rank() < 0 {
			continue
		}
		view.QuizScores = append(view.QuizScores, DifficultyScore{
			Difficulty: qs.Difficulty,
			Percentage: qs.Percentage,
			Passed:     qs.Passed,
			RecordedAt: qs.RecordedAt,
		})
	}
	return view, nil
}

// AdvanceWeek 当前周完成后推进到下一周；最后一周完成时返回课程结束
func (s *ProgressService) AdvanceWeek(ctx context.Context, learnerID uint, courseID string) (*AdvanceResult, error) {
	total, err := s.Catalog.WeekCount(courseID)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.ProgressRepo.FindOrCreateEnrollment(ctx, learnerID, courseID)
	if err != nil {
		return nil, err
	}
	if enrollment.Finished() {
		return &AdvanceResult{PreviousWeek: enrollment.CurrentWeek, CourseFinished: true}, nil
	}

	current := enrollment.CurrentWeek
	unlock, err := s.Locker.Lock(ctx, ProgressLockKey(learnerID, courseID, current))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.ProgressRepo.FindWeek(ctx, learnerID, courseID, current)
	if err != nil && !errors.Is(err, util.ErrNotFound) {
		return nil, err
	}
	if p == nil || !p.WeekComplete() {
		state := model.WeekNotStarted
		if p != nil {
			state = p.State()
		}
		return nil, fmt.Errorf("%w: week %d is %s, not complete", util.ErrInvalidTransition, current, state)
	}

	result := &AdvanceResult{PreviousWeek: current}
	var finishedAt *time.Time
	next := current + 1
	if current >= total {
		now := time.Now()
		finishedAt = &now
		next = current
		result.CourseFinished = true
	} else {
		result.NextWeek = next
	}

	if err := s.ProgressRepo.AdvanceEnrollment(ctx, enrollment.ID, current, next, finishedAt); err != nil {
		return nil, err
	}

	logger.Log.Info("Learner advanced",
		zap.Uint("learnerId", learnerID),
		zap.String("courseId", courseID),
		zap.Int("fromWeek", current),
		zap.Int("toWeek", next),
		zap.Bool("courseFinished", result.CourseFinished))
	return result, nil
}

// GetCourseProgress 按周号排列的课程进度概览
func (s *ProgressService) GetCourseProgress(ctx context.Context, learnerID uint, courseID string) (*CourseProgressView, error) {
	total, err := s.Catalog.WeekCount(courseID)
	if err != nil {
		return nil, err
	}
	enrollment, err := s.ProgressRepo.FindOrCreateEnrollment(ctx, learnerID, courseID)
	if err != nil {
		return nil, err
	}
	rows, err := s.ProgressRepo.ListWeeks(ctx, learnerID, courseID)
	if err != nil {
		return nil, err
	}
	byWeek := make(map[int]*model.WeekProgress, len(rows))
	for i := range rows {
		byWeek[rows[i].Week] = &rows[i]
	}

	view := &CourseProgressView{
		CourseID:       courseID,
		CurrentWeek:    enrollment.CurrentWeek,
		TotalWeeks:     total,
		CourseFinished: enrollment.Finished(),
		FinishedAt:     enrollment.FinishedAt,
		Weeks:          make([]CourseWeekSummary, 0, total),
	}
	for w := 1; w <= total; w++ {
		summary := CourseWeekSummary{Week: w, State: model.WeekNotStarted, Unlocked: unlocked(enrollment, w)}
		if p, ok := byWeek[w]; ok {
			summary.State = p.State()
			summary.WeekComplete = p.WeekComplete()
		}
		view.Weeks = append(view.Weeks, summary)
	}
	return view, nil
}
