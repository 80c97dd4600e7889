package service

import (
	"fmt"
	"progression_engine/internal/config"
	"progression_engine/internal/model"
	"progression_engine/internal/util"
	"strings"
	"sync"
)

// 配置中缺失及格线时使用的默认值
const DefaultPassingThreshold = 60.0

type catalogWeek struct {
	thresholds map[model.DifficultyLevel]float64
	tasks      []config.CodingTaskConfig
}

type catalogCourse struct {
	weeks []catalogWeek
}

// ConfigCatalog 基于配置文件的课程目录，支持热更新
type ConfigCatalog struct {
	mu             sync.RWMutex
	quizThresholds map[model.DifficultyLevel]float64
	taskThresholds map[string]float64
	courses        map[string]*catalogCourse
}

func NewConfigCatalog(cfg config.CatalogConfig) *ConfigCatalog {
	c := &ConfigCatalog{}
	c.Update(cfg)
	return c
}

// Update 替换整个目录，由配置热加载回调调用
func (c *ConfigCatalog) Update(cfg config.CatalogConfig) {
	quiz := parseQuizThresholds(cfg.QuizThresholds)
	tasks := make(map[string]float64, len(cfg.TaskThresholds))
	for k, v := range cfg.TaskThresholds {
		tasks[strings.ToLower(k)] = v
	}

	courses := make(map[string]*catalogCourse, len(cfg.Courses))
	for _, course := range cfg.Courses {
		cc := &catalogCourse{weeks: make([]catalogWeek, len(course.Weeks))}
		for i, w := range course.Weeks {
			cc.weeks[i] = catalogWeek{
				thresholds: parseQuizThresholds(w.QuizThresholds),
				tasks:      append([]config.CodingTaskConfig(nil), w.CodingTasks...),
			}
		}
		courses[course.ID] = cc
	}

	c.mu.Lock()
	c.quizThresholds = quiz
	c.taskThresholds = tasks
	c.courses = courses
	c.mu.Unlock()
}

func parseQuizThresholds(raw map[string]float64) map[model.DifficultyLevel]float64 {
	out := make(map[model.DifficultyLevel]float64, len(raw))
	for k, v := range raw {
		if level, ok := model.ParseDifficulty(k); ok {
			out[level] = v
		}
	}
	return out
}

func (c *ConfigCatalog) course(courseID string) (*catalogCourse, error) {
	cc, ok := c.courses[courseID]
	if !ok {
		return nil, fmt.Errorf("%w: course %q", util.ErrNotFound, courseID)
	}
	return cc, nil
}

func (c *ConfigCatalog) week(courseID string, week int) (*catalogWeek, error) {
	cc, err := c.course(courseID)
	if err != nil {
		return nil, err
	}
	if week < 1 || week > len(cc.weeks) {
		return nil, fmt.Errorf("%w: course %q has no week %d", util.ErrNotFound, courseID, week)
	}
	return &cc.weeks[week-1], nil
}

func (c *ConfigCatalog) WeekCount(courseID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cc, err := c.course(courseID)
	if err != nil {
		return 0, err
	}
	return len(cc.weeks), nil
}

func (c *ConfigCatalog) CodingTasks(courseID string, week int) ([]CodingTask, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w, err := c.week(courseID, week)
	if err != nil {
		return nil, err
	}
	tasks := make([]CodingTask, 0, len(w.tasks))
	for _, t := range w.tasks {
		tasks = append(tasks, CodingTask{ID: t.ID, Title: t.Title, Difficulty: strings.ToLower(t.Difficulty)})
	}
	return tasks, nil
}

// GetPassingThreshold 周覆盖值优先，其次难度默认值
func (c *ConfigCatalog) GetPassingThreshold(courseID string, week int, difficulty model.DifficultyLevel) (float64, error) {
	if !difficulty.Valid() {
		return 0, fmt.Errorf("%w: unknown difficulty %q", util.ErrPreconditionFailed, difficulty)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	w, err := c.week(courseID, week)
	if err != nil {
		return 0, err
	}
	if v, ok := w.thresholds[difficulty]; ok {
		return v, nil
	}
	if v, ok := c.quizThresholds[difficulty]; ok {
		return v, nil
	}
	return DefaultPassingThreshold, nil
}

// GetTaskPassingThreshold 任务自身 passing_score 优先，其次按任务难度查策略表
func (c *ConfigCatalog) GetTaskPassingThreshold(courseID, taskID string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cc, err := c.course(courseID)
	if err != nil {
		return 0, err
	}
	for _, w := range cc.weeks {
		for _, t := range w.tasks {
			if t.ID != taskID {
				continue
			}
			if t.PassingScore > 0 {
				return t.PassingScore, nil
			}
			if v, ok := c.taskThresholds[strings.ToLower(t.Difficulty)]; ok {
				return v, nil
			}
			return DefaultPassingThreshold, nil
		}
	}
	return 0, fmt.Errorf("%w: coding task %q in course %q", util.ErrNotFound, taskID, courseID)
}
