package controller

import (
	"progression_engine/internal/service"
	"progression_engine/internal/util"

	"github.com/gin-gonic/gin"
)

type ProgressController struct {
	ProgressService *service.ProgressService
	ScoreService    *service.ScoreService
}

func NewProgressController(progressService *service.ProgressService, scoreService *service.ScoreService) *ProgressController {
	return &ProgressController{
		ProgressService: progressService,
		ScoreService:    scoreService,
	}
}

type RecordCodeScoreRequest struct {
	Score *float64 `json:"score" binding:"required"`
}

// @Summary 本周进度
// @Description 返回关卡状态、编程任务成绩和各难度测验成绩
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param week path int true "周序号"
// @Success 200 {object} util.Response{data=service.WeekProgressView}
// @Failure 404 {object} util.Response
// @Router /courses/{courseId}/weeks/{week}/progress [get]
func (c *ProgressController) GetWeekProgress(ctx *gin.Context) {
	learnerID, courseID, week, ok := learnerWeek(ctx)
	if !ok {
		return
	}

	view, err := c.ProgressService.GetWeekProgress(ctx.Request.Context(), learnerID, courseID, week)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// @Summary 标记资料已读
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param week path int true "周序号"
// @Success 200 {object} util.Response{data=model.WeekProgress}
// @Failure 412 {object} util.Response
// @Router /courses/{courseId}/weeks/{week}/material-read [post]
func (c *ProgressController) MarkMaterialRead(ctx *gin.Context) {
	learnerID, courseID, week, ok := learnerWeek(ctx)
	if !ok {
		return
	}

	progress, err := c.ProgressService.MarkMaterialRead(ctx.Request.Context(), learnerID, courseID, week)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, progress)
}

// @Summary 提交编程任务成绩
// @Description 由编程模块调用；本周全部任务达到及格线后编程关卡完成
// @Tags 学习进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param week path int true "周序号"
// @Param taskId path string true "任务ID"
// @Param body body RecordCodeScoreRequest true "成绩 0-100"
// @Success 200 {object} util.Response{data=service.CodeScoreOutcome}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /courses/{courseId}/weeks/{week}/tasks/{taskId}/score [post]
func (c *ProgressController) RecordCodeScore(ctx *gin.Context) {
	learnerID, courseID, week, ok := learnerWeek(ctx)
	if !ok {
		return
	}

	var req RecordCodeScoreRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	outcome, err := c.ScoreService.RecordCodeScore(ctx.Request.Context(), learnerID, courseID, week, ctx.Param("taskId"), *req.Score)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, outcome)
}

// @Summary 进入下一周
// @Description 当前周完成后推进；最后一周完成时返回课程结束
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Success 200 {object} util.Response{data=service.AdvanceResult}
// @Failure 409 {object} util.Response
// @Router /courses/{courseId}/advance [post]
func (c *ProgressController) AdvanceWeek(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	result, err := c.ProgressService.AdvanceWeek(ctx.Request.Context(), user.UserID, ctx.Param("courseId"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// @Summary 课程进度概览
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Success 200 {object} util.Response{data=service.CourseProgressView}
// @Router /courses/{courseId}/progress [get]
func (c *ProgressController) GetCourseProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.ProgressService.GetCourseProgress(ctx.Request.Context(), user.UserID, ctx.Param("courseId"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, view)
}
