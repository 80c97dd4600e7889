package controller

import (
	"progression_engine/internal/model"
	"progression_engine/internal/service"
	"progression_engine/internal/util"

	"github.com/gin-gonic/gin"
)

type AssessmentController struct {
	AssessmentService *service.AssessmentService
}

func NewAssessmentController(assessmentService *service.AssessmentService) *AssessmentController {
	return &AssessmentController{AssessmentService: assessmentService}
}

type SubmitQuizRequest struct {
	Difficulty string                   `json:"difficulty" binding:"required"`
	Answers    service.AnswerSubmission `json:"answers" binding:"required"`
}

// learnerWeek 读取当前学习者以及路径中的课程和周
func learnerWeek(ctx *gin.Context) (uint, string, int, bool) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return 0, "", 0, false
	}
	week, err := util.ParseWeek(ctx.Param("week"))
	if err != nil {
		util.RespondError(ctx, err)
		return 0, "", 0, false
	}
	return user.UserID, ctx.Param("courseId"), week, true
}

// @Summary 获取测验
// @Description 获取或创建学习者在某周某难度下的测验，重复获取返回同一份测验；不包含答案
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param week path int true "周序号"
// @Param difficulty query string true "难度 advanced|intermediate|standard|medium|normal"
// @Success 200 {object} util.Response{data=service.QuizView}
// @Failure 404 {object} util.Response
// @Failure 412 {object} util.Response
// @Router /courses/{courseId}/weeks/{week}/quiz [get]
func (c *AssessmentController) GetQuiz(ctx *gin.Context) {
	learnerID, courseID, week, ok := learnerWeek(ctx)
	if !ok {
		return
	}

	quiz, err := c.AssessmentService.GetQuiz(ctx.Request.Context(), learnerID, courseID, week, model.DifficultyLevel(ctx.Query("difficulty")))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, service.NewQuizView(quiz))
}

// @Summary 提交测验
// @Description 评分并保存成绩，返回各题结果、是否及格、建议的下一难度和本周进度
// @Tags 测验
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param week path int true "周序号"
// @Param body body SubmitQuizRequest true "作答，键为题目ID"
// @Success 200 {object} util.Response{data=service.SubmitResult}
// @Failure 400 {object} util.Response
// @Failure 409 {object} util.Response
// @Failure 503 {object} util.Response
// @Router /courses/{courseId}/weeks/{week}/quiz/submit [post]
func (c *AssessmentController) SubmitQuiz(ctx *gin.Context) {
	learnerID, courseID, week, ok := learnerWeek(ctx)
	if !ok {
		return
	}

	var req SubmitQuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.AssessmentService.SubmitQuiz(ctx.Request.Context(), learnerID, courseID, week, model.DifficultyLevel(req.Difficulty), req.Answers)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// @Summary 难度阶梯
// @Description 从难到易排列的全部难度
// @Tags 测验
// @Produce json
// @Success 200 {object} util.Response
// @Router /difficulties [get]
func (c *AssessmentController) ListDifficulties(ctx *gin.Context) {
	util.Success(ctx, model.Levels())
}
