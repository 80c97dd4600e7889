package app

import (
	"progression_engine/docs"
	"progression_engine/internal/config"
	"progression_engine/internal/middleware"
	"progression_engine/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerLearnerRoutes(authGroup, c)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.GET("/difficulties", c.assessment.ListDifficulties)
	}
}

func (a *App) registerLearnerRoutes(group *gin.RouterGroup, c *controllers) {
	courses := group.Group("/courses/:courseId")
	{
		courses.GET("/progress", c.progress.GetCourseProgress)
		courses.POST("/advance", c.progress.AdvanceWeek)

		weeks := courses.Group("/weeks/:week")
		{
			weeks.GET("/quiz", c.assessment.GetQuiz)
			weeks.POST("/quiz/submit", c.assessment.SubmitQuiz)
			weeks.GET("/progress", c.progress.GetWeekProgress)
			weeks.POST("/material-read", c.progress.MarkMaterialRead)
			weeks.POST("/tasks/:taskId/score", c.progress.RecordCodeScore)
		}
	}
}
