package app

import (
	"eduai_backend/internal/middleware"
	"eduai_backend/internal/util"
	"eduai_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	router.GET("/api/health", c.health.HealthCheck)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(a.Config.JWT.Secret))
	{
		a.registerStudentRoutes(authGroup, c)
		a.registerInstructorRoutes(authGroup, c)
	}
}

func (a *App) registerStudentRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/lessons/:id", c.lesson.GetLesson)
	rg.GET("/subjects/:subjectId/progress", c.progress.GetSubjectProgress)
	rg.GET("/dashboard/student", c.progress.GetStudentDashboard)

	student := rg.Group("")
	student.Use(middleware.RoleMiddleware(util.RoleStudent))
	{
		student.POST("/lessons/:id/quiz", c.quiz.GetOrCreateQuiz)
		student.POST("/quizzes/:id/submit", c.quiz.SubmitQuiz)
		student.GET("/quizzes/attempts", c.quiz.ListAttempts)
		student.GET("/quizzes/attempts/:id", c.quiz.GetAttempt)
	}
}

func (a *App) registerInstructorRoutes(rg *gin.RouterGroup, c *controllers) {
	instructor := rg.Group("")
	instructor.Use(middleware.RoleMiddleware(util.RoleInstructor))
	{
		instructor.POST("/subjects/:subjectId/lessons", c.lesson.StartLesson)
		instructor.POST("/lessons/:id/retry", c.lesson.RetryLesson)
	}
}
