package controller

import (
	"eduai_backend/internal/model"
	"eduai_backend/internal/service"
	"eduai_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type QuizController struct {
	QuizService *service.QuizService
}

func NewQuizController(quizService *service.QuizService) *QuizController {
	return &QuizController{QuizService: quizService}
}

type SubmitQuizReq struct {
	Responses []service.ResponseReq `json:"responses" binding:"dive"`
}

// @Summary 获取或创建测验
// @Description 返回当前未完成的测验版本，已通过时返回 completed
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Param id path string true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/lessons/{id}/quiz [post]
func (c *QuizController) GetOrCreateQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	assignment, err := c.QuizService.GetOrCreateQuiz(ctx.Request.Context(), ctx.Param("id"), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	assignment.Quiz = assignment.Quiz.StudentView()
	util.Success(ctx, assignment)
}

// @Summary 提交测验
// @Description 评分并返回反馈，未通过且有剩余次数时附带新版本测验
// @Tags 测验
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Param request body SubmitQuizReq true "作答"
// @Success 200 {object} util.Response
// @Router /api/quizzes/{id}/submit [post]
func (c *QuizController) SubmitQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req SubmitQuizReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.QuizService.SubmitResponses(ctx.Request.Context(), ctx.Param("id"), user.UserID, req.Responses)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	if result.RegeneratedQuiz != nil {
		result.RegeneratedQuiz = result.RegeneratedQuiz.StudentView()
	}
	util.Success(ctx, result)
}

// @Summary 测验记录
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Param lessonId query string false "课程ID"
// @Success 200 {object} util.Response
// @Router /api/quizzes/attempts [get]
func (c *QuizController) ListAttempts(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	quizzes, err := c.QuizService.ListAttempts(ctx.Request.Context(), user.UserID, ctx.Query("lessonId"))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	views := make([]*model.Quiz, len(quizzes))
	for i := range quizzes {
		views[i] = quizzes[i].StudentView()
	}
	util.Success(ctx, views)
}

// @Summary 测验详情
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response
// @Router /api/quizzes/attempts/{id} [get]
func (c *QuizController) GetAttempt(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	quiz, err := c.QuizService.GetAttempt(ctx.Request.Context(), ctx.Param("id"), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, quiz.StudentView())
}
