package controller

import (
	"eduai_backend/internal/service"
	"eduai_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type LessonController struct {
	LessonService *service.LessonService
}

func NewLessonController(lessonService *service.LessonService) *LessonController {
	return &LessonController{LessonService: lessonService}
}

// @Summary 创建课程
// @Description 立即返回待生成的课程，正文、练习题和测验在后台生成
// @Tags 课程
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param subjectId path string true "科目ID"
// @Param request body service.StartLessonReq true "课程信息"
// @Success 202 {object} util.Response
// @Router /api/subjects/{subjectId}/lessons [post]
func (c *LessonController) StartLesson(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.StartLessonReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	req.SubjectID = ctx.Param("subjectId")
	req.InstructorID = user.UserID

	lesson, err := c.LessonService.StartLesson(ctx.Request.Context(), req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Accepted(ctx, lesson)
}

// @Summary 获取课程详情
// @Description 课程生成完成前不返回练习题
// @Tags 课程
// @Produce json
// @Security BearerAuth
// @Param id path string true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/lessons/{id} [get]
func (c *LessonController) GetLesson(ctx *gin.Context) {
	detail, err := c.LessonService.GetLesson(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Success(ctx, detail)
}

// @Summary 重新生成课程
// @Description 仅生成失败的课程可以重试
// @Tags 课程
// @Produce json
// @Security BearerAuth
// @Param id path string true "课程ID"
// @Success 202 {object} util.Response
// @Router /api/lessons/{id}/retry [post]
func (c *LessonController) RetryLesson(ctx *gin.Context) {
	lesson, err := c.LessonService.RetryLesson(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Accepted(ctx, lesson)
}
