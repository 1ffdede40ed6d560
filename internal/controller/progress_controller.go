package controller

import (
	"eduai_backend/internal/service"
	"eduai_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ProgressController struct {
	ProgressService *service.ProgressService
}

func NewProgressController(progressService *service.ProgressService) *ProgressController {
	return &ProgressController{ProgressService: progressService}
}

// targetStudent 学生只能查看自己；教师和管理员通过 studentId 参数指定
func targetStudent(ctx *gin.Context) (string, bool) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return "", false
	}
	if user.Role == util.RoleStudent {
		return user.UserID, true
	}
	if id := ctx.Query("studentId"); id != "" {
		return id, true
	}
	util.BadRequest(ctx, "studentId is required")
	return "", false
}

// @Summary 科目学习进度
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Param subjectId path string true "科目ID"
// @Param studentId query string false "学生ID（教师/管理员）"
// @Success 200 {object} util.Response
// @Router /api/subjects/{subjectId}/progress [get]
func (c *ProgressController) GetSubjectProgress(ctx *gin.Context) {
	studentID, ok := targetStudent(ctx)
	if !ok {
		return
	}

	detail, err := c.ProgressService.ComputeSubjectDetail(ctx.Request.Context(), ctx.Param("subjectId"), studentID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Success(ctx, detail)
}

// @Summary 学生仪表盘
// @Description 已选科目进度、平均分、最长连续通过天数与最近测验
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Param studentId query string false "学生ID（教师/管理员）"
// @Success 200 {object} util.Response
// @Router /api/dashboard/student [get]
func (c *ProgressController) GetStudentDashboard(ctx *gin.Context) {
	studentID, ok := targetStudent(ctx)
	if !ok {
		return
	}

	dashboard, err := c.ProgressService.ComputeDashboard(ctx.Request.Context(), studentID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Success(ctx, dashboard)
}
