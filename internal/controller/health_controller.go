package controller

import (
	"context"
	"eduai_backend/internal/util"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthController struct {
	Store   Pinger
	Backend string
}

func NewHealthController(store Pinger, backend string) *HealthController {
	return &HealthController{Store: store, Backend: backend}
}

// @Summary 健康检查
// @Description 检查服务与存储后端状态
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Router /api/health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	if err := c.Store.Ping(pingCtx); err != nil {
		util.Error(ctx, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	util.Success(ctx, gin.H{
		"status": "ok",
		"components": gin.H{
			"store": c.Backend,
		},
	})
}
