package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kasouyosou/internal/service"
)

type LeaderboardHandler struct {
	Leaderboard *service.LeaderboardService
	Logger      *zap.Logger
}

func (h *LeaderboardHandler) Register(r gin.IRouter) {
	r.GET("/leaderboard", h.top)
	r.GET("/leaderboard/me", h.me)
}

func (h *LeaderboardHandler) top(c *gin.Context) {
	entries, err := h.Leaderboard.Top(c.Request.Context(), intQuery(c, "limit", 0))
	if err != nil {
		fail(c, h.Logger, "leaderboard_failed", err)
		return
	}
	Ok(c, entries, nil)
}

func (h *LeaderboardHandler) me(c *gin.Context) {
	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		Error(c, http.StatusBadRequest, "username is required", nil)
		return
	}
	entry, err := h.Leaderboard.Me(c.Request.Context(), username)
	if err != nil {
		fail(c, h.Logger, "leaderboard_me_failed", err)
		return
	}
	Ok(c, entry, nil)
}
