package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kasouyosou/internal/service"
)

type UserHandler struct {
	Users  *service.UserService
	Logger *zap.Logger
	Now    func() time.Time
}

func (h *UserHandler) Register(r gin.IRouter) {
	r.POST("/users", h.create)
	r.DELETE("/users", h.delete)
	r.POST("/users/me", h.me)
	r.GET("/users/:uid/predictions", h.history)
}

type createUserRequest struct {
	Name string `json:"name" binding:"required"`
}

type createUserResponse struct {
	UID    string `json:"uid"`
	Name   string `json:"name"`
	IsAI   bool   `json:"is_ai"`
	Points int64  `json:"points"`
}

type uidRequest struct {
	UID string `json:"uid" binding:"required"`
}

func (h *UserHandler) create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "name is required", nil)
		return
	}
	u, err := h.Users.Create(c.Request.Context(), service.NewUser{Name: req.Name}, h.Now())
	if err != nil {
		fail(c, h.Logger, "user_create_failed", err)
		return
	}
	Ok(c, createUserResponse{UID: u.UID, Name: u.Name, IsAI: u.IsAI, Points: u.Points}, nil)
}

func (h *UserHandler) delete(c *gin.Context) {
	var req uidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "uid is required", nil)
		return
	}
	if err := h.Users.Delete(c.Request.Context(), req.UID, h.Now()); err != nil {
		fail(c, h.Logger, "user_delete_failed", err)
		return
	}
	Ok(c, gin.H{"uid": req.UID}, nil)
}

func (h *UserHandler) me(c *gin.Context) {
	var req uidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "uid is required", nil)
		return
	}
	u, err := h.Users.Lookup(c.Request.Context(), req.UID)
	if err != nil {
		fail(c, h.Logger, "user_lookup_failed", err)
		return
	}
	Ok(c, u.Mini(), nil)
}

func (h *UserHandler) history(c *gin.Context) {
	items, err := h.Users.History(c.Request.Context(), c.Param("uid"), intQuery(c, "limit", 10))
	if err != nil {
		fail(c, h.Logger, "user_history_failed", err)
		return
	}
	Ok(c, items, nil)
}
