package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kasouyosou/internal/service"
	"kasouyosou/internal/storage"
)

type RoundHandler struct {
	Rounds      *service.RoundService
	Settlement  *service.SettlementService
	Predictions *service.PredictionService
	// Admin guards round creation and settlement
	Admin  gin.HandlerFunc
	Logger *zap.Logger
	Now    func() time.Time
}

func (h *RoundHandler) Register(r gin.IRouter) {
	admin := h.Admin
	if admin == nil {
		admin = func(c *gin.Context) { c.Next() }
	}
	group := r.Group("/game_rounds")
	group.GET("", h.list)
	group.POST("", admin, h.create)
	group.POST("/settle", admin, h.settle)
	group.GET("/active", h.active)
	group.GET("/:id", h.get)
	group.POST("/:id/predictions", h.predict)
}

type predictionRequest struct {
	UserUID string          `json:"user_uid" binding:"required"`
	Choice  *storage.Choice `json:"choice" binding:"required"`
}

type predictionResponse struct {
	ID          int64            `json:"id"`
	GameRoundID int64            `json:"game_round_id"`
	Choice      storage.Choice   `json:"choice"`
	User        storage.UserMini `json:"user"`
}

func (h *RoundHandler) list(c *gin.Context) {
	rounds, err := h.Rounds.List(c.Request.Context(), intQuery(c, "limit", 0))
	if err != nil {
		fail(c, h.Logger, "round_list_failed", err)
		return
	}
	Ok(c, rounds, map[string]any{"count": len(rounds)})
}

func (h *RoundHandler) create(c *gin.Context) {
	round, err := h.Rounds.Create(c.Request.Context(), h.Now())
	if err != nil {
		fail(c, h.Logger, "round_create_failed", err)
		return
	}
	Ok(c, round, nil)
}

func (h *RoundHandler) settle(c *gin.Context) {
	report, err := h.Settlement.SettleDue(c.Request.Context(), h.Now())
	if err != nil {
		fail(c, h.Logger, "round_settle_failed", err)
		return
	}
	Ok(c, report, nil)
}

func (h *RoundHandler) active(c *gin.Context) {
	round, err := h.Rounds.Active(c.Request.Context(), h.Now())
	if err != nil {
		fail(c, h.Logger, "round_active_failed", err)
		return
	}
	if round == nil {
		Ok(c, nil, nil)
		return
	}
	Ok(c, round, nil)
}

func (h *RoundHandler) get(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	round, err := h.Rounds.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, h.Logger, "round_get_failed", err)
		return
	}
	Ok(c, round, nil)
}

func (h *RoundHandler) predict(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	var req predictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "user_uid and choice are required", nil)
		return
	}
	res, err := h.Predictions.Submit(c.Request.Context(), id, req.UserUID, *req.Choice, h.Now())
	if err != nil {
		fail(c, h.Logger, "prediction_submit_failed", err)
		return
	}
	Ok(c, predictionResponse{
		ID:          res.Prediction.ID,
		GameRoundID: res.Prediction.GameRoundID,
		Choice:      res.Prediction.Choice,
		User:        res.User,
	}, map[string]any{"created": res.Created})
}

func roundID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		Error(c, http.StatusBadRequest, "invalid round id", nil)
		return 0, false
	}
	return id, true
}
