// Package handlers exposes the game over HTTP.
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kasouyosou/internal/auth"
	"kasouyosou/internal/logger"
	"kasouyosou/internal/service"
)

// Deps are the services the router serves.
type Deps struct {
	DB          Pinger
	Users       *service.UserService
	Rounds      *service.RoundService
	Settlement  *service.SettlementService
	Predictions *service.PredictionService
	Leaderboard *service.LeaderboardService
	JWT         auth.JWT
	CORSOrigins []string
	Logger      *zap.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

func NewRouter(d Deps) *gin.Engine {
	log := logger.OrNop(d.Logger)
	now := d.Now
	if now == nil {
		now = time.Now
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log), corsMiddleware(d.CORSOrigins))

	(&HealthHandler{DB: d.DB}).Register(engine)
	(&UserHandler{Users: d.Users, Logger: log, Now: now}).Register(engine)
	(&RoundHandler{
		Rounds:      d.Rounds,
		Settlement:  d.Settlement,
		Predictions: d.Predictions,
		Admin:       auth.RequireAdmin(d.JWT),
		Logger:      log,
		Now:         now,
	}).Register(engine)
	(&LeaderboardHandler{Leaderboard: d.Leaderboard, Logger: log}).Register(engine)
	return engine
}
