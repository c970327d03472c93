package bot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gopkg.in/telebot.v3"

	"kasouyosou/internal/apperr"
	"kasouyosou/internal/service"
	"kasouyosou/internal/storage"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		sender  *telebot.User
		want    string
	}{
		{"payload wins", "  satoshi ", &telebot.User{ID: 1, Username: "sn"}, "satoshi"},
		{"username", "", &telebot.User{ID: 1, Username: "sn", FirstName: "Satoshi"}, "sn"},
		{"first name", "", &telebot.User{ID: 1, FirstName: "Satoshi"}, "Satoshi"},
		{"id fallback", "", &telebot.User{ID: 42}, "tg42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := displayName(tt.payload, tt.sender); got != tt.want {
				t.Errorf("displayName(%q) = %q, want %q", tt.payload, got, tt.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, userMessage(apperr.New(apperr.KindClosed, "round #3 closed at 10:30")), "round #3 closed")
	assert.Contains(t, userMessage(apperr.New(apperr.KindInsufficientPoints, "need 100 points")), "need 100 points")
	assert.Equal(t, "Something went wrong. Please try again.", userMessage(errors.New("disk I/O error")))
	assert.NotContains(t, userMessage(apperr.Wrap(apperr.KindPersistence, "failed", errors.New("disk I/O error"))), "disk")
}

func TestFormatRound(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	r := &service.RoundDetail{
		GameRound: storage.GameRound{
			ID:        3,
			StartAt:   start,
			ClosedAt:  start.Add(30 * time.Minute),
			TargetAt:  start.Add(4 * time.Hour),
			BasePrice: decimal.RequireFromString("64000.5"),
		},
		Predictions: []service.RoundPredictionView{
			{Choice: storage.ChoiceBullish},
			{Choice: storage.ChoiceBullish},
			{Choice: storage.ChoiceBearish},
		},
	}

	text := formatRound(r, start.Add(10*time.Minute))
	assert.Contains(t, text, "Round #3")
	assert.Contains(t, text, "64000.50")
	assert.Contains(t, text, "Closes in 20m0s")
	assert.Contains(t, text, "3 predictions: 2 bull / 0 neutral / 1 bear")

	assert.Contains(t, formatRound(r, start.Add(time.Hour)), "Closed")
}

func TestFormatHistory(t *testing.T) {
	won, lost := true, false
	items := []storage.PredictionHistoryItem{
		{Prediction: storage.Prediction{Choice: storage.ChoiceBullish, IsWon: &won, EarnedPoints: 400}, StartAt: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)},
		{Prediction: storage.Prediction{Choice: storage.ChoiceBearish, IsWon: &lost}, StartAt: time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)},
		{Prediction: storage.Prediction{Choice: storage.ChoiceNeutral}, StartAt: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)},
	}
	text := formatHistory(items)
	lines := strings.Split(text, "\n")
	assert.Len(t, lines, 5)
	assert.Contains(t, text, "won 400 pts")
	assert.Contains(t, text, "lost")
	assert.Contains(t, text, "pending")

	assert.Contains(t, formatHistory(nil), "No predictions yet")
}

func TestFormatLeaderboard(t *testing.T) {
	text := formatLeaderboard([]storage.LeaderboardEntry{
		{Rank: 1, Username: "alice", Points: 1300, Wins: 1, TotalRounds: 1},
		{Rank: 1, Username: "lgbm", Points: 1300, IsAI: true, Wins: 1, TotalRounds: 1},
	})
	assert.Contains(t, text, "#1 alice  1300 pts  (1/1)")
	assert.Contains(t, text, "#1 lgbm 🤖")
	assert.Equal(t, "🏆 No players yet.", formatLeaderboard(nil))
}
