package service

import (
	"context"

	"kasouyosou/internal/storage"
)

// RoundPredictionView is a prediction as shown on a round.
type RoundPredictionView struct {
	ID           int64            `json:"id"`
	Choice       storage.Choice   `json:"choice"`
	IsWon        *bool            `json:"is_won"`
	EarnedPoints int64            `json:"earned_points"`
	User         storage.UserMini `json:"user"`
}

// RoundDetail is a round with its predictions.
type RoundDetail struct {
	storage.GameRound
	Predictions []RoundPredictionView `json:"predictions"`
}

func newRoundDetail(r storage.GameRound, preds []storage.RoundPrediction) RoundDetail {
	d := RoundDetail{GameRound: r, Predictions: make([]RoundPredictionView, 0, len(preds))}
	for _, p := range preds {
		d.Predictions = append(d.Predictions, RoundPredictionView{
			ID:           p.ID,
			Choice:       p.Choice,
			IsWon:        p.IsWon,
			EarnedPoints: p.EarnedPoints,
			User:         p.User.Mini(),
		})
	}
	return d
}

// SettledRound is handed to the Notifier after a round commits.
type SettledRound struct {
	Round       *storage.GameRound
	Payout      Payout
	Predictions []storage.RoundPrediction
}

// Notifier is told about round lifecycle events. Failures are its own concern;
// they never affect the operation that triggered them.
type Notifier interface {
	RoundOpened(ctx context.Context, round *storage.GameRound)
	RoundSettled(ctx context.Context, settled SettledRound)
}

type nopNotifier struct{}

func (nopNotifier) RoundOpened(context.Context, *storage.GameRound) {}
func (nopNotifier) RoundSettled(context.Context, SettledRound)      {}
