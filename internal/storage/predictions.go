package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const predictionColumns = `p.id, p.user_uid, p.game_round_id, p.choice, p.is_won, p.earned_points, p.created_at, p.updated_at`

func scanPrediction(dest *Prediction, extra ...any) []any {
	return append([]any{&dest.ID, &dest.UserUID, &dest.GameRoundID, &dest.Choice}, extra...)
}

type predictionTimes struct {
	isWon              sql.NullBool
	createdAt, updated int64
}

func (pt *predictionTimes) targets(p *Prediction) []any {
	return []any{&pt.isWon, &p.EarnedPoints, &pt.createdAt, &pt.updated}
}

func (pt *predictionTimes) apply(p *Prediction) {
	if pt.isWon.Valid {
		won := pt.isWon.Bool
		p.IsWon = &won
	}
	p.CreatedAt = fromMillis(pt.createdAt)
	p.UpdatedAt = fromMillis(pt.updated)
}

// GetPrediction returns a user's prediction for a round; nil when absent
func (q *Queries) GetPrediction(ctx context.Context, userUID string, roundID int64) (*Prediction, error) {
	var p Prediction
	var pt predictionTimes
	err := q.q.QueryRowContext(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions p
		WHERE p.user_uid = ? AND p.game_round_id = ?
	`, userUID, roundID).Scan(scanPrediction(&p, pt.targets(&p)...)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	pt.apply(&p)
	return &p, nil
}

// InsertPrediction creates a prediction and sets its ID. A second prediction
// by the same user for the same round returns ErrDuplicate.
func (q *Queries) InsertPrediction(ctx context.Context, p *Prediction) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO predictions (user_uid, game_round_id, choice, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.UserUID, p.GameRoundID, p.Choice, toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if IsUniqueViolation(err) {
		return fmt.Errorf("failed to insert prediction: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	return nil
}

// UpdatePredictionChoice changes the choice of an unsettled prediction.
// Returns false when the prediction is gone or already settled.
func (q *Queries) UpdatePredictionChoice(ctx context.Context, id int64, choice Choice, now time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE predictions
		SET choice = ?, updated_at = ?
		WHERE id = ? AND is_won IS NULL
	`, choice, toMillis(now), id)
	if err != nil {
		return false, fmt.Errorf("failed to update prediction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// SetPredictionResult records the outcome of a prediction once.
// Returns false when a result was already recorded.
func (q *Queries) SetPredictionResult(ctx context.Context, id int64, won bool, earned int64, now time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE predictions
		SET is_won = ?, earned_points = ?, updated_at = ?
		WHERE id = ? AND is_won IS NULL
	`, won, earned, toMillis(now), id)
	if err != nil {
		return false, fmt.Errorf("failed to set result of prediction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ListRoundPredictions returns every prediction of a round with its owner, oldest first
func (q *Queries) ListRoundPredictions(ctx context.Context, roundID int64) ([]RoundPrediction, error) {
	byRound, err := q.ListPredictionsForRounds(ctx, []int64{roundID})
	if err != nil {
		return nil, err
	}
	return byRound[roundID], nil
}

// ListPredictionsForRounds loads the predictions of several rounds in one query,
// keyed by round id.
func (q *Queries) ListPredictionsForRounds(ctx context.Context, roundIDs []int64) (map[int64][]RoundPrediction, error) {
	out := make(map[int64][]RoundPrediction, len(roundIDs))
	if len(roundIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(roundIDs))
	for i, id := range roundIDs {
		args[i] = id
	}

	rows, err := q.q.QueryContext(ctx, `
		SELECT `+predictionColumns+`, u.uid, u.name, u.points, u.is_ai, u.status, u.telegram_id, u.created_at, u.updated_at
		FROM predictions p
		JOIN users u ON u.uid = p.user_uid
		WHERE p.game_round_id IN (`+placeholders(len(roundIDs))+`)
		ORDER BY p.game_round_id, p.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rp RoundPrediction
		var pt predictionTimes
		var telegramID sql.NullInt64
		var uCreated, uUpdated int64
		dest := scanPrediction(&rp.Prediction, pt.targets(&rp.Prediction)...)
		dest = append(dest, &rp.User.UID, &rp.User.Name, &rp.User.Points, &rp.User.IsAI, &rp.User.Status, &telegramID, &uCreated, &uUpdated)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		pt.apply(&rp.Prediction)
		rp.User.TelegramID = telegramID.Int64
		rp.User.CreatedAt = fromMillis(uCreated)
		rp.User.UpdatedAt = fromMillis(uUpdated)
		out[rp.GameRoundID] = append(out[rp.GameRoundID], rp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}
	return out, nil
}

// ListUserPredictions returns a user's predictions with their round outcome, newest first
func (q *Queries) ListUserPredictions(ctx context.Context, userUID string, limit int) ([]PredictionHistoryItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+predictionColumns+`, r.start_at, r.base_price, r.result_price, r.winning_choice
		FROM predictions p
		JOIN game_rounds r ON r.id = p.game_round_id
		WHERE p.user_uid = ?
		ORDER BY r.start_at DESC
		LIMIT ?
	`, userUID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list user predictions: %w", err)
	}
	defer rows.Close()

	var items []PredictionHistoryItem
	for rows.Next() {
		var it PredictionHistoryItem
		var pt predictionTimes
		var startAt int64
		var winning sql.NullInt64
		dest := scanPrediction(&it.Prediction, pt.targets(&it.Prediction)...)
		dest = append(dest, &startAt, &it.BasePrice, &it.ResultPrice, &winning)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan prediction history: %w", err)
		}
		pt.apply(&it.Prediction)
		it.StartAt = fromMillis(startAt)
		if winning.Valid {
			c := Choice(winning.Int64)
			it.WinningChoice = &c
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prediction history: %w", err)
	}
	return items, nil
}
