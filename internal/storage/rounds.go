package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const roundColumns = `id, start_at, closed_at, target_at, base_price, result_price, winning_choice, chart_data, created_at, settled_at`

func scanRound(row rowScanner) (*GameRound, error) {
	var r GameRound
	var startAt, closedAt, targetAt, createdAt int64
	var winning, settledAt sql.NullInt64
	var chart string
	err := row.Scan(&r.ID, &startAt, &closedAt, &targetAt, &r.BasePrice, &r.ResultPrice, &winning, &chart, &createdAt, &settledAt)
	if err != nil {
		return nil, err
	}
	r.StartAt = fromMillis(startAt)
	r.ClosedAt = fromMillis(closedAt)
	r.TargetAt = fromMillis(targetAt)
	r.CreatedAt = fromMillis(createdAt)
	if winning.Valid {
		c := Choice(winning.Int64)
		r.WinningChoice = &c
	}
	if settledAt.Valid {
		t := fromMillis(settledAt.Int64)
		r.SettledAt = &t
	}
	if chart != "" {
		if err := json.Unmarshal([]byte(chart), &r.ChartData); err != nil {
			return nil, fmt.Errorf("failed to decode chart_data of round %d: %w", r.ID, err)
		}
	}
	return &r, nil
}

func encodeChart(c ChartData) (string, error) {
	if c.Before == nil {
		c.Before = []PricePoint{}
	}
	if c.After == nil {
		c.After = []PricePoint{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode chart_data: %w", err)
	}
	return string(b), nil
}

func (q *Queries) queryRounds(ctx context.Context, query string, args ...any) ([]GameRound, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []GameRound
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rounds: %w", err)
	}
	return rounds, nil
}

// InsertRound persists a new round and sets its ID. A duplicate start_at returns ErrDuplicate.
func (q *Queries) InsertRound(ctx context.Context, r *GameRound) error {
	chart, err := encodeChart(r.ChartData)
	if err != nil {
		return err
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO game_rounds (start_at, closed_at, target_at, base_price, chart_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, toMillis(r.StartAt), toMillis(r.ClosedAt), toMillis(r.TargetAt), r.BasePrice.String(), chart, toMillis(r.CreatedAt))
	if IsUniqueViolation(err) {
		return fmt.Errorf("failed to insert round starting %s: %w", r.StartAt.Format(time.RFC3339), ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	return nil
}

// GetRound retrieves a round by id; nil when absent
func (q *Queries) GetRound(ctx context.Context, id int64) (*GameRound, error) {
	r, err := scanRound(q.q.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM game_rounds WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return r, nil
}

// GetRoundByStart retrieves the round anchored at startAt; nil when absent
func (q *Queries) GetRoundByStart(ctx context.Context, startAt time.Time) (*GameRound, error) {
	r, err := scanRound(q.q.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM game_rounds WHERE start_at = ?`, toMillis(startAt)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round by start_at: %w", err)
	}
	return r, nil
}

// GetActiveRound returns the most recent round accepting predictions at now; nil when none
func (q *Queries) GetActiveRound(ctx context.Context, now time.Time) (*GameRound, error) {
	ms := toMillis(now)
	r, err := scanRound(q.q.QueryRowContext(ctx, `
		SELECT `+roundColumns+`
		FROM game_rounds
		WHERE start_at <= ? AND closed_at > ?
		ORDER BY start_at DESC
		LIMIT 1
	`, ms, ms))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}
	return r, nil
}

// ListRounds returns rounds ordered by id. limit <= 0 returns all of them.
func (q *Queries) ListRounds(ctx context.Context, limit int) ([]GameRound, error) {
	query := `SELECT ` + roundColumns + ` FROM game_rounds ORDER BY id`
	var args []any
	if limit > 0 {
		// newest `limit` rounds, still ascending
		query = `SELECT * FROM (SELECT ` + roundColumns + ` FROM game_rounds ORDER BY id DESC LIMIT ?) ORDER BY id`
		args = append(args, limit)
	}
	rounds, err := q.queryRounds(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	return rounds, nil
}

// ListSettleableRounds returns rounds whose target time has passed and that have no result yet
func (q *Queries) ListSettleableRounds(ctx context.Context, now time.Time) ([]GameRound, error) {
	rounds, err := q.queryRounds(ctx, `
		SELECT `+roundColumns+`
		FROM game_rounds
		WHERE target_at <= ? AND result_price IS NULL
		ORDER BY target_at, id
	`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list settleable rounds: %w", err)
	}
	return rounds, nil
}

// SettleRoundResult is the compare-and-set write of a round's outcome.
// It returns false, writing nothing, when the round already has a result.
func (q *Queries) SettleRoundResult(ctx context.Context, id int64, result decimal.Decimal, winning Choice, chart ChartData, now time.Time) (bool, error) {
	encoded, err := encodeChart(chart)
	if err != nil {
		return false, err
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE game_rounds
		SET result_price = ?, winning_choice = ?, chart_data = ?, settled_at = ?
		WHERE id = ? AND result_price IS NULL
	`, result.String(), winning, encoded, toMillis(now), id)
	if err != nil {
		return false, fmt.Errorf("failed to settle round %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
