package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const leaderboardQuery = `
	WITH stats AS (
		SELECT user_uid,
			COUNT(*) AS total_rounds,
			COALESCE(SUM(CASE WHEN is_won = 1 THEN 1 ELSE 0 END), 0) AS wins
		FROM predictions
		WHERE is_won IS NOT NULL
		GROUP BY user_uid
	)
	SELECT
		RANK() OVER (ORDER BY u.points DESC) AS rank,
		u.uid, u.name, u.points, u.is_ai,
		COALESCE(s.total_rounds, 0) AS total_rounds, COALESCE(s.wins, 0) AS wins
	FROM users u
	LEFT JOIN stats s ON s.user_uid = u.uid
	WHERE u.status = 'active'
`

func scanLeaderboardEntry(row rowScanner) (*LeaderboardEntry, error) {
	var e LeaderboardEntry
	if err := row.Scan(&e.Rank, &e.UserUID, &e.Username, &e.Points, &e.IsAI, &e.TotalRounds, &e.Wins); err != nil {
		return nil, err
	}
	if e.TotalRounds > 0 {
		e.WinRate = float64(e.Wins) / float64(e.TotalRounds)
	}
	return &e, nil
}

// Leaderboard returns active users ranked by points. Ties share a rank
// and are listed by uid. limit <= 0 returns everyone.
func (q *Queries) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	query := leaderboardQuery + ` ORDER BY u.points DESC, u.uid ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		e, err := scanLeaderboardEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard: %w", err)
	}
	return entries, nil
}

// LeaderboardEntryByName returns the ranked entry of one active user; nil when
// the name is unknown or belongs to a deleted user.
func (q *Queries) LeaderboardEntryByName(ctx context.Context, name string) (*LeaderboardEntry, error) {
	e, err := scanLeaderboardEntry(q.q.QueryRowContext(ctx,
		`SELECT * FROM (`+leaderboardQuery+`) WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard entry: %w", err)
	}
	return e, nil
}
