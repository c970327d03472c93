package service

import (
	"context"
	"fmt"

	"kasouyosou/internal/apperr"
	"kasouyosou/internal/storage"
)

const defaultLeaderboardLimit = 100

// LeaderboardService ranks active users by points.
type LeaderboardService struct {
	store *storage.Store
}

func NewLeaderboardService(store *storage.Store) *LeaderboardService {
	return &LeaderboardService{store: store}
}

func (s *LeaderboardService) Top(ctx context.Context, limit int) ([]storage.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	entries, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to load leaderboard", err)
	}
	if entries == nil {
		entries = []storage.LeaderboardEntry{}
	}
	return entries, nil
}

// Me returns the ranked entry of the named user.
func (s *LeaderboardService) Me(ctx context.Context, username string) (*storage.LeaderboardEntry, error) {
	e, err := s.store.LeaderboardEntryByName(ctx, username)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to load leaderboard", err)
	}
	if e == nil {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("user %q not found", username))
	}
	return e, nil
}
