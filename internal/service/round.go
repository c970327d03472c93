package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kasouyosou/internal/apperr"
	"kasouyosou/internal/logger"
	"kasouyosou/internal/pricefeed"
	"kasouyosou/internal/storage"
)

// RoundService creates rounds and serves them with their predictions.
type RoundService struct {
	store    *storage.Store
	feed     pricefeed.Feed
	rules    Rules
	notifier Notifier
	log      *zap.Logger
}

func NewRoundService(store *storage.Store, feed pricefeed.Feed, rules Rules, log *zap.Logger) *RoundService {
	return &RoundService{store: store, feed: feed, rules: rules, notifier: nopNotifier{}, log: logger.OrNop(log)}
}

// SetNotifier sets the notifier told about new rounds
func (s *RoundService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// Create opens the round for the hour containing now.
func (s *RoundService) Create(ctx context.Context, now time.Time) (*storage.GameRound, error) {
	start := now.UTC().Truncate(time.Hour)

	existing, err := s.store.GetRoundByStart(ctx, start)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to check existing round", err)
	}
	if existing != nil {
		return nil, apperr.New(apperr.KindConflict, fmt.Sprintf("round for %s already exists", start.Format(time.RFC3339)))
	}

	candles, err := s.feed.FetchOHLCV(ctx, s.rules.Symbol, s.rules.Timeframe, start.Add(-s.rules.ChartLookback), s.rules.ChartLimit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "price feed unavailable", err)
	}
	if len(candles) == 0 {
		return nil, apperr.New(apperr.KindUpstream, "price feed returned no candles")
	}

	base := candles[len(candles)-1].Open
	before := make([]storage.PricePoint, 0, len(candles))
	for _, c := range candles {
		if c.Time.Equal(start) {
			base = c.Open
		}
		before = append(before, storage.PricePoint{Time: c.Time, Price: c.Open})
	}

	round := &storage.GameRound{
		StartAt:   start,
		ClosedAt:  start.Add(s.rules.AcceptWindow),
		TargetAt:  start.Add(s.rules.Horizon),
		BasePrice: base,
		ChartData: storage.ChartData{Before: before, After: []storage.PricePoint{}},
		CreatedAt: now.UTC(),
	}
	if err := s.store.InsertRound(ctx, round); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Wrap(apperr.KindConflict, fmt.Sprintf("round for %s already exists", start.Format(time.RFC3339)), err)
		}
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to save round", err)
	}

	s.log.Info("round_created",
		zap.Int64("round_id", round.ID),
		zap.Time("start_at", round.StartAt),
		zap.String("base_price", round.BasePrice.String()))

	s.notifier.RoundOpened(ctx, round)
	return round, nil
}

// Active returns the round accepting predictions at now, or nil when none is open.
func (s *RoundService) Active(ctx context.Context, now time.Time) (*RoundDetail, error) {
	r, err := s.store.GetActiveRound(ctx, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to load active round", err)
	}
	if r == nil {
		return nil, nil
	}
	return s.detail(ctx, r)
}

func (s *RoundService) Get(ctx context.Context, id int64) (*RoundDetail, error) {
	r, err := s.store.GetRound(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to load round", err)
	}
	if r == nil {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("round #%d does not exist", id))
	}
	return s.detail(ctx, r)
}

// List returns rounds ordered by id; limit <= 0 returns all.
func (s *RoundService) List(ctx context.Context, limit int) ([]RoundDetail, error) {
	rounds, err := s.store.ListRounds(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to list rounds", err)
	}
	ids := make([]int64, len(rounds))
	for i, r := range rounds {
		ids[i] = r.ID
	}
	byRound, err := s.store.ListPredictionsForRounds(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to list predictions", err)
	}
	out := make([]RoundDetail, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, newRoundDetail(r, byRound[r.ID]))
	}
	return out, nil
}

func (s *RoundService) detail(ctx context.Context, r *storage.GameRound) (*RoundDetail, error) {
	preds, err := s.store.ListRoundPredictions(ctx, r.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to list predictions", err)
	}
	d := newRoundDetail(*r, preds)
	return &d, nil
}
