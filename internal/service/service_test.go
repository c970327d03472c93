package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasouyosou/internal/apperr"
	"kasouyosou/internal/storage"
)

// roundStart is the hour the test round opens; candles run a day before to 6h after.
var roundStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	ctx         context.Context
	store       *storage.Store
	feed        *fakeFeed
	notifier    *recordingNotifier
	rules       Rules
	rounds      *RoundService
	settlement  *SettlementService
	predictions *PredictionService
	users       *UserService
	leaderboard *LeaderboardService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvAt(t, ":memory:")
}

func newTestEnvAt(t *testing.T, path string) *testEnv {
	t.Helper()
	store, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	feed := &fakeFeed{candles: hourlyCandles(roundStart.Add(-24*time.Hour), 31, "100")}
	// the last candle's open must not be mistaken for the base price
	feed.candles[len(feed.candles)-1].Open = decimal.NewFromInt(105)

	rules := DefaultRules()
	resolver, err := NewResolver(feed, rules)
	require.NoError(t, err)

	n := &recordingNotifier{}
	env := &testEnv{
		ctx:         context.Background(),
		store:       store,
		feed:        feed,
		notifier:    n,
		rules:       rules,
		rounds:      NewRoundService(store, feed, rules, nil),
		settlement:  NewSettlementService(store, resolver, rules, nil),
		predictions: NewPredictionService(store, rules, nil),
		users:       NewUserService(store, rules, nil),
		leaderboard: NewLeaderboardService(store),
	}
	env.rounds.SetNotifier(n)
	env.settlement.SetNotifier(n)
	return env
}

func (e *testEnv) user(t *testing.T, name string) *storage.User {
	t.Helper()
	u, err := e.users.Create(e.ctx, NewUser{Name: name}, roundStart)
	require.NoError(t, err)
	return u
}

func (e *testEnv) round(t *testing.T) *storage.GameRound {
	t.Helper()
	r, err := e.rounds.Create(e.ctx, roundStart.Add(5*time.Minute))
	require.NoError(t, err)
	return r
}

func (e *testEnv) points(t *testing.T, uid string) int64 {
	t.Helper()
	u, err := e.store.GetUser(e.ctx, uid)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.Points
}

func TestCreateRound(t *testing.T) {
	env := newTestEnv(t)

	r := env.round(t)

	assert.True(t, r.StartAt.Equal(roundStart))
	assert.True(t, r.ClosedAt.Equal(roundStart.Add(30*time.Minute)))
	assert.True(t, r.TargetAt.Equal(roundStart.Add(4*time.Hour)))
	assert.True(t, r.BasePrice.Equal(decimal.NewFromInt(100)), "base price should come from the candle at start, got %s", r.BasePrice)
	assert.False(t, r.Settled())
	require.NotEmpty(t, r.ChartData.Before)
	assert.True(t, r.ChartData.Before[0].Time.Equal(roundStart.Add(-24*time.Hour)))
	assert.Empty(t, r.ChartData.After)
	require.Len(t, env.notifier.opened, 1)
	assert.Equal(t, r.ID, env.notifier.opened[0].ID)
}

func TestCreateRoundTwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.round(t)

	_, err := env.rounds.Create(env.ctx, roundStart.Add(40*time.Minute))
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	rounds, err := env.rounds.List(env.ctx, 0)
	require.NoError(t, err)
	assert.Len(t, rounds, 1)
}

func TestCreateRoundFeedFailure(t *testing.T) {
	env := newTestEnv(t)
	env.feed.err = errors.New("exchange timeout")

	_, err := env.rounds.Create(env.ctx, roundStart)
	assert.True(t, errors.Is(err, apperr.ErrUpstream), "got %v", err)

	rounds, err := env.rounds.List(env.ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, rounds)
	assert.Empty(t, env.notifier.opened)
}

func TestSubmitAndResubmit(t *testing.T) {
	env := newTestEnv(t)
	r := env.round(t)
	alice := env.user(t, "alice")

	res, err := env.predictions.Submit(env.ctx, r.ID, alice.UID, storage.ChoiceBullish, roundStart.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int64(900), res.User.Points)
	assert.Equal(t, int64(900), env.points(t, alice.UID))

	res, err = env.predictions.Submit(env.ctx, r.ID, alice.UID, storage.ChoiceBearish, roundStart.Add(20*time.Minute))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, storage.ChoiceBearish, res.Prediction.Choice)
	assert.Equal(t, int64(900), env.points(t, alice.UID), "changing a prediction must not charge again")

	txs, err := env.store.ListTransactions(env.ctx, alice.UID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, storage.TxStake, txs[0].SourceType)
	assert.Equal(t, int64(-100), txs[0].Amount)
	assert.Equal(t, storage.TxWelcomeBonus, txs[1].SourceType)

	detail, err := env.rounds.Get(env.ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, detail.Predictions, 1)
	assert.Equal(t, storage.ChoiceBearish, detail.Predictions[0].Choice)
	assert.Equal(t, "alice", detail.Predictions[0].User.Name)
}

func TestConcurrentFirstSubmissionsChargeOnce(t *testing.T) {
	// a file database so submissions really run on separate connections
	env := newTestEnvAt(t, filepath.Join(t.TempDir(), "game.db"))
	r := env.round(t)
	alice := env.user(t, "alice")

	const n = 8
	choices := []storage.Choice{storage.ChoiceBearish, storage.ChoiceNeutral, storage.ChoiceBullish}
	results := make([]*SubmitResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.predictions.Submit(env.ctx, r.ID, alice.UID, choices[i%len(choices)], roundStart.Add(10*time.Minute))
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "submission %d", i)
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, int64(900), env.points(t, alice.UID))

	txs, err := env.store.ListTransactions(env.ctx, alice.UID, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 2, "one welcome bonus and one stake")

	detail, err := env.rounds.Get(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Predictions, 1)
}

func TestSubmitRejections(t *testing.T) {
	env := newTestEnv(t)
	r := env.round(t)
	alice := env.user(t, "alice")
	gone := env.user(t, "gone")
	require.NoError(t, env.users.Delete(env.ctx, gone.UID, roundStart))

	poor := &storage.User{UID: uuid.NewString(), Name: "poor", Points: 99, Status: storage.UserStatusActive, CreatedAt: roundStart, UpdatedAt: roundStart}
	require.NoError(t, env.store.CreateUser(env.ctx, poor))

	open := roundStart.Add(10 * time.Minute)
	tests := []struct {
		name    string
		roundID int64
		uid     string
		choice  storage.Choice
		now     time.Time
		want    error
	}{
		{"unknown round", r.ID + 100, alice.UID, storage.ChoiceBullish, open, apperr.ErrNotFound},
		{"unknown user", r.ID, uuid.NewString(), storage.ChoiceBullish, open, apperr.ErrNotFound},
		{"deleted user", r.ID, gone.UID, storage.ChoiceBullish, open, apperr.ErrDeleted},
		{"at closed_at", r.ID, alice.UID, storage.ChoiceBullish, r.ClosedAt, apperr.ErrClosed},
		{"after closed_at before target", r.ID, alice.UID, storage.ChoiceBullish, r.TargetAt.Add(-time.Minute), apperr.ErrClosed},
		{"short balance", r.ID, poor.UID, storage.ChoiceBullish, open, apperr.ErrInsufficientPoints},
		{"invalid choice", r.ID, alice.UID, storage.Choice(4), open, apperr.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.predictions.Submit(env.ctx, tt.roundID, tt.uid, tt.choice, tt.now)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	assert.Equal(t, int64(1000), env.points(t, alice.UID))
	assert.Equal(t, int64(99), env.points(t, poor.UID))
	detail, err := env.rounds.Get(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.Predictions)
}

func TestActiveRound(t *testing.T) {
	env := newTestEnv(t)
	r := env.round(t)

	active, err := env.rounds.Active(env.ctx, roundStart.Add(29*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, r.ID, active.ID)
	assert.NotNil(t, active.Predictions)

	active, err = env.rounds.Active(env.ctx, roundStart.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = env.rounds.Get(env.ctx, r.ID+1)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

// settledScenario has alice and bob call BULLISH, carol and dave BEARISH,
// and closes the window at 100.4.
func settledScenario(t *testing.T, env *testEnv) (*storage.GameRound, map[string]*storage.User) {
	t.Helper()
	r := env.round(t)
	users := map[string]*storage.User{}
	calls := []struct {
		name   string
		choice storage.Choice
	}{
		{"alice", storage.ChoiceBullish},
		{"bob", storage.ChoiceBullish},
		{"carol", storage.ChoiceBearish},
		{"dave", storage.ChoiceBearish},
	}
	for _, c := range calls {
		u := env.user(t, c.name)
		users[c.name] = u
		_, err := env.predictions.Submit(env.ctx, r.ID, u.UID, c.choice, roundStart.Add(10*time.Minute))
		require.NoError(t, err)
	}
	env.feed.setClose(roundStart.Add(3*time.Hour), "100.4")
	return r, users
}

func TestSettleDue(t *testing.T) {
	env := newTestEnv(t)
	r, users := settledScenario(t, env)

	report, err := env.settlement.SettleDue(env.ctx, r.TargetAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, report.Settled, "rounds are not due before target_at")

	report, err = env.settlement.SettleDue(env.ctx, r.TargetAt)
	require.NoError(t, err)
	assert.Equal(t, []int64{r.ID}, report.Settled)
	assert.Empty(t, report.Failed)

	detail, err := env.rounds.Get(env.ctx, r.ID)
	require.NoError(t, err)
	require.True(t, detail.Settled())
	assert.True(t, detail.ResultPrice.Decimal.Equal(decimal.RequireFromString("100.4")))
	require.NotNil(t, detail.WinningChoice)
	assert.Equal(t, storage.ChoiceBullish, *detail.WinningChoice)
	require.NotEmpty(t, detail.ChartData.After)
	assert.True(t, detail.ChartData.After[len(detail.ChartData.After)-1].Time.Equal(r.TargetAt))

	assert.Equal(t, int64(1300), env.points(t, users["alice"].UID))
	assert.Equal(t, int64(1300), env.points(t, users["bob"].UID))
	assert.Equal(t, int64(900), env.points(t, users["carol"].UID))
	assert.Equal(t, int64(900), env.points(t, users["dave"].UID))

	for _, p := range detail.Predictions {
		require.NotNil(t, p.IsWon)
		if p.Choice == storage.ChoiceBullish {
			assert.True(t, *p.IsWon)
			assert.Equal(t, int64(400), p.EarnedPoints)
		} else {
			assert.False(t, *p.IsWon)
			assert.Zero(t, p.EarnedPoints)
		}
	}

	require.Len(t, env.notifier.settled, 1)
	assert.Equal(t, int64(400), env.notifier.settled[0].Payout.Share)

	txs, err := env.store.ListTransactions(env.ctx, users["alice"].UID, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, storage.TxPayout, txs[0].SourceType)
	assert.Equal(t, int64(400), txs[0].Amount)
}

func TestSettleIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	stale, users := settledScenario(t, env)

	_, err := env.settlement.SettleDue(env.ctx, stale.TargetAt)
	require.NoError(t, err)

	// a second pass finds nothing, and a stale copy of the round is refused
	report, err := env.settlement.SettleDue(env.ctx, stale.TargetAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, report.Settled)

	settled, err := env.settlement.SettleRound(env.ctx, stale, stale.TargetAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, settled)

	assert.Equal(t, int64(1300), env.points(t, users["alice"].UID))
	assert.Len(t, env.notifier.settled, 1)
}

func TestSettleWithoutWinnersPaysNothing(t *testing.T) {
	env := newTestEnv(t)
	r, users := settledScenario(t, env)
	env.feed.setClose(roundStart.Add(3*time.Hour), "100.1")

	report, err := env.settlement.SettleDue(env.ctx, r.TargetAt)
	require.NoError(t, err)
	assert.Equal(t, []int64{r.ID}, report.Settled)

	for _, u := range users {
		assert.Equal(t, int64(900), env.points(t, u.UID), u.Name)
	}
}

func TestSettleFeedFailureLeavesRoundOpen(t *testing.T) {
	env := newTestEnv(t)
	r, users := settledScenario(t, env)
	env.feed.err = errors.New("exchange timeout")

	report, err := env.settlement.SettleDue(env.ctx, r.TargetAt)
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, apperr.KindUpstream, report.Failed[0].Kind)

	due, err := env.settlement.FindSettleable(env.ctx, r.TargetAt)
	require.NoError(t, err)
	assert.Len(t, due, 1)
	assert.Equal(t, int64(900), env.points(t, users["alice"].UID))

	env.feed.err = nil
	report, err = env.settlement.SettleDue(env.ctx, r.TargetAt.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int64{r.ID}, report.Settled)
}

func TestLeaderboardAfterSettlement(t *testing.T) {
	env := newTestEnv(t)
	r, _ := settledScenario(t, env)
	_, err := env.settlement.SettleDue(env.ctx, r.TargetAt)
	require.NoError(t, err)

	top, err := env.leaderboard.Top(env.ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 4)
	assert.Equal(t, int64(1), top[0].Rank)
	assert.Equal(t, int64(1), top[1].Rank)
	assert.Equal(t, int64(3), top[2].Rank)

	me, err := env.leaderboard.Me(env.ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(3), me.Rank)
	assert.Equal(t, int64(1), me.TotalRounds)
	assert.Zero(t, me.Wins)

	_, err = env.leaderboard.Me(env.ctx, "nobody")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestUserCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	u, err := env.users.Create(env.ctx, NewUser{Name: "  alice  "}, roundStart)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)
	assert.Equal(t, int64(1000), u.Points)
	_, err = uuid.Parse(u.UID)
	assert.NoError(t, err)

	tests := []struct {
		name string
		in   string
		want error
	}{
		{"duplicate", "alice", apperr.ErrConflict},
		{"blank", "   ", apperr.ErrInvalid},
		{"too long", strings.Repeat("é", 51), apperr.ErrInvalid},
		{"tombstone prefix", "del_" + strings.ReplaceAll(u.UID, "-", ""), apperr.ErrInvalid},
		{"tombstone prefix any case", "DEL_bob", apperr.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.users.Create(env.ctx, NewUser{Name: tt.in}, roundStart)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err = env.users.Create(env.ctx, NewUser{Name: strings.Repeat("é", 50)}, roundStart)
	assert.NoError(t, err)

	// the owner of the uid can still be deleted
	require.NoError(t, env.users.Delete(env.ctx, u.UID, roundStart))
}

func TestUserDelete(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")

	assert.True(t, errors.Is(env.users.Delete(env.ctx, "not-a-uuid", roundStart), apperr.ErrInvalid))
	assert.True(t, errors.Is(env.users.Delete(env.ctx, uuid.NewString(), roundStart), apperr.ErrNotFound))

	require.NoError(t, env.users.Delete(env.ctx, alice.UID, roundStart))
	assert.True(t, errors.Is(env.users.Delete(env.ctx, alice.UID, roundStart), apperr.ErrDeleted))

	_, err := env.users.Lookup(env.ctx, alice.UID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	// the name is free again
	again := env.user(t, "alice")
	assert.NotEqual(t, alice.UID, again.UID)

	top, err := env.leaderboard.Top(env.ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "alice", top[0].Username)
}

func TestUserHistory(t *testing.T) {
	env := newTestEnv(t)
	r, users := settledScenario(t, env)
	_, err := env.settlement.SettleDue(env.ctx, r.TargetAt)
	require.NoError(t, err)

	items, err := env.users.History(env.ctx, users["carol"].UID, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, storage.ChoiceBearish, items[0].Choice)
	require.NotNil(t, items[0].WinningChoice)
	assert.Equal(t, storage.ChoiceBullish, *items[0].WinningChoice)
	require.NotNil(t, items[0].IsWon)
	assert.False(t, *items[0].IsWon)
}
