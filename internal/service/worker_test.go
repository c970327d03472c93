package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cronrunner "kasouyosou/internal/cron"
)

func TestRoundWorkerJobs(t *testing.T) {
	env := newTestEnv(t)
	runner := cronrunner.New(nil, context.Background())
	w := NewRoundWorker(env.rounds, env.settlement, runner, nil)

	clock := roundStart.Add(2 * time.Minute)
	w.now = func() time.Time { return clock }

	require.NoError(t, w.Schedule(env.ctx, "0 0 * * * *", "30 */5 * * * *"))
	assert.Equal(t, 2, runner.Len())

	// already exists: logged, not fatal
	w.CreateRound(env.ctx)
	rounds, err := env.rounds.List(env.ctx, 0)
	require.NoError(t, err)
	require.Len(t, rounds, 1)

	clock = rounds[0].TargetAt
	w.SettleRounds(env.ctx)
	detail, err := env.rounds.Get(env.ctx, rounds[0].ID)
	require.NoError(t, err)
	assert.True(t, detail.Settled())
}

func TestRoundWorkerRejectsBadSchedule(t *testing.T) {
	env := newTestEnv(t)
	w := NewRoundWorker(env.rounds, env.settlement, cronrunner.New(nil, context.Background()), nil)
	w.now = func() time.Time { return roundStart }

	assert.Error(t, w.Schedule(env.ctx, "every hour", "30 */5 * * * *"))
}
