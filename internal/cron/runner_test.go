package cronrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func TestRunnerRunsJobsWithBaseContext(t *testing.T) {
	base := context.WithValue(context.Background(), ctxKey{}, "base")
	r := New(nil, base)

	got := make(chan any, 1)
	_, err := r.Add("* * * * * *", func(ctx context.Context) {
		select {
		case got <- ctx.Value(ctxKey{}):
		default:
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	r.Start()
	defer r.Stop()

	select {
	case v := <-got:
		assert.Equal(t, "base", v)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Add("every minute", func(context.Context) {})
	assert.Error(t, err)
	// five-field specs lack the seconds column
	_, err = r.Add("*/5 * * * *", func(context.Context) {})
	assert.Error(t, err)
}

func TestRunnerRecoversPanics(t *testing.T) {
	r := New(nil, nil)
	ran := make(chan struct{}, 4)
	_, err := r.Add("* * * * * *", func(context.Context) {
		ran <- struct{}{}
		panic("boom")
	})
	require.NoError(t, err)
	r.Start()
	defer r.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(3 * time.Second):
			t.Fatal("job stopped running after a panic")
		}
	}
}
