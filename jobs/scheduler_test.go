package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"binder-oauth/metrics"
	"binder-oauth/store"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePurger struct {
	calls atomic.Int32
	err   error
}

func (f *fakePurger) PurgeExpired(context.Context) (store.PurgeResult, error) {
	f.calls.Add(1)
	return store.PurgeResult{Codes: 2, Tokens: 1}, f.err
}

type fakeSweeper struct {
	calls atomic.Int32
	ttl   atomic.Int64
}

func (f *fakeSweeper) DeleteStaleSessions(_ context.Context, ttl time.Duration) (int64, error) {
	f.calls.Add(1)
	f.ttl.Store(int64(ttl))
	return 3, nil
}

func (f *fakeSweeper) DeleteExpiredTokens(context.Context) (int64, error) {
	return 1, nil
}

func TestNewSchedulerRejectsZeroInterval(t *testing.T) {
	_, err := NewScheduler(&fakePurger{}, nil, Config{}, zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	purger := &fakePurger{}
	sweeper := &fakeSweeper{}
	m := metrics.New()

	s, err := NewScheduler(purger, sweeper, Config{PurgeInterval: time.Hour, SweepInterval: time.Hour, SessionTTL: 10 * time.Minute}, zap.NewNop(), m)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(1), purger.calls.Load())
	assert.Equal(t, int32(1), sweeper.calls.Load())
	assert.Equal(t, int64(10*time.Minute), sweeper.ttl.Load())

	count, err := testutil.GatherAndCount(m.Registry(), "binder_oauth_purged_records_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunOnceStopsOnError(t *testing.T) {
	purger := &fakePurger{err: errors.New("disk I/O error")}
	sweeper := &fakeSweeper{}

	s, err := NewScheduler(purger, sweeper, Config{PurgeInterval: time.Hour, SweepInterval: time.Hour}, zap.NewNop(), nil)
	require.NoError(t, err)

	assert.Error(t, s.RunOnce(context.Background()))
	assert.Zero(t, sweeper.calls.Load())
}

func TestSchedulerRunsJobs(t *testing.T) {
	purger := &fakePurger{}
	sweeper := &fakeSweeper{}

	s, err := NewScheduler(purger, sweeper, Config{PurgeInterval: 20 * time.Millisecond, SweepInterval: 20 * time.Millisecond, SessionTTL: time.Minute}, zap.NewNop(), nil)
	require.NoError(t, err)
	s.Start()

	assert.Eventually(t, func() bool {
		return purger.calls.Load() > 0 && sweeper.calls.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Shutdown())
}
