package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentx/guardian-backend/internal/llm"
	"github.com/agentx/guardian-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	_, err := NewScheduler([]Job{{Name: "broken", Schedule: "every now and then", Run: func(context.Context) (int64, error) { return 0, nil }}}, quietLogger())
	assert.Error(t, err)
}

func TestSchedulerRunsJobs(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler([]Job{
		{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) (int64, error) {
			runs.Add(1)
			return 1, nil
		}},
		{Name: "disabled", Schedule: "", Run: func(context.Context) (int64, error) {
			return 0, errors.New("must not run")
		}},
	}, quietLogger())
	require.NoError(t, err)
	assert.Len(t, s.jobs, 1)

	s.Start()
	defer s.Stop(time.Second)

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestMaintenanceJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	f.memory.now = func() time.Time { return now }
	f.cache.now = func() time.Time { return now }

	_, err := f.memory.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)
	f.fake.Reply("detect:toxic", cleanToxic)
	_, err = f.detector.DetectContent(ctx, "elder-1", models.DetectionToxic, "早上好")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	jobs := MaintenanceJobs(f.memory, f.cache, "@every 1m", "@every 1m")
	require.Len(t, jobs, 2)

	retired, err := jobs[0].Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), retired)

	swept, err := jobs[1].Run(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, swept, int64(1))
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func TestHealthMonitor(t *testing.T) {
	f := newFixture(t)
	guard := llm.NewGuard(f.fake, llm.GuardConfig{BreakerFailures: 5}, quietLogger())

	f.fake.Reply("route", `{}`).Fail("respond", errors.New("boom"))
	_, err := guard.Complete(context.Background(), &llm.Request{Operation: llm.OpRoute})
	require.NoError(t, err)
	_, err = guard.Complete(context.Background(), &llm.Request{Operation: llm.OpRespond})
	require.Error(t, err)

	status := NewHealthMonitor(stubPinger{}, guard, f.cache).Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "ok", status.Database)
	assert.Equal(t, 0.5, status.ErrorRate)

	down := NewHealthMonitor(stubPinger{err: errors.New("connection refused")}, guard, f.cache).Check(context.Background())
	assert.False(t, down.Healthy)
	assert.Equal(t, "connection refused", down.Database)
}
