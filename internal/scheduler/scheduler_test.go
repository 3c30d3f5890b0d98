package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestScheduler(t *testing.T) (*Scheduler, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := Config{MinHours: 6, MaxHours: 168, DefaultHours: 24}

	return New(client, cfg, nil), mr
}

func TestScheduleAndGetDueFullChecks(t *testing.T) {
	s, mr := setupTestScheduler(t)
	defer mr.Close()

	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	require.NoError(t, s.ScheduleFullCheck(ctx, "proj-1", nil, &past))
	require.NoError(t, s.ScheduleFullCheck(ctx, "proj-2", nil, &past))

	ids, err := s.GetDueFullChecks(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"proj-1", "proj-2"}, ids)

	// at-most-once: the same tick never returns an id twice
	again, err := s.GetDueFullChecks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestGetDueFullChecksRespectsLimit(t *testing.T) {
	s, mr := setupTestScheduler(t)
	defer mr.Close()

	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.ScheduleFullCheck(ctx, id, nil, &past))
	}

	ids, err := s.GetDueFullChecks(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	remaining, err := s.GetDueFullChecks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestApplyBackoffBounds(t *testing.T) {
	s, mr := setupTestScheduler(t)
	defer mr.Close()
	ctx := context.Background()

	hours, err := s.ApplyBackoff(ctx, "proj-1", false)
	require.NoError(t, err)
	assert.Equal(t, 48, hours, "unset interval defaults to 24h then doubles")

	hours, err = s.ApplyBackoff(ctx, "proj-1", true)
	require.NoError(t, err)
	assert.Equal(t, 6, hours, "changed=true always resets to MinHours")

	// repeatedly double past the max
	for i := 0; i < 20; i++ {
		hours, err = s.ApplyBackoff(ctx, "proj-1", false)
		require.NoError(t, err)
	}
	assert.Equal(t, 168, hours, "interval must clamp at MaxHours")
}

func TestCooldownHonored(t *testing.T) {
	s, mr := setupTestScheduler(t)
	defer mr.Close()
	ctx := context.Background()

	inCooldown, err := s.IsInCooldown(ctx, "proj-1")
	require.NoError(t, err)
	assert.False(t, inCooldown)

	require.NoError(t, s.SetCooldown(ctx, "proj-1", 4))

	inCooldown, err = s.IsInCooldown(ctx, "proj-1")
	require.NoError(t, err)
	assert.True(t, inCooldown)

	remaining, err := s.CooldownRemaining(ctx, "proj-1")
	require.NoError(t, err)
	assert.Greater(t, remaining, 3*time.Hour)
}

func TestCooldownExpires(t *testing.T) {
	s, mr := setupTestScheduler(t)
	defer mr.Close()
	ctx := context.Background()

	past := time.Now().Add(-time.Second)
	require.NoError(t, s.redis.ZAdd(ctx, keyCooldowns, redis.Z{Score: float64(past.Unix()), Member: "proj-1"}).Err())

	inCooldown, err := s.IsInCooldown(ctx, "proj-1")
	require.NoError(t, err)
	assert.False(t, inCooldown, "expired cooldown entries are lazily evicted on read")
}

func TestScheduleAndUnscheduleProject(t *testing.T) {
	s, mr := setupTestScheduler(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.ScheduleProject(ctx, "proj-1", 5))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.FullCheckScheduled)
	assert.EqualValues(t, 1, stats.LightweightCheckScheduled)
	assert.EqualValues(t, 1, stats.IntervalsTracked)

	require.NoError(t, s.UnscheduleProject(ctx, "proj-1"))

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.FullCheckScheduled)
	assert.EqualValues(t, 0, stats.LightweightCheckScheduled)
	assert.EqualValues(t, 0, stats.IntervalsTracked)
}

func TestCheckIntervalClamping(t *testing.T) {
	s, mr := setupTestScheduler(t)
	defer mr.Close()
	ctx := context.Background()

	hours, err := s.SetCheckInterval(ctx, "proj-1", 1000)
	require.NoError(t, err)
	assert.Equal(t, 168, hours)

	hours, err = s.SetCheckInterval(ctx, "proj-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 6, hours)
}
