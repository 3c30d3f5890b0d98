// Package scheduler owns the four Redis keys that drive the two-tier
// check timers, the cooldown gate, and the adaptive backoff interval
// store. Every other component reaches these through the operations
// below; nothing else may write `schedule:*` directly.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyFullCheck        = "schedule:full_check"
	keyLightweightCheck = "schedule:lightweight_check"
	keyCooldowns        = "schedule:cooldowns"
	keyIntervals        = "schedule:intervals"
)

// Timer names accepted by the timer-scoped operations and reported in
// metrics labels.
const (
	TimerFullCheck        = "full_check"
	TimerLightweightCheck = "lightweight_check"
)

var ErrUnknownTimer = errors.New("scheduler: unknown timer")

// Config bounds and defaults for the adaptive check interval.
type Config struct {
	MinHours     int
	MaxHours     int
	DefaultHours int
}

// Scheduler is a thin, stateless wrapper around a Redis client. It holds
// no in-process state of its own; every operation round-trips to Redis.
type Scheduler struct {
	redis  *redis.Client
	cfg    Config
	logger *slog.Logger
}

// New builds a Scheduler bound to the given Redis client.
func New(client *redis.Client, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{redis: client, cfg: cfg, logger: logger}
}

func (s *Scheduler) keyFor(timer string) (string, error) {
	switch timer {
	case TimerFullCheck:
		return keyFullCheck, nil
	case TimerLightweightCheck:
		return keyLightweightCheck, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTimer, timer)
	}
}

// ScheduleFullCheck upserts (project, due-at) into the full-check timer.
// due-at is runAt if given, else now+intervalHours, else the project's
// stored interval, else the configured default.
func (s *Scheduler) ScheduleFullCheck(ctx context.Context, projectID string, intervalHours *int, runAt *time.Time) error {
	return s.schedule(ctx, TimerFullCheck, projectID, intervalHours, runAt)
}

// ScheduleLightweightCheck upserts (project, due-at) into the
// lightweight-check timer.
func (s *Scheduler) ScheduleLightweightCheck(ctx context.Context, projectID string, intervalHours *int, runAt *time.Time) error {
	return s.schedule(ctx, TimerLightweightCheck, projectID, intervalHours, runAt)
}

func (s *Scheduler) schedule(ctx context.Context, timer, projectID string, intervalHours *int, runAt *time.Time) error {
	key, err := s.keyFor(timer)
	if err != nil {
		return err
	}

	due := time.Now()
	switch {
	case runAt != nil:
		due = *runAt
	case intervalHours != nil:
		due = due.Add(time.Duration(*intervalHours) * time.Hour)
	default:
		hours, err := s.GetCheckInterval(ctx, projectID)
		if err != nil {
			return err
		}
		due = due.Add(time.Duration(hours) * time.Hour)
	}

	return s.redis.ZAdd(ctx, key, redis.Z{Score: float64(due.Unix()), Member: projectID}).Err()
}

// luaDueScript atomically ranges [-inf, now], removes the returned
// members, and returns them, so two concurrent dispatchers never both
// see the same project id for the same tick.
const luaDueScript = `
local key = KEYS[1]
local now = ARGV[1]
local limit = ARGV[2]
local ids = redis.call('ZRANGEBYSCORE', key, '-inf', now, 'LIMIT', 0, limit)
if #ids > 0 then
	redis.call('ZREM', key, unpack(ids))
end
return ids
`

var dueScript = redis.NewScript(luaDueScript)

// GetDueFullChecks returns up to limit project ids whose due-at has
// passed, atomically removing them from the timer in the same call.
func (s *Scheduler) GetDueFullChecks(ctx context.Context, limit int) ([]string, error) {
	return s.getDue(ctx, keyFullCheck, limit)
}

// GetDueLightweightChecks returns up to limit due project ids from the
// lightweight-check timer, atomically removing them.
func (s *Scheduler) GetDueLightweightChecks(ctx context.Context, limit int) ([]string, error) {
	return s.getDue(ctx, keyLightweightCheck, limit)
}

func (s *Scheduler) getDue(ctx context.Context, key string, limit int) ([]string, error) {
	now := time.Now().Unix()
	res, err := dueScript.Run(ctx, s.redis, []string{key}, now, limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("scheduler: get due from %s: %w", key, err)
	}
	return res, nil
}

// CancelFullCheck idempotently removes projectID from the full-check timer.
func (s *Scheduler) CancelFullCheck(ctx context.Context, projectID string) error {
	return s.redis.ZRem(ctx, keyFullCheck, projectID).Err()
}

// CancelLightweightCheck idempotently removes projectID from the
// lightweight-check timer.
func (s *Scheduler) CancelLightweightCheck(ctx context.Context, projectID string) error {
	return s.redis.ZRem(ctx, keyLightweightCheck, projectID).Err()
}

// GetCheckInterval returns the project's current full-check interval in
// hours, or the configured default if unset.
func (s *Scheduler) GetCheckInterval(ctx context.Context, projectID string) (int, error) {
	v, err := s.redis.HGet(ctx, keyIntervals, projectID).Int()
	if errors.Is(err, redis.Nil) {
		return s.cfg.DefaultHours, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scheduler: get interval: %w", err)
	}
	return v, nil
}

// SetCheckInterval clamps hours to [MinHours, MaxHours] and stores it.
func (s *Scheduler) SetCheckInterval(ctx context.Context, projectID string, hours int) (int, error) {
	clamped := s.clamp(hours)
	if err := s.redis.HSet(ctx, keyIntervals, projectID, clamped).Err(); err != nil {
		return 0, fmt.Errorf("scheduler: set interval: %w", err)
	}
	return clamped, nil
}

func (s *Scheduler) clamp(hours int) int {
	if hours < s.cfg.MinHours {
		return s.cfg.MinHours
	}
	if hours > s.cfg.MaxHours {
		return s.cfg.MaxHours
	}
	return hours
}

// ApplyBackoff is the Backoff Controller (C10): a stateless function
// over the interval store. If changed, the interval resets to MinHours;
// otherwise it doubles, clamped to MaxHours. Returns the new interval.
func (s *Scheduler) ApplyBackoff(ctx context.Context, projectID string, changed bool) (int, error) {
	if changed {
		return s.SetCheckInterval(ctx, projectID, s.cfg.MinHours)
	}

	current, err := s.GetCheckInterval(ctx, projectID)
	if err != nil {
		return 0, err
	}

	next := current * 2
	if next > s.cfg.MaxHours {
		next = s.cfg.MaxHours
	}
	return s.SetCheckInterval(ctx, projectID, next)
}

// SetCooldown puts projectID into the cooldown set for the given number
// of hours. While in cooldown, TriggerRescrape callers must treat the
// project as rescrape-forbidden regardless of signal strength.
func (s *Scheduler) SetCooldown(ctx context.Context, projectID string, hours int) error {
	expiresAt := time.Now().Add(time.Duration(hours) * time.Hour)
	return s.redis.ZAdd(ctx, keyCooldowns, redis.Z{Score: float64(expiresAt.Unix()), Member: projectID}).Err()
}

// IsInCooldown reports whether projectID is currently under cooldown,
// lazily evicting expired entries as a side effect of the read.
func (s *Scheduler) IsInCooldown(ctx context.Context, projectID string) (bool, error) {
	now := time.Now().Unix()
	if err := s.redis.ZRemRangeByScore(ctx, keyCooldowns, "-inf", fmt.Sprintf("%d", now)).Err(); err != nil {
		return false, fmt.Errorf("scheduler: evict expired cooldowns: %w", err)
	}

	score, err := s.redis.ZScore(ctx, keyCooldowns, projectID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("scheduler: check cooldown: %w", err)
	}
	return score > float64(now), nil
}

// CooldownRemaining returns the remaining cooldown duration for a
// project, or zero if it is not in cooldown.
func (s *Scheduler) CooldownRemaining(ctx context.Context, projectID string) (time.Duration, error) {
	score, err := s.redis.ZScore(ctx, keyCooldowns, projectID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scheduler: cooldown remaining: %w", err)
	}

	remaining := time.Until(time.Unix(int64(score), 0))
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// ScheduleProject bulk-enrolls a project into both check timers in one
// pipelined round trip, using the project's current (or default) interval.
func (s *Scheduler) ScheduleProject(ctx context.Context, projectID string, lightweightIntervalMinutes int) error {
	hours, err := s.GetCheckInterval(ctx, projectID)
	if err != nil {
		return err
	}

	fullDue := time.Now().Add(time.Duration(hours) * time.Hour).Unix()
	lightDue := time.Now().Add(time.Duration(lightweightIntervalMinutes) * time.Minute).Unix()

	_, err = s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, keyFullCheck, redis.Z{Score: float64(fullDue), Member: projectID})
		p.ZAdd(ctx, keyLightweightCheck, redis.Z{Score: float64(lightDue), Member: projectID})
		p.HSetNX(ctx, keyIntervals, projectID, s.cfg.DefaultHours)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduler: schedule project: %w", err)
	}
	return nil
}

// UnscheduleProject bulk-removes a project from all four scheduler keys
// in one pipelined round trip.
func (s *Scheduler) UnscheduleProject(ctx context.Context, projectID string) error {
	_, err := s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, keyFullCheck, projectID)
		p.ZRem(ctx, keyLightweightCheck, projectID)
		p.ZRem(ctx, keyCooldowns, projectID)
		p.HDel(ctx, keyIntervals, projectID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduler: unschedule project: %w", err)
	}
	return nil
}

// Stats reports operator-observability counts across all four keys.
type Stats struct {
	FullCheckScheduled        int64
	LightweightCheckScheduled int64
	CooldownsActive           int64
	IntervalsTracked          int64
}

// Stats returns counts of due/scheduled/cooldowns/intervals.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	cmds, err := s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZCard(ctx, keyFullCheck)
		p.ZCard(ctx, keyLightweightCheck)
		p.ZCard(ctx, keyCooldowns)
		p.HLen(ctx, keyIntervals)
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("scheduler: stats: %w", err)
	}

	stats.FullCheckScheduled = cmds[0].(*redis.IntCmd).Val()
	stats.LightweightCheckScheduled = cmds[1].(*redis.IntCmd).Val()
	stats.CooldownsActive = cmds[2].(*redis.IntCmd).Val()
	stats.IntervalsTracked = cmds[3].(*redis.IntCmd).Val()
	return stats, nil
}
