package progress

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, nil), mr
}

func TestStartAndGet(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	s.Start(ctx, "proj-1", StageCrawl, 10)

	record, err := s.Get(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, StageCrawl, record.Stage)
	assert.Equal(t, 10, record.Total)
	assert.Equal(t, 0, record.Current)
}

func TestUpdateComputesPercent(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	s.Start(ctx, "proj-1", StageCrawl, 10)
	s.Update(ctx, "proj-1", StageCrawl, 5, 10, "https://example.com/page")

	record, err := s.Get(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, record.Percent)
	assert.Equal(t, "https://example.com/page", record.CurrentURL)
}

func TestCompleteSetsFullPercent(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	s.Start(ctx, "proj-1", StageCrawl, 10)
	s.Complete(ctx, "proj-1")

	record, err := s.Get(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, StageComplete, record.Stage)
	assert.Equal(t, 100.0, record.Percent)
}

func TestGetMissingReturnsZeroValue(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()

	record, err := s.Get(context.Background(), "unknown-project")
	require.NoError(t, err)
	assert.Equal(t, Record{}, record)
}

func TestRecordHasTTL(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	s.Start(ctx, "proj-1", StageCrawl, 1)
	ttlSet := mr.TTL("progress:proj-1")
	assert.Greater(t, ttlSet.Seconds(), 0.0)
}
