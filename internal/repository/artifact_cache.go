package repository

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sitewatch/sitewatch/internal/domain"
)

// ArtifactCache wraps the current-artifact read path with an in-process
// LRU, grounded on the teacher's two-tier template cache
// (internal/infrastructure/template/cache.go) but trimmed to one tier:
// artifacts are already served from Postgres, not recomputed, so there is
// no L2 worth adding on top of the pool's own connection cache. Entries
// expire after the TTL or when Invalidate is called for their project;
// no content hash is compared, so a read served mid-regeneration returns
// the previous artifact until one of those happens.
type ArtifactCache struct {
	repo   *Repository
	cache  *lru.Cache[string, cachedArtifact]
	ttl    time.Duration
	mu     sync.Mutex
	hits   int64
	misses int64
}

type cachedArtifact struct {
	artifact *domain.Artifact
	cachedAt time.Time
}

// NewArtifactCache builds an ArtifactCache holding up to size project
// artifacts, each valid for ttl before the next read falls through to
// Postgres.
func NewArtifactCache(repo *Repository, size int, ttl time.Duration) (*ArtifactCache, error) {
	if size <= 0 {
		size = 500
	}
	c, err := lru.New[string, cachedArtifact](size)
	if err != nil {
		return nil, err
	}
	return &ArtifactCache{repo: repo, cache: c, ttl: ttl}, nil
}

// GetCurrentArtifact serves from the LRU when a fresh entry exists,
// otherwise reads through to the repository and repopulates it.
func (c *ArtifactCache) GetCurrentArtifact(ctx context.Context, projectID string) (*domain.Artifact, error) {
	if entry, ok := c.cache.Get(projectID); ok && time.Since(entry.cachedAt) < c.ttl {
		c.recordHit()
		return entry.artifact, nil
	}
	c.recordMiss()

	artifact, err := c.repo.GetCurrentArtifact(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(projectID, cachedArtifact{artifact: artifact, cachedAt: time.Now()})
	return artifact, nil
}

// Invalidate evicts a project's cached artifact immediately, used right
// after WriteArtifactVersion commits a new one so readers never serve a
// stale hash longer than it takes the writer to call this.
func (c *ArtifactCache) Invalidate(projectID string) {
	c.cache.Remove(projectID)
}

// Stats reports cumulative hit/miss counts for the admin stats endpoint.
func (c *ArtifactCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *ArtifactCache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *ArtifactCache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
