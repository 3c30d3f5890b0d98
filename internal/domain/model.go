// Package domain holds the aggregate root and child entities tracked by
// Site-Watch: a project (tracked site), its crawled pages, its curated
// artifact state, and the crawl jobs that move it forward.
//
// Children carry a non-owning ProjectID reference; none of them hold a
// navigable back-pointer to the project in memory.
package domain

import "time"

// ProjectStatus is the lifecycle state of a tracked site.
type ProjectStatus string

const (
	ProjectStatusPending  ProjectStatus = "pending"
	ProjectStatusCrawling ProjectStatus = "crawling"
	ProjectStatusReady    ProjectStatus = "ready"
	ProjectStatusFailed   ProjectStatus = "failed"
)

// Project is the tracked site aggregate root.
type Project struct {
	ID            string
	URL           string // canonical, normalized: lowercase, no trailing slash
	DisplayName   string
	Status        ProjectStatus
	CreatedAt     time.Time
	LastCheckedAt *time.Time
}

// Page is one version of a crawled page. Version-N rows are never mutated
// once version-N+1 exists; the current set for a project is max(version).
type Page struct {
	ProjectID         string
	URL               string
	Title             string
	Description       string
	FirstParagraph    string // truncated content preview, used as the significance baseline
	ContentHash       string
	ETag              string
	LastModifiedHeader string
	ContentLength     int64
	SampleHash        string // semantic fingerprint, used for header-less origins
	Version           int
	CrawledAt         time.Time
}

// URLInventoryEntry records that a URL has ever been observed for a
// project. Entries are never deleted; disappearance is encoded by
// LastSeenAt lagging behind the most recent crawl.
type URLInventoryEntry struct {
	ProjectID     string
	NormalizedURL string
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
}

// CuratedPage is a page description intended for the artifact. ContentHash
// records the hash the description was written from, the drift signal
// the planner diffs fresh crawls against.
type CuratedPage struct {
	ProjectID          string
	URL                string
	Title              string
	Description        string
	Category           string
	ContentHash        string
	ETag               string
	LastModifiedHeader string
	ContentLength      int64
	SampleHash         string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CuratedSection is a named group of curated pages with its own prose.
type CuratedSection struct {
	ProjectID   string
	Name        string
	Description string
	PageURLs    []string
	ContentHash string // aggregate hash over member pages
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SiteOverview is the one-per-project header content for the artifact.
type SiteOverview struct {
	ProjectID string
	Title     string
	Tagline   string
	Overview  string // multi-paragraph
}

// Artifact is the current generated document for a project.
type Artifact struct {
	ProjectID   string
	Content     string
	ContentHash string
	GeneratedAt time.Time
}

// TriggerReason names why a crawl job or artifact version was produced.
type TriggerReason string

const (
	TriggerInitial                  TriggerReason = "initial"
	TriggerManual                   TriggerReason = "manual"
	TriggerScheduledCheck           TriggerReason = "scheduled_check"
	TriggerLightweightChangeDetected TriggerReason = "lightweight_change_detected"
	TriggerChangeDetected           TriggerReason = "change_detected"
)

// ArtifactVersion is one immutable historical rendering of the artifact.
type ArtifactVersion struct {
	ProjectID     string
	Version       int
	Content       string
	ContentHash   string
	GeneratedAt   time.Time
	TriggerReason TriggerReason
}

// CrawlJobStatus is the lifecycle state of a crawl job.
type CrawlJobStatus string

const (
	CrawlJobPending   CrawlJobStatus = "pending"
	CrawlJobRunning   CrawlJobStatus = "running"
	CrawlJobCompleted CrawlJobStatus = "completed"
	CrawlJobFailed    CrawlJobStatus = "failed"
)

// CrawlJob tracks one full-rescrape run for a project. Immutable once
// completed or failed.
type CrawlJob struct {
	ID            string
	ProjectID     string
	Status        CrawlJobStatus
	TriggerReason TriggerReason
	PagesCrawled  int
	PagesChanged  int
	ErrorMessage  string
	StartedAt     time.Time
	CompletedAt   *time.Time
	TaskHandle    string
}
