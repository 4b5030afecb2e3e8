package model

import "time"

// RunStatus represents the lifecycle state of a harvest run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	// RunStatusExhausted means the listing ran out of pages (empty-page
	// streak hit the threshold). Normal completion.
	RunStatusExhausted RunStatus = "completed_exhausted"
	// RunStatusLoginWall means the site redirected the session to a
	// login/verification interstitial. Clean termination, not a failure.
	RunStatusLoginWall RunStatus = "completed_login_wall"
	// RunStatusInterrupted means the context was cancelled (SIGINT) and the
	// run stopped at a page boundary.
	RunStatusInterrupted RunStatus = "interrupted"
	// RunStatusPageLimit means the optional max_pages bound stopped the walk
	// before the listing ran dry. Normal completion.
	RunStatusPageLimit RunStatus = "completed_page_limit"
	// RunStatusFailed means the run could not start or aborted on a fatal
	// error (session construction, corrupt checkpoint store).
	RunStatusFailed RunStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s != RunStatusRunning
}

// RunSummary counts what a run did. Failed extractions and failed syncs are
// counted but never abort the run.
type RunSummary struct {
	Pages              int `json:"pages"`
	EmptyPages         int `json:"empty_pages"`
	Discovered         int `json:"discovered"`
	Extracted          int `json:"extracted"`
	ExtractionFailures int `json:"extraction_failures"`
	Skipped            int `json:"skipped"`
	Synced             int `json:"synced"`
	SyncFailures       int `json:"sync_failures"`
}

// Run is the durable record of one harvest invocation.
type Run struct {
	ID         string         `json:"id"`
	Keyword    string         `json:"keyword"`
	Locale     string         `json:"locale"`
	Tier       ExtractionTier `json:"tier"`
	Status     RunStatus      `json:"status"`
	Summary    RunSummary     `json:"summary"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Checkpoint is the resumable position of the harvest: the next listing page
// to fetch and the identity digests already synced. Both survive process
// restarts; re-syncing a lost digest is safe because upserts are idempotent.
type Checkpoint struct {
	NextPage     uint     `json:"next_page"`
	ProcessedIDs []string `json:"processed_ids"`
}
