package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusGenerating JobStatus = "generating"
	JobStatusExtending  JobStatus = "extending"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further backend work happens for the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusGenerating, JobStatusExtending, JobStatusComplete, JobStatusFailed:
		return true
	}
	return false
}

// ProviderTag identifies the backend protocol family a job was dispatched to.
type ProviderTag string

const (
	ProviderPercentProgress  ProviderTag = "percent-progress"
	ProviderOperation        ProviderTag = "operation"
	ProviderOperationChained ProviderTag = "operation-chained"
	ProviderTaskRatio        ProviderTag = "task-ratio"
)

// Valid reports whether t is a known provider tag.
func (t ProviderTag) Valid() bool {
	switch t {
	case ProviderPercentProgress, ProviderOperation, ProviderOperationChained, ProviderTaskRatio:
		return true
	}
	return false
}

// ErrorKind classifies why a job failed, or what degraded an otherwise complete job.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = "none"
	ErrorKindDispatch          ErrorKind = "dispatch"
	ErrorKindBackend           ErrorKind = "backend"
	ErrorKindSafetyFilter      ErrorKind = "safety_filter"
	ErrorKindEmptyOutput       ErrorKind = "empty_output"
	ErrorKindIngestionDegraded ErrorKind = "ingestion_degraded"
	ErrorKindExtensionPartial  ErrorKind = "extension_partial"
)

// Job is the persisted record of one video generation request.
type Job struct {
	ID        string
	OwnerID   string
	AccountID string

	Status      JobStatus
	Provider    ProviderTag
	ExternalRef string

	Prompt      string
	Style       string
	AspectRatio string

	ProgressPct   int
	RawVideoURL   string
	FinalVideoURL string
	ThumbnailURL  string

	// Chain state. ExtensionStep counts segments completed so far.
	ExtensionStep         int
	ExtensionTotal        int
	ExtensionVideoURI     string
	ExtensionClaimedAt    *time.Time
	TargetDurationSeconds int
	DurationSeconds       int

	CreditCost      int
	CreditsRefunded bool

	ErrorKind    ErrorKind
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether the job reached complete or failed.
func (j *Job) IsTerminal() bool {
	return j != nil && j.Status.IsTerminal()
}

// IsChained reports whether the job follows the extension chain protocol.
func (j *Job) IsChained() bool {
	return j != nil && j.Provider == ProviderOperationChained
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Statuses []JobStatus
	Provider ProviderTag
	Limit    int
}

// MediaSource describes where finished output can be fetched from. Either Data
// is populated (the backend already returned the bytes) or URI points at the
// content, optionally requiring a credential.
type MediaSource struct {
	URI         string
	Data        []byte
	ContentType string

	// AuthHeader/AuthValue are sent on the first fetch attempt.
	AuthHeader string
	AuthValue  string
	// FallbackParam/FallbackValue are appended as a query parameter when the
	// first attempt is rejected with 401/403.
	FallbackParam string
	FallbackValue string
}

// Completion carries the fields written when a job transitions to complete.
type Completion struct {
	RawVideoURL       string
	DurationSeconds   int
	ExtensionStep     int
	ExtensionTotal    int
	ExtensionVideoURI string
	ErrorKind         ErrorKind
	ErrorMessage      string
	// CreditCost, when positive, replaces the stored cost with what was
	// actually delivered.
	CreditCost int
	Refund     *LedgerEntry
}

// Failure carries the fields written when a job transitions to failed.
type Failure struct {
	ErrorKind    ErrorKind
	ErrorMessage string
	Refund       *LedgerEntry
}

// ExtensionClaim is the conditional write that advances a chain by one step.
// It only applies while the stored step and ref still match what the caller observed.
type ExtensionClaim struct {
	JobID        string
	ExpectedStep int
	ExpectedRef  string
	NextStep     int
	PendingRef   string
	SegmentURI   string
	ClaimedAt    time.Time
}

// ChainPromotion reopens a complete job for one more extension segment.
type ChainPromotion struct {
	JobID          string
	ExpectedStep   int
	ExtensionStep  int
	ExtensionTotal int
	CreditCost     int
	PendingRef     string
	ClaimedAt      time.Time
	Debit          *LedgerEntry
}

// CompletionRestore puts a promoted job back to complete after its extension
// could not be triggered.
type CompletionRestore struct {
	JobID          string
	PendingRef     string
	Provider       ProviderTag
	ExternalRef    string
	ExtensionStep  int
	ExtensionTotal int
	CreditCost     int
	Refund         *LedgerEntry
}
