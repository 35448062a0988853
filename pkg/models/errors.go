package models

// ErrorKind classifies a cycle error for the journal and metrics. Kinds map
// one-to-one onto the error taxonomy: everything except config and startup
// auth failures is contained within a single cycle.
type ErrorKind string

const (
	ErrKindDataUnavailable     ErrorKind = "DATA_UNAVAILABLE"
	ErrKindAnalystTimeout      ErrorKind = "ANALYST_TIMEOUT"
	ErrKindAnalystInvalid      ErrorKind = "ANALYST_INVALID_OUTPUT"
	ErrKindAnalystFailed       ErrorKind = "ANALYST_FAILED"
	ErrKindJournalWriteFailed  ErrorKind = "JOURNAL_WRITE_FAILED"
	ErrKindProviderTransient   ErrorKind = "PROVIDER_TRANSIENT"
	ErrKindProviderRateLimited ErrorKind = "PROVIDER_RATE_LIMITED"
	ErrKindProviderAuth        ErrorKind = "PROVIDER_AUTH"
	ErrKindProviderRegion      ErrorKind = "PROVIDER_REGION_BLOCKED"
	ErrKindProviderPermanent   ErrorKind = "PROVIDER_PERMANENT"
	ErrKindInternal            ErrorKind = "INTERNAL"
)

// CycleError is one contained failure observed during a cycle. Stage names
// the pipeline stage that observed it.
type CycleError struct {
	Stage  string    `json:"stage"`
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}
