package models

import "time"

// LabelCategory is the closed set of categories an end user may assign
// to an address label.
type LabelCategory string

const (
	CategoryExchange LabelCategory = "exchange"
	CategoryPersonal LabelCategory = "personal"
	CategoryMerchant LabelCategory = "merchant"
	CategoryMixer    LabelCategory = "mixer"
	CategoryOther    LabelCategory = "other"
)

// AddressLabel is a user-supplied address -> label mapping, persisted in
// the address_labels table. Never written by the traversal core itself.
type AddressLabel struct {
	Address   string        `json:"address"`
	Label     string        `json:"label"`
	Category  LabelCategory `json:"category"`
	Notes     string        `json:"notes,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// JobStatus is the lifecycle state of a background analysis job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// AnalysisJob is a row in the analysis_jobs table: a durable record of a
// long-running KYC trace dispatched asynchronously.
type AnalysisJob struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"` // "kyc_trace", "forward_trace", "backward_trace"
	Status     JobStatus `json:"status"`
	Request    string    `json:"request"` // JSON-encoded request parameters
	Result     string    `json:"result,omitempty"` // JSON-encoded result, set when Status==done
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
