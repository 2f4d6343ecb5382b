package pipeline

import "errors"

// FileID names one asset on the origin. Dataset is an advisory partition
// hint; 0 means unknown, probe the full configured range.
type FileID struct {
	ID      string
	Dataset int
}

// ResourceLocation is the resolved (identifier, dataset, extension) triple.
// Only constructed from a probe response that passed Classify.
type ResourceLocation struct {
	ID        string
	Dataset   int
	Extension string
}

type OutcomeStatus string

const (
	StatusDownloaded OutcomeStatus = "downloaded"
	StatusNotFound   OutcomeStatus = "not_found"
	StatusFailed     OutcomeStatus = "failed"
)

type FailReason string

const (
	ReasonContentMismatch FailReason = "content-mismatch"
	ReasonTransportError  FailReason = "transport-error"
)

// Outcome is the terminal result for one identifier within one run.
type Outcome struct {
	ID        string
	Status    OutcomeStatus
	Reason    FailReason
	Extension string
	Bytes     int64
}

type RunStats struct {
	Total      int `json:"total"`
	Downloaded int `json:"downloaded"`
	NotFound   int `json:"not_found"`
	Failed     int `json:"failed"`
}

// SearchResult is one discovered identifier. Tags accumulate every query that
// matched it, in first-seen order.
type SearchResult struct {
	ID      string
	Dataset int
	Tags    []string
}

var (
	ErrAuthInvalid = errors.New("auth context not usable")
	ErrNotFound    = errors.New("no candidate matched")
)
