package model

import "fmt"

type Status string

const (
	StatusQueued         Status = "Queued"
	StatusDownloading    Status = "Downloading"
	StatusPostProcessing Status = "Post-processing"
	StatusDone           Status = "Done"
	StatusFailed         Status = "Failed"
)

// Phase is display-only and moves independently of Status.
type Phase string

const (
	PhaseResolvingFormats    Phase = "Resolving formats"
	PhaseDownloadingStreams  Phase = "Downloading streams"
	PhaseMergingStreams      Phase = "Merging streams"
	PhaseConverting          Phase = "Converting"
	PhaseGeneratingThumbnail Phase = "Generating thumbnail"
)

type ThumbnailStatus string

const (
	ThumbnailPending    ThumbnailStatus = "pending"
	ThumbnailGenerating ThumbnailStatus = "generating"
	ThumbnailReady      ThumbnailStatus = "ready"
	ThumbnailFailed     ThumbnailStatus = "failed"
)

var allowedTransitions = map[Status]map[Status]bool{
	"": {
		StatusQueued: true,
	},
	StatusQueued: {
		StatusQueued:      true,
		StatusDownloading: true,
		StatusFailed:      true,
	},
	StatusDownloading: {
		StatusDownloading:    true,
		StatusPostProcessing: true,
		StatusDone:           true,
		StatusFailed:         true,
	},
	StatusPostProcessing: {
		StatusPostProcessing: true,
		StatusDone:           true,
		StatusFailed:         true,
	},
	StatusDone: {
		StatusDone: true,
	},
	StatusFailed: {
		StatusFailed:      true,
		StatusDownloading: true, // explicit retry only
	},
}

func IsKnownStatus(status Status) bool {
	if status == "" {
		return false
	}
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func (s Status) IsActive() bool {
	return s == StatusDownloading || s == StatusPostProcessing
}

func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanStart reports whether a run may begin from this status.
func (s Status) CanStart() bool {
	return CanTransition(s, StatusDownloading) && s != StatusDownloading
}

type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid job status transition: %q -> %q (job_id=%s)", e.From, e.To, e.JobID)
}

func CheckTransition(job Job, to Status) error {
	if !CanTransition(job.Status, to) {
		return &TransitionError{JobID: job.ID, From: job.Status, To: to}
	}
	return nil
}
