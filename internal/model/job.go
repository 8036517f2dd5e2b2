package model

import (
	"path/filepath"
	"strings"
	"time"
)

// Overrides are per-job replacements for preset and settings values.
type Overrides struct {
	Format           string `json:"format,omitempty" yaml:"format,omitempty"`
	DownloadDir      string `json:"download_dir,omitempty" yaml:"download_dir,omitempty"`
	FilenameTemplate string `json:"filename_template,omitempty" yaml:"filename_template,omitempty"`
}

type Job struct {
	ID              string          `json:"id"`
	URL             string          `json:"url"`
	PresetID        string          `json:"preset_id,omitempty"`
	Status          Status          `json:"status"`
	Phase           Phase           `json:"phase,omitempty"`
	StatusDetail    string          `json:"status_detail,omitempty"`
	Progress        float64         `json:"progress"`
	Speed           string          `json:"speed,omitempty"`
	ETA             string          `json:"eta,omitempty"`
	OutputPath      string          `json:"output_path,omitempty"`
	Title           string          `json:"title,omitempty"`
	Thumbnail       string          `json:"thumbnail,omitempty"`
	ThumbnailStatus ThumbnailStatus `json:"thumbnail_status,omitempty"`
	ThumbnailError  string          `json:"thumbnail_error,omitempty"`
	FallbackUsed    bool            `json:"fallback_used"`
	FallbackFormat  string          `json:"fallback_format,omitempty"`
	Overrides       Overrides       `json:"overrides"`
	CreatedAt       time.Time       `json:"created_at"`
	StatusChangedAt time.Time       `json:"status_changed_at"`
}

func (j Job) DisplayTitle() string {
	if t := strings.TrimSpace(j.Title); t != "" {
		return t
	}
	if j.OutputPath != "" {
		return filepath.Base(j.OutputPath)
	}
	return j.URL
}

// Patch is a field-level update. Nil fields are left untouched.
type Patch struct {
	Status          *Status
	Phase           *Phase
	StatusDetail    *string
	Progress        *float64
	Speed           *string
	ETA             *string
	OutputPath      *string
	Title           *string
	Thumbnail       *string
	ThumbnailStatus *ThumbnailStatus
	ThumbnailError  *string
	FallbackUsed    *bool
	FallbackFormat  *string
}

func Ptr[T any](v T) *T {
	return &v
}

func (p Patch) IsZero() bool {
	return p == Patch{}
}

// Apply merges p into job. A status change stamps StatusChangedAt.
func (p Patch) Apply(job *Job, now time.Time) {
	if p.Status != nil && *p.Status != job.Status {
		job.Status = *p.Status
		job.StatusChangedAt = now
	}
	if p.Phase != nil {
		job.Phase = *p.Phase
	}
	if p.StatusDetail != nil {
		job.StatusDetail = *p.StatusDetail
	}
	if p.Progress != nil {
		job.Progress = clampProgress(*p.Progress)
	}
	if p.Speed != nil {
		job.Speed = *p.Speed
	}
	if p.ETA != nil {
		job.ETA = *p.ETA
	}
	if p.OutputPath != nil {
		job.OutputPath = *p.OutputPath
	}
	if p.Title != nil {
		job.Title = *p.Title
	}
	if p.Thumbnail != nil {
		job.Thumbnail = *p.Thumbnail
	}
	if p.ThumbnailStatus != nil {
		job.ThumbnailStatus = *p.ThumbnailStatus
	}
	if p.ThumbnailError != nil {
		job.ThumbnailError = *p.ThumbnailError
	}
	if p.FallbackUsed != nil {
		job.FallbackUsed = *p.FallbackUsed
	}
	if p.FallbackFormat != nil {
		job.FallbackFormat = *p.FallbackFormat
	}
}

func clampProgress(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
