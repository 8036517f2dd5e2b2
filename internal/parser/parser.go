// Package parser turns single lines of yt-dlp output into partial job updates.
// It keeps no state between calls.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"mediafetch/internal/model"
)

// OutputMarker is printed by yt-dlp once the final file is in place.
const OutputMarker = "__MEDIAFETCH_OUTPUT__"

var (
	rePct    = regexp.MustCompile(`\[download\]\s+([0-9]+(?:\.[0-9]+)?)%`)
	reSpeed  = regexp.MustCompile(`\bat\s+~?\s*([0-9.]+\s*[A-Za-z]+/s)`)
	reETA    = regexp.MustCompile(`\bETA\s+([0-9]+:[0-9]+(?::[0-9]+)?)`)
	reMarker = regexp.MustCompile(regexp.QuoteMeta(OutputMarker) + `:(.+)$`)

	reDestination = regexp.MustCompile(`^\[download\]\s+Destination:\s*(.+)$`)
	reAlready     = regexp.MustCompile(`^\[download\]\s+(.+?)\s+has already been downloaded(?:\s+and merged)?\s*$`)
	reMerger      = regexp.MustCompile(`^\[Merger\]\s+Merging formats into\s+(.+)$`)
	reTaggedDest  = regexp.MustCompile(`^\[[^\]]+\]\s+Destination:\s*(.+)$`)
)

// Update is the merged result of every pattern a line satisfied.
type Update struct {
	Progress    float64
	HasProgress bool
	Speed       string
	ETA         string

	// OutputPath is set by a completion marker (Confirmed) or by a recognized
	// destination announcement.
	OutputPath string
	Confirmed  bool
	Title      string

	Status model.Status
	Phase  model.Phase
}

// IsZero reports whether no pattern matched.
func (u Update) IsZero() bool {
	return u == Update{}
}

// HasTransfer reports whether the update carries throttled transfer fields.
func (u Update) HasTransfer() bool {
	return u.HasProgress || u.Speed != "" || u.ETA != ""
}

type matcher func(line string, u *Update)

// Order only matters for paths: the marker runs before destination heuristics.
var matchers = []matcher{
	matchProgress,
	matchSpeed,
	matchETA,
	matchMarker,
	matchDestination,
	matchPhase,
}

// Parse returns the update for one line, or false if nothing matched.
func Parse(line string) (Update, bool) {
	l := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(l) == "" {
		return Update{}, false
	}
	var u Update
	for _, m := range matchers {
		m(l, &u)
	}
	if u.IsZero() {
		return Update{}, false
	}
	return u, true
}

func matchProgress(line string, u *Update) {
	m := rePct.FindStringSubmatch(line)
	if len(m) < 2 {
		return
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return
	}
	u.Progress = v
	u.HasProgress = true
}

func matchSpeed(line string, u *Update) {
	if m := reSpeed.FindStringSubmatch(line); len(m) > 1 {
		u.Speed = strings.ReplaceAll(m[1], " ", "")
	}
}

func matchETA(line string, u *Update) {
	if m := reETA.FindStringSubmatch(line); len(m) > 1 {
		u.ETA = m[1]
	}
}

func matchMarker(line string, u *Update) {
	m := reMarker.FindStringSubmatch(line)
	if len(m) < 2 {
		return
	}
	path := CleanPath(m[1])
	if path == "" {
		return
	}
	u.OutputPath = path
	u.Confirmed = true
	u.Title = TitleFromPath(path)
}

func matchDestination(line string, u *Update) {
	if u.Confirmed {
		return
	}
	clean := strings.TrimSpace(StripANSI(line))
	for _, re := range []*regexp.Regexp{reDestination, reAlready, reMerger, reTaggedDest} {
		m := re.FindStringSubmatch(clean)
		if len(m) < 2 {
			continue
		}
		path := CleanPath(m[1])
		if path == "" {
			continue
		}
		u.OutputPath = path
		u.Title = TitleFromPath(path)
		return
	}
}

func matchPhase(line string, u *Update) {
	l := strings.TrimSpace(StripANSI(line))
	switch {
	case strings.HasPrefix(l, "[Merger]"):
		u.Status = model.StatusPostProcessing
		u.Phase = model.PhaseMergingStreams
	case strings.HasPrefix(l, "[ffmpeg]"), strings.HasPrefix(l, "[VideoConvertor]"), strings.HasPrefix(l, "[ExtractAudio]"):
		u.Status = model.StatusPostProcessing
		u.Phase = model.PhaseConverting
	case strings.HasPrefix(l, "[download]"):
		u.Phase = model.PhaseDownloadingStreams
	}
}
