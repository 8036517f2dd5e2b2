package engine

import (
	"fmt"
	"regexp"
	"strings"

	"mediafetch/internal/model"
	"mediafetch/internal/ytdlp"
)

var reFormatQualifier = regexp.MustCompile(`\[[^\]]*\]`)

// Candidate is one alternate invocation tried after the requested format
// turned out to be unavailable.
type Candidate struct {
	Format string
	Args   []string
}

// FallbackCandidates returns the ordered, de-duplicated fallback chain for
// args: the format with qualifiers stripped (when that changes it), a generic
// expression for the requested media kind, then "best". Candidate args drop
// postprocessor and recode flags, which generic formats cannot satisfy.
func FallbackCandidates(args []string) []Candidate {
	original := ytdlp.Format(args)
	seen := map[string]bool{original: true}
	var formats []string
	add := func(f string) {
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		formats = append(formats, f)
	}

	add(SimplifyFormat(original))
	if ytdlp.IsAudioOnly(args) {
		add("bestaudio")
	} else {
		add("bestvideo+bestaudio/best")
	}
	add("best")

	out := make([]Candidate, 0, len(formats))
	for _, f := range formats {
		next := ytdlp.WithFormat(args, f)
		next = ytdlp.RemoveFlags(next, ytdlp.FlagPostprocessorArgs, ytdlp.FlagRecodeVideo)
		out = append(out, Candidate{Format: f, Args: next})
	}
	return out
}

// SimplifyFormat removes bracket qualifiers and collapses duplicate
// alternatives: "bv[ext=mp4]+ba/bv+ba/b" becomes "bv+ba/b".
func SimplifyFormat(format string) string {
	stripped := reFormatQualifier.ReplaceAllString(format, "")
	var alts []string
	seen := map[string]bool{}
	for _, alt := range strings.Split(stripped, "/") {
		alt = strings.TrimSpace(alt)
		if alt == "" || seen[alt] {
			continue
		}
		seen[alt] = true
		alts = append(alts, alt)
	}
	return strings.Join(alts, "/")
}

type downloadOutcome struct {
	result         ytdlp.Result
	args           []string
	fallbackFormat string
}

// download runs the primary attempt and, on classified failures, the native
// downloader retry and the format fallback chain.
func (e *Engine) download(id string, tool ytdlp.ToolResolution, args []string) downloadOutcome {
	active := args
	res := e.attempt(id, tool, active)

	if !res.OK() && res.DownloaderError && !res.FormatUnavailable && ytdlp.UsesExternalDownloader(active) {
		e.journal.Warn(id, "External downloader failed, retrying with native downloader")
		e.merge(id, model.Patch{
			Phase:        model.Ptr(model.PhaseDownloadingStreams),
			StatusDetail: model.Ptr(detailNativeRetry),
		})
		active = ytdlp.StripExternalDownloader(active)
		res = e.attempt(id, tool, active)
	}

	out := downloadOutcome{result: res, args: active}
	if res.OK() || !res.FormatUnavailable {
		return out
	}

	candidates := FallbackCandidates(active)
	for i, c := range candidates {
		e.merge(id, model.Patch{
			Phase:        model.Ptr(model.PhaseResolvingFormats),
			StatusDetail: model.Ptr(fmt.Sprintf("Trying fallback format %d/%d: %s", i+1, len(candidates), c.Format)),
		})
		e.journal.Info(id, "Retrying with fallback format: "+c.Format)
		res = e.attempt(id, tool, c.Args)
		out.result = res
		if res.OK() {
			out.args = c.Args
			out.fallbackFormat = c.Format
			e.journal.Info(id, "Fallback succeeded with format: "+c.Format)
			e.merge(id, model.Patch{
				FallbackUsed:   model.Ptr(true),
				FallbackFormat: model.Ptr(c.Format),
				StatusDetail:   model.Ptr(fallbackDetail(c.Format)),
			})
			return out
		}
		if !res.FormatUnavailable {
			e.journal.Error(id, "Fallback format "+c.Format+" failed for another reason, giving up")
			return out
		}
	}
	e.journal.Error(id, "All fallback formats failed")
	return out
}
