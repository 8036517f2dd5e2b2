package engine

import (
	"fmt"
	"strings"
	"time"

	"mediafetch/internal/model"
	"mediafetch/internal/parser"
	"mediafetch/internal/ytdlp"
)

const (
	detailPreparing         = "Preparing download"
	detailDownloading       = "Downloading media streams"
	detailMerging           = "Merging audio and video"
	detailConverting        = "Converting to target format"
	detailNativeRetry       = "Retrying with native downloader"
	detailFormatUnavailable = "Requested format unavailable, trying adaptive fallback"
	detailFinalizing        = "Finalizing download"
	detailCompleted         = "Completed"
	detailNoFormat          = "Failed to resolve a compatible format"
	detailFailed            = "Download failed (see logs)"
)

func phaseDetail(p model.Phase) string {
	switch p {
	case model.PhaseDownloadingStreams:
		return detailDownloading
	case model.PhaseMergingStreams:
		return detailMerging
	case model.PhaseConverting:
		return detailConverting
	default:
		return ""
	}
}

// execute runs one job to a terminal status. The caller holds the job lock.
func (e *Engine) execute(job model.Job) model.Job {
	id := job.ID
	settings := e.settings.Settings()
	preset := e.settings.Preset(job.PresetID)
	tools := e.resolver()
	ytdlpTool := tools.Resolve(ytdlp.ToolYTDLP)
	ffmpeg := tools.Resolve(ytdlp.ToolFFmpeg)
	aria2c := tools.Resolve(ytdlp.ToolAria2c)

	e.merge(id, model.Patch{
		Status:          model.Ptr(model.StatusDownloading),
		Phase:           model.Ptr(model.PhaseResolvingFormats),
		StatusDetail:    model.Ptr(detailPreparing),
		Progress:        model.Ptr(0.0),
		Speed:           model.Ptr(""),
		ETA:             model.Ptr(""),
		ThumbnailStatus: model.Ptr(model.ThumbnailPending),
		ThumbnailError:  model.Ptr(""),
		FallbackUsed:    model.Ptr(false),
		FallbackFormat:  model.Ptr(""),
	})
	e.journal.Info(id, fmt.Sprintf("Starting download of %s with preset %q", job.URL, preset.ID))
	if ffmpeg.IsLocal {
		e.journal.Info(id, "Using local ffmpeg: "+ffmpeg.Path)
	}
	if !aria2c.IsLocal {
		e.journal.Info(id, "aria2c not found in local bin, using yt-dlp native downloader")
	}

	downloadDir := job.Overrides.DownloadDir
	if strings.TrimSpace(downloadDir) == "" {
		downloadDir = settings.DownloadDir
	}
	args, notes, err := ytdlp.BuildArgs(ytdlp.BuildOptions{
		JobID:            id,
		URL:              job.URL,
		PresetArgs:       preset.Args,
		Format:           job.Overrides.Format,
		DownloadDir:      downloadDir,
		FilenameTemplate: job.Overrides.FilenameTemplate,
		Collision:        settings.Collision(),
		MaxSpeedKB:       settings.MaxSpeedKB,
		FFmpeg:           ffmpeg,
		Aria2c:           aria2c,
	})
	if err != nil {
		e.journal.Error(id, "Could not build yt-dlp arguments: "+err.Error())
		return e.fail(id, detailFailed)
	}
	for _, n := range notes {
		e.journal.Info(id, n)
	}

	out := e.download(id, ytdlpTool, args)
	res := out.result
	if !res.OK() {
		e.journal.Error(id, fmt.Sprintf("Download failed with exit code %d", res.ExitCode))
		if res.FormatUnavailable {
			return e.fail(id, detailNoFormat)
		}
		return e.fail(id, detailFailed)
	}

	finalPath := res.OutputPath
	if out.fallbackFormat != "" && finalPath != "" {
		if plan, ok := PlanConversion(args, finalPath); ok {
			finalPath = e.convert(id, ffmpeg, finalPath, plan)
		}
	}
	return e.succeed(id, finalPath, out.fallbackFormat)
}

func (e *Engine) succeed(id, outputPath, fallbackFormat string) model.Job {
	p := model.Patch{
		Status:       model.Ptr(model.StatusPostProcessing),
		Phase:        model.Ptr(model.PhaseGeneratingThumbnail),
		StatusDetail: model.Ptr(detailFinalizing),
		Progress:     model.Ptr(100.0),
		Speed:        model.Ptr(""),
		ETA:          model.Ptr(""),
	}
	if outputPath != "" {
		p.OutputPath = model.Ptr(outputPath)
		if e.job(id).Title == "" {
			p.Title = model.Ptr(parser.TitleFromPath(outputPath))
		}
	} else {
		e.journal.Warn(id, "Download finished without a reported output path")
	}
	e.merge(id, p)

	detail := detailCompleted
	if fallbackFormat != "" {
		detail = fallbackDetail(fallbackFormat)
	}
	e.merge(id, model.Patch{
		Status:       model.Ptr(model.StatusDone),
		StatusDetail: model.Ptr(detail),
	})
	e.journal.Info(id, "Download completed: "+outputPath)
	done := e.job(id)
	e.launchMetadata(id)
	return done
}

func (e *Engine) fail(id, detail string) model.Job {
	e.merge(id, model.Patch{
		Status:       model.Ptr(model.StatusFailed),
		StatusDetail: model.Ptr(detail),
		Speed:        model.Ptr(""),
		ETA:          model.Ptr(""),
	})
	return e.job(id)
}

func fallbackDetail(format string) string {
	return fmt.Sprintf("Adaptive fallback active (%s)", format)
}

// lineState is the cross-line state of one attempt. The parser itself is
// stateless.
type lineState struct {
	lastTransfer time.Time
	phase        model.Phase
}

// attempt runs yt-dlp once with args, streaming updates into the registry.
func (e *Engine) attempt(id string, tool ytdlp.ToolResolution, args []string) ytdlp.Result {
	inv := ytdlp.Invocation{Tool: tool, Args: args, Env: ytdlp.UTF8Env()}
	e.journal.Info(id, "Executing command:\n"+inv.CommandLine())

	state := &lineState{}
	res := ytdlp.Run(inv, func(l ytdlp.Line) {
		e.handleLine(id, l, state)
	})
	if res.StartErr != nil {
		e.journal.Error(id, "Failed to start yt-dlp: "+res.StartErr.Error())
	}
	if res.DecodeWarnings > 0 {
		e.journal.Warn(id, fmt.Sprintf("Output contained %d undecodable line(s); treated as recoverable", res.DecodeWarnings))
	}
	return res
}

func (e *Engine) handleLine(id string, l ytdlp.Line, state *lineState) {
	if l.DecodeWarning != "" {
		e.journal.Warn(id, "Output decode warning: "+l.DecodeWarning)
	}
	text := strings.TrimSpace(l.Text)
	if text == "" {
		return
	}
	e.logLine(id, l.Stream, text)

	var p model.Patch
	if l.Class.FormatUnavailable {
		e.journal.Warn(id, "Requested format is not available, preparing fallback")
		p.Phase = model.Ptr(model.PhaseResolvingFormats)
		p.StatusDetail = model.Ptr(detailFormatUnavailable)
		state.phase = model.PhaseResolvingFormats
	}
	if l.Class.DownloaderError {
		e.journal.Error(id, "Downloader specific error detected")
	}

	if l.Parsed {
		u := l.Update
		if u.Status != "" {
			p.Status = model.Ptr(u.Status)
		}
		if u.Phase != "" && u.Phase != state.phase {
			state.phase = u.Phase
			p.Phase = model.Ptr(u.Phase)
			if d := phaseDetail(u.Phase); d != "" {
				p.StatusDetail = model.Ptr(d)
			}
		}
		if u.Title != "" {
			p.Title = model.Ptr(u.Title)
		}
		if u.Confirmed && u.OutputPath != "" {
			p.OutputPath = model.Ptr(u.OutputPath)
		}
		if u.HasTransfer() {
			now := time.Now()
			if now.Sub(state.lastTransfer) >= e.progressInterval {
				state.lastTransfer = now
				if u.HasProgress {
					p.Progress = model.Ptr(u.Progress)
				}
				if u.Speed != "" {
					p.Speed = model.Ptr(u.Speed)
				}
				if u.ETA != "" {
					p.ETA = model.Ptr(u.ETA)
				}
			}
		}
	}
	if !p.IsZero() {
		e.merge(id, p)
	}
}

func (e *Engine) logLine(id string, stream ytdlp.OutputStream, text string) {
	if stream == ytdlp.StreamStdout {
		e.journal.Debug(id, text)
		return
	}
	switch {
	case ytdlp.IsWarningLine(text):
		e.journal.Warn(id, "STDERR: "+text)
	case ytdlp.IsErrorLine(text):
		e.journal.Error(id, "STDERR: "+text)
	default:
		e.journal.Debug(id, "STDERR: "+text)
	}
}
