package engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"mediafetch/internal/model"
	"mediafetch/internal/runstore"
	"mediafetch/internal/ytdlp"
)

var (
	h264Args       = []string{"-c:v", "libx264", "-pix_fmt", "yuv420p", "-c:a", "aac", "-movflags", "+faststart"}
	streamCopyArgs = []string{"-c:v", "copy", "-c:a", "copy"}
)

// ConversionPlan describes the ffmpeg pass that brings fallback output back
// to the container and codecs the original request asked for.
type ConversionPlan struct {
	TargetExt string
	Codec     []string
}

// PlanConversion inspects the originally requested args. It reports false
// when the raw output can be kept as is.
func PlanConversion(original []string, rawPath string) (ConversionPlan, bool) {
	if ytdlp.IsAudioOnly(original) {
		return ConversionPlan{}, false
	}

	var codec []string
	if pp, ok := ytdlp.FlagValue(original, ytdlp.FlagPostprocessorArgs); ok {
		if _, after, found := strings.Cut(pp, "VideoConvertor:"); found {
			codec = strings.Fields(after)
		}
	}
	if len(codec) == 0 && strings.Contains(ytdlp.Format(original), "[vcodec^=avc1]") {
		codec = h264Args
	}

	target, _ := ytdlp.FlagValue(original, ytdlp.FlagMergeOutputFormat)
	if strings.TrimSpace(target) == "" {
		target, _ = ytdlp.FlagValue(original, ytdlp.FlagRecodeVideo)
	}
	target = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(target), "."))
	rawExt := strings.ToLower(strings.TrimPrefix(filepath.Ext(rawPath), "."))

	switch {
	case target == "" && len(codec) == 0:
		return ConversionPlan{}, false
	case target == "":
		target = "mp4"
	}
	if len(codec) == 0 {
		if rawExt == target {
			return ConversionPlan{}, false
		}
		codec = streamCopyArgs
	}
	return ConversionPlan{TargetExt: target, Codec: append([]string(nil), codec...)}, true
}

// convert runs the plan and swaps the result over the final name with a
// single rename. It returns the path of the artifact the job should expose:
// the converted file on success, the raw download otherwise.
func (e *Engine) convert(id string, ffmpeg ytdlp.ToolResolution, rawPath string, plan ConversionPlan) string {
	base := strings.TrimSuffix(rawPath, filepath.Ext(rawPath))
	tmpPath := base + ".converting." + plan.TargetExt
	finalPath := base + "." + plan.TargetExt

	e.merge(id, model.Patch{
		Status:       model.Ptr(model.StatusPostProcessing),
		Phase:        model.Ptr(model.PhaseConverting),
		StatusDetail: model.Ptr(detailConverting),
		Progress:     model.Ptr(99.0),
	})
	if !ffmpeg.Found() {
		e.journal.Error(id, "ffmpeg not found, keeping unconverted fallback output")
		return rawPath
	}

	args := append([]string{"-i", rawPath}, plan.Codec...)
	args = append(args, "-y", tmpPath)
	inv := ytdlp.Invocation{Tool: ffmpeg, Args: args}
	e.journal.Info(id, "Running separate FFmpeg conversion:\n"+inv.CommandLine())
	res := ytdlp.Run(inv, func(l ytdlp.Line) {
		if t := strings.TrimSpace(l.Text); t != "" {
			e.journal.Debug(id, "ffmpeg: "+t)
		}
	})
	if !res.OK() || !runstore.Exists(tmpPath) {
		e.journal.Error(id, fmt.Sprintf("FFmpeg conversion failed (exit %d):\n%s", res.ExitCode, res.StderrTail))
		_ = runstore.RemoveIfExists(tmpPath)
		return rawPath
	}

	if err := runstore.ReplaceFile(tmpPath, finalPath, rawPath); err != nil {
		if runstore.Exists(tmpPath) {
			e.journal.Error(id, "File swap failed, keeping unconverted output: "+err.Error())
			_ = runstore.RemoveIfExists(tmpPath)
			return rawPath
		}
		e.journal.Warn(id, "Converted file is in place but the raw download could not be removed: "+err.Error())
		return finalPath
	}
	e.journal.Info(id, "FFmpeg conversion succeeded, replaced original file")
	return finalPath
}
