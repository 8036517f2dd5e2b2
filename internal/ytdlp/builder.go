package ytdlp

import (
	"fmt"
	"path/filepath"
	"strings"

	"mediafetch/internal/parser"
)

type CollisionPolicy string

const (
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionRename    CollisionPolicy = "rename"
	CollisionSkip      CollisionPolicy = "skip"
)

func NormalizeCollisionPolicy(raw string) CollisionPolicy {
	switch CollisionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case CollisionOverwrite:
		return CollisionOverwrite
	case CollisionSkip:
		return CollisionSkip
	default:
		return CollisionRename
	}
}

const aria2cArgs = "aria2c:-x 16 -s 16 -k 1M --summary-interval=0"

// BuildOptions carries everything needed to build the primary invocation.
type BuildOptions struct {
	JobID            string
	URL              string
	PresetArgs       []string
	Format           string
	DownloadDir      string
	FilenameTemplate string
	Collision        CollisionPolicy
	MaxSpeedKB       int
	FFmpeg           ToolResolution
	Aria2c           ToolResolution
}

// BuildArgs returns the yt-dlp argument vector and human-readable notes
// describing each decision, meant for the job log.
func BuildArgs(opts BuildOptions) ([]string, []string, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, nil, fmt.Errorf("job URL is required")
	}
	notes := []string{}
	args := append([]string{}, opts.PresetArgs...)

	if f := strings.TrimSpace(opts.Format); f != "" {
		var note string
		args, note = applyFormatOverride(args, f)
		notes = append(notes, note)
	}

	if opts.FFmpeg.IsLocal {
		args = append(args, "--ffmpeg-location", opts.FFmpeg.Dir())
	}
	if opts.Aria2c.IsLocal {
		notes = append(notes, "Using local aria2c: "+opts.Aria2c.Path)
		args = append(args, FlagExternalDownloader, opts.Aria2c.Path, FlagExternalDownloaderArgs, aria2cArgs)
	}

	template := strings.TrimSpace(opts.FilenameTemplate)
	if template == "" {
		template = DefaultFilenameTemplate(opts.Collision, IsAudioOnly(args), opts.JobID)
	}
	if dir := strings.TrimSpace(opts.DownloadDir); dir != "" {
		args = append(args, "-o", filepath.Join(dir, template))
	} else {
		args = append(args, "-o", template)
	}

	switch opts.Collision {
	case CollisionOverwrite:
		args = append(args, "--force-overwrites")
		notes = append(notes, "File collision policy: overwrite")
	case CollisionSkip:
		args = append(args, "--no-overwrites")
		notes = append(notes, "File collision policy: skip existing files")
	default:
		args = append(args, "--no-overwrites")
		notes = append(notes, "File collision policy: rename (unique filename per job)")
	}

	args = append(args, "--ignore-config", "--newline", "--no-colors", "--no-playlist")
	args = append(args, "--print", "after_move:"+parser.OutputMarker+":%(filepath)s")
	if opts.MaxSpeedKB > 0 {
		args = append(args, "--limit-rate", fmt.Sprintf("%dK", opts.MaxSpeedKB))
	}
	args = append(args, opts.URL)
	return args, notes, nil
}

func DefaultFilenameTemplate(policy CollisionPolicy, audioOnly bool, jobID string) string {
	if policy != CollisionRename {
		return "%(title)s.%(ext)s"
	}
	kind := "video"
	if audioOnly {
		kind = "audio"
	}
	return fmt.Sprintf("%%(title)s [%s] [%s].%%(ext)s", kind, jobID)
}

var formatOverrides = map[string]string{
	"best": "bestvideo+bestaudio/best",
	"mp4":  "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
	"webm": "bestvideo[ext=webm]+bestaudio[ext=webm]/best[ext=webm]/best",
}

func applyFormatOverride(args []string, format string) ([]string, string) {
	key := strings.ToLower(format)
	if expr, ok := formatOverrides[key]; ok {
		return SetFormat(args, expr), "Format override applied: " + expr
	}
	switch key {
	case "mp3", "m4a", "flac", "wav", "alac":
		args = RemoveSwitch(args, FlagExtractAudio)
		args = RemoveFlags(args, FlagFormat, FlagFormatLong, FlagAudioFormat, "--audio-quality")
		args = append(args, FlagFormat, "bestaudio", FlagExtractAudio, FlagAudioFormat, key)
		if key == "mp3" {
			args = append(args, "--audio-quality", "0")
		}
		return args, "Format override applied: bestaudio -> " + key
	case "mkv":
		return SetFlag(args, FlagMergeOutputFormat, "mkv"), "Format override applied: merge-output-format=mkv"
	default:
		return SetFormat(args, format), "Format override applied: " + format
	}
}
