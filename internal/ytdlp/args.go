package ytdlp

import (
	"slices"
	"strings"
)

const (
	FlagFormat                 = "-f"
	FlagFormatLong             = "--format"
	FlagExtractAudio           = "-x"
	FlagAudioFormat            = "--audio-format"
	FlagMergeOutputFormat      = "--merge-output-format"
	FlagRecodeVideo            = "--recode-video"
	FlagPostprocessorArgs      = "--postprocessor-args"
	FlagExternalDownloader     = "--external-downloader"
	FlagExternalDownloaderArgs = "--external-downloader-args"
	FlagDownloader             = "--downloader"
	FlagDownloaderArgs         = "--downloader-args"
)

// FlagValue returns the value following the first occurrence of flag,
// accepting both "--flag value" and "--flag=value".
func FlagValue(args []string, flag string) (string, bool) {
	for i, a := range args {
		if a == flag {
			if i+1 < len(args) {
				return args[i+1], true
			}
			return "", true
		}
		if strings.HasPrefix(flag, "--") && strings.HasPrefix(a, flag+"=") {
			return strings.TrimPrefix(a, flag+"="), true
		}
	}
	return "", false
}

func HasFlag(args []string, flags ...string) bool {
	for _, f := range flags {
		if _, ok := FlagValue(args, f); ok {
			return true
		}
	}
	return false
}

// RemoveFlags drops every occurrence of the given flags together with their values.
func RemoveFlags(args []string, flags ...string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if slices.Contains(flags, a) {
			i++
			continue
		}
		if matchesInlineFlag(a, flags) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func matchesInlineFlag(arg string, flags []string) bool {
	for _, f := range flags {
		if strings.HasPrefix(f, "--") && strings.HasPrefix(arg, f+"=") {
			return true
		}
	}
	return false
}

// SetFlag drops any existing value of flag and appends the new pair.
func SetFlag(args []string, flag, value string) []string {
	out := RemoveFlags(args, flag)
	return append(out, flag, value)
}

// RemoveSwitch drops a flag that takes no value.
func RemoveSwitch(args []string, flag string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a != flag {
			out = append(out, a)
		}
	}
	return out
}

// formatIndex is the position of the last -f, --format or --format=value
// argument, or -1. yt-dlp honors the last one.
func formatIndex(args []string) int {
	idx := -1
	for i, a := range args {
		if a == FlagFormat || a == FlagFormatLong || strings.HasPrefix(a, FlagFormatLong+"=") {
			idx = i
		}
	}
	return idx
}

// Format is the effective format expression, empty when none was requested.
func Format(args []string) string {
	i := formatIndex(args)
	switch {
	case i < 0:
		return ""
	case strings.HasPrefix(args[i], FlagFormatLong+"="):
		return strings.TrimPrefix(args[i], FlagFormatLong+"=")
	case i+1 < len(args):
		return args[i+1]
	default:
		return ""
	}
}

// SetFormat drops every format flag, short or long, and appends "-f format".
func SetFormat(args []string, format string) []string {
	out := RemoveFlags(args, FlagFormat, FlagFormatLong)
	return append(out, FlagFormat, format)
}

// IsAudioOnly reports whether the arguments ask for audio without video.
func IsAudioOnly(args []string) bool {
	if HasFlag(args, FlagExtractAudio, FlagAudioFormat) {
		return true
	}
	f := Format(args)
	return strings.HasPrefix(f, "bestaudio") && !strings.Contains(f, "+")
}

// UsesExternalDownloader reports whether an accelerator downloader is configured.
func UsesExternalDownloader(args []string) bool {
	return HasFlag(args, FlagExternalDownloader, FlagDownloader)
}

// StripExternalDownloader returns args for yt-dlp's native downloader.
func StripExternalDownloader(args []string) []string {
	return RemoveFlags(args,
		FlagExternalDownloader,
		FlagExternalDownloaderArgs,
		FlagDownloader,
		FlagDownloaderArgs,
	)
}

// WithFormat replaces the effective format in place, keeping positional
// arguments such as the URL last. Every format flag collapses into a single
// "-f format" at the position of the last one; without any the pair is
// prepended.
func WithFormat(args []string, format string) []string {
	last := formatIndex(args)
	if last < 0 {
		return append([]string{FlagFormat, format}, args...)
	}
	out := make([]string, 0, len(args)+1)
	for i := 0; i < len(args); i++ {
		a := args[i]
		inline := strings.HasPrefix(a, FlagFormatLong+"=")
		if a != FlagFormat && a != FlagFormatLong && !inline {
			out = append(out, a)
			continue
		}
		if i == last {
			out = append(out, FlagFormat, format)
		}
		if !inline {
			i++
		}
	}
	return out
}
