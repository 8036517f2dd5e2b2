package ytdlp

import (
	"regexp"
	"strings"
)

var reWarningWord = regexp.MustCompile(`(?i)\bwarning\b`)

// Classification flags escalated from a single stderr line.
type Classification struct {
	FormatUnavailable bool
	DownloaderError   bool
	Warning           bool
}

func (c Classification) Any() bool {
	return c.FormatUnavailable || c.DownloaderError
}

// Classify inspects one stderr line. It is case-insensitive and has no state.
func Classify(line string) Classification {
	text := strings.ToLower(strings.TrimSpace(line))
	if text == "" {
		return Classification{}
	}
	c := Classification{Warning: IsWarningLine(text)}
	if strings.Contains(text, "requested format is not available") {
		c.FormatUnavailable = true
	}
	if !c.Warning && (strings.Contains(text, "aria2c") || strings.Contains(text, "downloader")) {
		c.DownloaderError = true
	}
	return c
}

func IsWarningLine(line string) bool {
	text := strings.ToLower(strings.TrimSpace(line))
	return strings.HasPrefix(text, "warning:") || reWarningWord.MatchString(text)
}

// IsErrorLine matches yt-dlp's "ERROR:" prefix.
func IsErrorLine(line string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "ERROR")
}
