package parser

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var reDriveAfterSlash = regexp.MustCompile(`^/[A-Za-z]:[/\\]`)

func StripANSI(s string) string {
	return ansi.Strip(s)
}

// CleanPath normalizes a path announced by yt-dlp. It strips escape
// sequences, surrounding quotes, carriage returns and a file: URI prefix.
// Percent-decoding is only applied to file: URIs.
func CleanPath(raw string) string {
	p := StripANSI(raw)
	p = strings.ReplaceAll(p, "\r", "")
	p = strings.ReplaceAll(p, "\n", "")
	p = strings.TrimSpace(p)
	p = trimQuotes(p)
	p = stripFileURI(p)
	return strings.TrimSpace(p)
}

func trimQuotes(s string) string {
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return strings.Trim(s, `"'`)
}

func stripFileURI(p string) string {
	lower := strings.ToLower(p)
	if !strings.HasPrefix(lower, "file:") {
		return p
	}
	rest := p[len("file:"):]
	switch {
	case strings.HasPrefix(rest, "///"):
		rest = rest[2:]
	case strings.HasPrefix(strings.ToLower(rest), "//localhost/"):
		rest = rest[len("//localhost"):]
	case strings.HasPrefix(rest, "//"):
		rest = rest[1:]
	}
	if reDriveAfterSlash.MatchString(rest) {
		rest = rest[1:]
	}
	if decoded, err := url.PathUnescape(rest); err == nil {
		rest = decoded
	}
	return rest
}

// TitleFromPath returns the final segment of a slash or backslash path.
func TitleFromPath(p string) string {
	idx := strings.LastIndexAny(p, `/\`)
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}
