package ytdlp

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	ToolYTDLP  = "yt-dlp"
	ToolFFmpeg = "ffmpeg"
	ToolAria2c = "aria2c"
)

// ToolResolution identifies the executable used for one invocation.
type ToolResolution struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Path    string `json:"path,omitempty"`
	IsLocal bool   `json:"is_local"`
}

func (t ToolResolution) Found() bool {
	return strings.TrimSpace(t.Path) != ""
}

// Dir is the directory holding the executable, used for --ffmpeg-location.
func (t ToolResolution) Dir() string {
	if !t.Found() {
		return ""
	}
	return filepath.Dir(t.Path)
}

// Resolver looks tools up in a local bin directory first, then on PATH.
// Nothing is cached so upgraded binaries are picked up on the next call.
type Resolver struct {
	BinDir string
}

func NewResolver(binDir string) *Resolver {
	return &Resolver{BinDir: strings.TrimSpace(binDir)}
}

func (r *Resolver) Resolve(name string) ToolResolution {
	res := ToolResolution{Name: name, Command: name}
	if r != nil && r.BinDir != "" {
		local := filepath.Join(r.BinDir, executableName(name))
		if info, err := os.Stat(local); err == nil && !info.IsDir() {
			res.Command = local
			res.Path = local
			res.IsLocal = true
			return res
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		res.Command = path
		res.Path = path
	}
	return res
}

func executableName(name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}

type DependencyReport struct {
	YTDLP  ToolResolution `json:"yt_dlp"`
	FFmpeg ToolResolution `json:"ffmpeg"`
	Aria2c ToolResolution `json:"aria2c"`
}

func (r *Resolver) DependencyStatus() DependencyReport {
	return DependencyReport{
		YTDLP:  r.Resolve(ToolYTDLP),
		FFmpeg: r.Resolve(ToolFFmpeg),
		Aria2c: r.Resolve(ToolAria2c),
	}
}

func (r *Resolver) CheckDependencies() error {
	report := r.DependencyStatus()
	if !report.YTDLPFound() {
		return fmt.Errorf("missing dependency: yt-dlp is not installed in %s or on PATH", r.BinDir)
	}
	return nil
}

func (d DependencyReport) YTDLPFound() bool {
	return d.YTDLP.Found()
}
