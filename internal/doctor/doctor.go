// Package doctor runs environment preflight checks and workspace setup.
package doctor

import (
	"os"
	"path/filepath"
	"strings"

	"mediafetch/internal/config"
	"mediafetch/internal/runstore"
	"mediafetch/internal/ytdlp"
)

type Options struct {
	Settings   config.Settings
	ConfigPath string
	Tools      *ytdlp.Resolver
}

type Result struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks"`
}

// Check is one preflight line. Optional checks never fail the result.
type Check struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message"`
}

type InitResult struct {
	ConfigPath    string `json:"config_path"`
	DataDir       string `json:"data_dir"`
	CreatedConfig bool   `json:"created_config"`
	Doctor        Result `json:"doctor"`
}

func Run(opts Options) Result {
	tools := opts.Tools
	if tools == nil {
		tools = ytdlp.NewResolver(opts.Settings.BinDir())
	}
	report := tools.DependencyStatus()

	checks := make([]Check, 0, 7)
	checks = append(checks, toolCheck(report.YTDLP, false))
	checks = append(checks, toolCheck(report.FFmpeg, false))
	checks = append(checks, toolCheck(report.Aria2c, true))

	for _, d := range []struct{ name, path string }{
		{"directory:data", opts.Settings.DataDir},
		{"directory:downloads", opts.Settings.DownloadDir},
		{"directory:thumbnails", opts.Settings.ThumbnailDir()},
	} {
		ok, msg := ensureWritableDir(d.path)
		checks = append(checks, Check{Name: d.name, OK: ok, Message: msg})
	}
	if p := strings.TrimSpace(opts.ConfigPath); p != "" {
		ok, msg := ensureWritableDir(filepath.Dir(p))
		checks = append(checks, Check{Name: "directory:config", OK: ok, Message: msg})
	}

	ok := true
	for _, c := range checks {
		if !c.OK && !c.Optional {
			ok = false
			break
		}
	}
	return Result{OK: ok, Checks: checks}
}

// Init writes a default config file when none exists and runs the checks.
func Init(configPath string) (InitResult, error) {
	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	created := false
	if !runstore.Exists(configPath) {
		if err := config.Save(configPath, config.DefaultSettings()); err != nil {
			return InitResult{}, err
		}
		created = true
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return InitResult{}, err
	}
	settings := cfg.Settings()
	return InitResult{
		ConfigPath:    configPath,
		DataDir:       settings.DataDir,
		CreatedConfig: created,
		Doctor:        Run(Options{Settings: settings, ConfigPath: configPath}),
	}, nil
}

func toolCheck(t ytdlp.ToolResolution, optional bool) Check {
	c := Check{Name: "dependency:" + t.Name, OK: t.Found(), Optional: optional}
	switch {
	case t.Found() && t.IsLocal:
		c.Message = t.Name + " found in local bin at " + t.Path
	case t.Found():
		c.Message = t.Name + " found at " + t.Path
	case optional:
		c.Message = t.Name + " not found (optional)"
	default:
		c.Message = t.Name + " not found in local bin or on PATH"
	}
	return c
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "mediafetch-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
