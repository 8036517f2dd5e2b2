package doctor

import (
	"os"
	"path/filepath"
	"testing"

	"mediafetch/internal/config"
	"mediafetch/internal/ytdlp"
)

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	tmp := t.TempDir()
	s := config.DefaultSettings()
	s.DataDir = filepath.Join(tmp, "data")
	s.DownloadDir = filepath.Join(tmp, "downloads")
	return s
}

func writeTool(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/usr/bin/env bash\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func findCheck(t *testing.T, res Result, name string) Check {
	t.Helper()
	for _, c := range res.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found in %+v", name, res.Checks)
	return Check{}
}

func TestRun_MissingAria2cIsOptional(t *testing.T) {
	s := testSettings(t)
	writeTool(t, s.BinDir(), "yt-dlp")
	writeTool(t, s.BinDir(), "ffmpeg")
	t.Setenv("PATH", t.TempDir())

	res := Run(Options{Settings: s, Tools: ytdlp.NewResolver(s.BinDir())})
	if !res.OK {
		t.Fatalf("expected ok result, got %+v", res.Checks)
	}
	aria := findCheck(t, res, "dependency:aria2c")
	if aria.OK || !aria.Optional {
		t.Fatalf("expected optional failed aria2c check, got %+v", aria)
	}
	yt := findCheck(t, res, "dependency:yt-dlp")
	if !yt.OK || yt.Message == "" {
		t.Fatalf("expected local yt-dlp to be found, got %+v", yt)
	}
	if _, err := os.Stat(s.DownloadDir); err != nil {
		t.Fatalf("expected download dir to be created: %v", err)
	}
}

func TestRun_MissingYTDLPFails(t *testing.T) {
	s := testSettings(t)
	writeTool(t, s.BinDir(), "ffmpeg")
	t.Setenv("PATH", t.TempDir())

	res := Run(Options{Settings: s})
	if res.OK {
		t.Fatal("expected failure when yt-dlp is missing")
	}
	if c := findCheck(t, res, "dependency:yt-dlp"); c.OK {
		t.Fatalf("expected yt-dlp check to fail, got %+v", c)
	}
}

func TestInit_CreatesConfigOnce(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("MEDIAFETCH_DATA_DIR", filepath.Join(tmp, "data"))
	t.Setenv("MEDIAFETCH_DOWNLOAD_DIR", filepath.Join(tmp, "downloads"))
	path := filepath.Join(tmp, "cfg", "config.yaml")

	first, err := Init(path)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !first.CreatedConfig {
		t.Fatal("expected config to be created")
	}
	if first.DataDir != filepath.Join(tmp, "data") {
		t.Fatalf("expected env data dir, got %q", first.DataDir)
	}
	second, err := Init(path)
	if err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if second.CreatedConfig {
		t.Fatal("expected existing config to be kept")
	}
}
