package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediafetch/internal/config"
	"mediafetch/internal/logs"
	"mediafetch/internal/model"
	"mediafetch/internal/registry"
)

// fakeYTDLPPrelude answers the metadata calls and records the format and
// downloader of every download call in $FAKE_LOG. Test bodies handle the
// download call itself.
const fakeYTDLPPrelude = `args=("$@")
has() {
  local a
  for a in "${args[@]}"; do
    if [ "$a" = "$1" ]; then return 0; fi
  done
  return 1
}
fmt=""
prev=""
for a in "${args[@]}"; do
  if [ "$prev" = "-f" ]; then fmt="$a"; fi
  prev="$a"
done
if has --skip-download; then
  echo "${FAKE_TITLE:-Fake Title}:::${FAKE_THUMB:-NA}"
  exit 0
fi
if has -g; then
  if [ -n "${FAKE_MEDIA_URL:-}" ]; then
    echo "$FAKE_MEDIA_URL"
    exit 0
  fi
  echo "ERROR: no media url" >&2
  exit 1
fi
mode=native
if has --external-downloader; then mode=ext; fi
echo "$fmt|$mode" >> "$FAKE_LOG"
mkdir -p "$FAKE_OUT"
`

const succeedWithMP4 = `printf '[download] Destination: %s\n' "$FAKE_OUT/clip.mp4"
printf '[download]  50.0%% of 10.00MiB at 1.50MiB/s ETA 00:05\n'
printf 'data' > "$FAKE_OUT/clip.mp4"
printf '[download] 100%% of 10.00MiB\n'
echo "__MEDIAFETCH_OUTPUT__:$FAKE_OUT/clip.mp4"
`

type testEnv struct {
	engine   *Engine
	registry *registry.Registry
	settings config.Settings
	out      string
	calls    string
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	script := "#!/usr/bin/env bash\nset -euo pipefail\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEnv(t *testing.T, downloadBody string, presets ...config.Preset) *testEnv {
	t.Helper()
	root := t.TempDir()
	s := config.DefaultSettings()
	s.DataDir = filepath.Join(root, "data")
	s.DownloadDir = filepath.Join(root, "downloads")
	cfg := config.New(s, config.NewCatalog(presets))
	writeScript(t, cfg.Settings().BinDir(), "yt-dlp", fakeYTDLPPrelude+downloadBody)

	env := &testEnv{
		registry: registry.New(),
		settings: cfg.Settings(),
		out:      filepath.Join(root, "out"),
		calls:    filepath.Join(root, "calls.log"),
	}
	t.Setenv("FAKE_OUT", env.out)
	t.Setenv("FAKE_LOG", env.calls)
	t.Setenv("FAKE_TITLE", "")
	t.Setenv("FAKE_THUMB", "")
	t.Setenv("FAKE_MEDIA_URL", "")

	eng, err := New(Options{Registry: env.registry, Settings: cfg, Journal: logs.Discard()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	env.engine = eng
	t.Cleanup(eng.Wait)
	return env
}

func (env *testEnv) writeTool(t *testing.T, name, body string) {
	t.Helper()
	writeScript(t, env.settings.BinDir(), name, body)
}

func (env *testEnv) addJob(t *testing.T, url, presetID string) model.Job {
	t.Helper()
	job, err := env.registry.Add(url, presetID, model.Overrides{})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	return job
}

// invocations returns "format|downloader" for every download call.
func (env *testEnv) invocations(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(env.calls)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatal(err)
	}
	return strings.Fields(strings.TrimSpace(string(data)))
}
