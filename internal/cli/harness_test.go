package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediafetch/internal/model"
)

// fakeYTDLP answers metadata queries, counts download calls in $FAKE_LOG and
// fails the first $FAKE_FAILURES of them with a generic error.
const fakeYTDLP = `#!/usr/bin/env bash
set -euo pipefail
for a in "$@"; do
  if [ "$a" = "--skip-download" ]; then
    echo "CLI Title:::NA"
    exit 0
  fi
  if [ "$a" = "-g" ]; then
    echo "ERROR: no media url" >&2
    exit 1
  fi
done
echo "call" >> "$FAKE_LOG"
n=$(wc -l < "$FAKE_LOG")
if [ "$n" -le "${FAKE_FAILURES:-0}" ]; then
  echo "ERROR: unable to download webpage: connection reset" >&2
  exit 1
fi
mkdir -p "$FAKE_OUT"
printf 'data' > "$FAKE_OUT/clip-$n.mp4"
echo "__MEDIAFETCH_OUTPUT__:$FAKE_OUT/clip-$n.mp4"
`

type cliEnv struct {
	root   string
	config string
	calls  string
}

func newCLIEnv(t *testing.T, configYAML string) *cliEnv {
	t.Helper()
	root := t.TempDir()
	env := &cliEnv{
		root:   root,
		config: filepath.Join(root, "config.yaml"),
		calls:  filepath.Join(root, "calls.log"),
	}
	if configYAML != "" {
		if err := os.WriteFile(env.config, []byte(configYAML), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	binDir := filepath.Join(root, "data", "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "yt-dlp"), []byte(fakeYTDLP), 0o755); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MEDIAFETCH_DATA_DIR", filepath.Join(root, "data"))
	t.Setenv("MEDIAFETCH_DOWNLOAD_DIR", filepath.Join(root, "downloads"))
	t.Setenv("MEDIAFETCH_REDIS_ADDR", "")
	t.Setenv("MEDIAFETCH_LOG_LEVEL", "error")
	t.Setenv("MEDIAFETCH_MAX_CONCURRENCY", "")
	t.Setenv("FAKE_OUT", filepath.Join(root, "out"))
	t.Setenv("FAKE_LOG", env.calls)
	t.Setenv("FAKE_FAILURES", "0")
	return env
}

func (env *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(strings.NewReader(stdin), &stdout, &stderr)
	cmd.SetArgs(append([]string{"--config", env.config}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func (env *cliEnv) downloadCalls(t *testing.T) int {
	t.Helper()
	data, err := os.ReadFile(env.calls)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatal(err)
	}
	return len(strings.Fields(string(data)))
}

func decodeJobs(t *testing.T, out string) []model.Job {
	t.Helper()
	var jobs []model.Job
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("decode jobs JSON: %v\n%s", err, out)
	}
	return jobs
}
