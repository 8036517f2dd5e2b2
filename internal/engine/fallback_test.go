package engine

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"mediafetch/internal/config"
	"mediafetch/internal/model"
	"mediafetch/internal/runstore"
	"mediafetch/internal/ytdlp"
)

func TestSimplifyFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best", "bestvideo+bestaudio/best"},
		{"bv[ext=mp4][vcodec^=avc1]+ba[ext=m4a]/b[ext=mp4]", "bv+ba/b"},
		{"bestvideo[height<=2160]+bestaudio/best", "bestvideo+bestaudio/best"},
		{"best", "best"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := SimplifyFormat(tc.in); got != tc.want {
			t.Fatalf("SimplifyFormat(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestFallbackCandidates(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "qualified video collapses into generic",
			args: []string{"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best", "https://x"},
			want: []string{"bestvideo+bestaudio/best", "best"},
		},
		{
			name: "whatsapp preset",
			args: []string{"-f", "bv[ext=mp4][vcodec^=avc1]+ba[ext=m4a]/b[ext=mp4]", "https://x"},
			want: []string{"bv+ba/b", "bestvideo+bestaudio/best", "best"},
		},
		{
			name: "audio only",
			args: []string{"-f", "bestaudio[ext=m4a]", "-x", "--audio-format", "mp3", "https://x"},
			want: []string{"bestaudio", "best"},
		},
		{
			name: "plain best never repeats itself",
			args: []string{"-f", "best", "https://x"},
			want: []string{"bestvideo+bestaudio/best"},
		},
		{
			name: "long format flag",
			args: []string{"--format", "bv[ext=mp4]+ba[ext=m4a]", "https://x"},
			want: []string{"bv+ba", "bestvideo+bestaudio/best", "best"},
		},
		{
			name: "inline long format flag",
			args: []string{"--format=bestvideo[height<=720]", "https://x"},
			want: []string{"bestvideo", "bestvideo+bestaudio/best", "best"},
		},
		{
			name: "no format flag",
			args: []string{"https://x"},
			want: []string{"bestvideo+bestaudio/best", "best"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FallbackCandidates(tc.args)
			var formats []string
			for _, c := range got {
				formats = append(formats, c.Format)
				if ytdlp.Format(c.Args) != c.Format {
					t.Fatalf("candidate args carry %q, want %q", ytdlp.Format(c.Args), c.Format)
				}
				for _, a := range c.Args {
					if a == "--format" || strings.HasPrefix(a, "--format=") {
						t.Fatalf("original long format flag left in candidate: %v", c.Args)
					}
				}
				if c.Args[len(c.Args)-1] != "https://x" {
					t.Fatalf("URL must stay last: %v", c.Args)
				}
			}
			if !slices.Equal(formats, tc.want) {
				t.Fatalf("got %v want %v", formats, tc.want)
			}
		})
	}
}

func TestFallbackCandidates_StripIncompatibleFlags(t *testing.T) {
	args := []string{
		"-f", "bestvideo[ext=mp4]",
		"--recode-video", "mp4",
		"--postprocessor-args", "VideoConvertor:-c:v libx264",
		"--merge-output-format", "mp4",
		"https://x",
	}
	for _, c := range FallbackCandidates(args) {
		if ytdlp.HasFlag(c.Args, ytdlp.FlagRecodeVideo, ytdlp.FlagPostprocessorArgs) {
			t.Fatalf("candidate %q kept incompatible flags: %v", c.Format, c.Args)
		}
		if !ytdlp.HasFlag(c.Args, ytdlp.FlagMergeOutputFormat) {
			t.Fatalf("candidate %q lost merge output format", c.Format)
		}
	}
}

func TestPlanConversion(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		raw    string
		ok     bool
		ext    string
		codecs []string
	}{
		{"audio only never converts", []string{"-x", "--audio-format", "mp3"}, "/d/a.webm", false, "", nil},
		{"nothing requested", []string{"-f", "best"}, "/d/a.webm", false, "", nil},
		{"merge target differs", []string{"-f", "bv+ba", "--merge-output-format", "mp4"}, "/d/a.webm", true, "mp4", streamCopyArgs},
		{"merge target already met", []string{"-f", "bv+ba", "--merge-output-format", "mp4"}, "/d/a.mp4", false, "", nil},
		{"recode target", []string{"--recode-video", "mkv"}, "/d/a.webm", true, "mkv", streamCopyArgs},
		{"avc1 format", []string{"-f", "bv[vcodec^=avc1]+ba"}, "/d/a.webm", true, "mp4", h264Args},
		{"postprocessor args", []string{"--merge-output-format", "mp4", "--postprocessor-args", "VideoConvertor:-c:v libx265 -crf 28"}, "/d/a.mp4", true, "mp4", []string{"-c:v", "libx265", "-crf", "28"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan, ok := PlanConversion(tc.args, tc.raw)
			if ok != tc.ok {
				t.Fatalf("ok=%v want %v (%+v)", ok, tc.ok, plan)
			}
			if !ok {
				return
			}
			if plan.TargetExt != tc.ext || !slices.Equal(plan.Codec, tc.codecs) {
				t.Fatalf("got %+v want ext=%s codecs=%v", plan, tc.ext, tc.codecs)
			}
		})
	}
}

const formatUnavailableUnlessBest = `if [ "$fmt" != "best" ]; then
  echo "ERROR: [site] abc123: Requested format is not available. Use --list-formats" >&2
  exit 1
fi
printf '[download] Destination: %s\n' "$FAKE_OUT/clip.webm"
printf 'webm' > "$FAKE_OUT/clip.webm"
echo "__MEDIAFETCH_OUTPUT__:$FAKE_OUT/clip.webm"
`

func TestRunDownload_FormatFallbackReachesBest(t *testing.T) {
	env := newTestEnv(t, formatUnavailableUnlessBest, config.Preset{
		ID:   "mp4-strict",
		Name: "MP4 strict",
		Args: []string{"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"},
	})
	job := env.addJob(t, "https://example.com/watch/fallback", "mp4-strict")

	got, err := env.engine.RunDownload(job.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Status != model.StatusDone || !got.FallbackUsed || got.FallbackFormat != "best" {
		t.Fatalf("unexpected result: status=%s used=%v format=%q", got.Status, got.FallbackUsed, got.FallbackFormat)
	}
	if got.StatusDetail != "Adaptive fallback active (best)" {
		t.Fatalf("unexpected detail %q", got.StatusDetail)
	}
	want := []string{
		"bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best|native",
		"bestvideo+bestaudio/best|native",
		"best|native",
	}
	if calls := env.invocations(t); !slices.Equal(calls, want) {
		t.Fatalf("got invocations %v want %v", calls, want)
	}
	if got.OutputPath != filepath.Join(env.out, "clip.webm") {
		t.Fatalf("unexpected output path %q", got.OutputPath)
	}
}

func TestRunDownload_AllFallbacksFail(t *testing.T) {
	env := newTestEnv(t, `echo "ERROR: [site] abc123: Requested format is not available" >&2
exit 1
`)
	job := env.addJob(t, "https://example.com/watch/none", "whatsapp")

	got, err := env.engine.RunDownload(job.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Status != model.StatusFailed || got.FallbackUsed || got.FallbackFormat != "" {
		t.Fatalf("unexpected result: %s used=%v format=%q", got.Status, got.FallbackUsed, got.FallbackFormat)
	}
	if got.StatusDetail != "Failed to resolve a compatible format" {
		t.Fatalf("unexpected detail %q", got.StatusDetail)
	}
	calls := env.invocations(t)
	if len(calls) != 4 {
		t.Fatalf("expected primary plus three candidates, got %v", calls)
	}
	seen := map[string]bool{}
	for _, c := range calls {
		if seen[c] {
			t.Fatalf("duplicate attempt %q in %v", c, calls)
		}
		seen[c] = true
	}
}

func TestRunDownload_FallbackStopsOnOtherFailure(t *testing.T) {
	env := newTestEnv(t, `if [ "$fmt" = "bestvideo+bestaudio/best" ]; then
  echo "ERROR: unable to download video data: HTTP Error 403: Forbidden" >&2
  exit 1
fi
echo "ERROR: Requested format is not available" >&2
exit 1
`)
	job := env.addJob(t, "https://example.com/watch/stop", "mp4-best")

	got, _ := env.engine.RunDownload(job.ID)
	if got.Status != model.StatusFailed || got.StatusDetail != "Download failed (see logs)" {
		t.Fatalf("unexpected result: %s %q", got.Status, got.StatusDetail)
	}
	if calls := env.invocations(t); len(calls) != 2 {
		t.Fatalf("expected the chain to stop after the 403, got %v", calls)
	}
}

func TestRunDownload_FallbackOutputIsConvertedAndSwapped(t *testing.T) {
	env := newTestEnv(t, formatUnavailableUnlessBest, config.Preset{
		ID:   "mp4-merge",
		Name: "MP4 merge",
		Args: []string{"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]", "--merge-output-format", "mp4"},
	})
	env.writeTool(t, "ffmpeg", `out="${@: -1}"
cp "$2" "$out"
`)
	job := env.addJob(t, "https://example.com/watch/convert", "mp4-merge")

	got, err := env.engine.RunDownload(job.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := filepath.Join(env.out, "clip.mp4")
	if got.Status != model.StatusDone || got.OutputPath != want {
		t.Fatalf("unexpected result: %s %q", got.Status, got.OutputPath)
	}
	if runstore.Exists(filepath.Join(env.out, "clip.webm")) {
		t.Fatalf("raw fallback output should be gone")
	}
	if runstore.Exists(filepath.Join(env.out, "clip.converting.mp4")) {
		t.Fatalf("temporary conversion file left behind")
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "webm" {
		t.Fatalf("converted file content: %q %v", data, err)
	}
}

func TestRunDownload_FailedConversionKeepsRawOutput(t *testing.T) {
	env := newTestEnv(t, formatUnavailableUnlessBest, config.Preset{
		ID:   "mp4-merge",
		Name: "MP4 merge",
		Args: []string{"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]", "--merge-output-format", "mp4"},
	})
	env.writeTool(t, "ffmpeg", `out="${@: -1}"
printf 'partial' > "$out"
echo "Conversion failed!" >&2
exit 1
`)
	job := env.addJob(t, "https://example.com/watch/convert-fail", "mp4-merge")

	got, _ := env.engine.RunDownload(job.ID)
	raw := filepath.Join(env.out, "clip.webm")
	if got.Status != model.StatusDone || got.OutputPath != raw {
		t.Fatalf("expected raw output to be kept: %s %q", got.Status, got.OutputPath)
	}
	if !runstore.Exists(raw) {
		t.Fatalf("raw output must survive a failed conversion")
	}
	if runstore.Exists(filepath.Join(env.out, "clip.converting.mp4")) {
		t.Fatalf("temporary conversion file left behind")
	}
	if !strings.HasPrefix(got.StatusDetail, "Adaptive fallback active") {
		t.Fatalf("unexpected detail %q", got.StatusDetail)
	}
}
