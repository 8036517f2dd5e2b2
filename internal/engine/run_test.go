package engine

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"mediafetch/internal/model"
	"mediafetch/internal/parser"
	"mediafetch/internal/runstore"
	"mediafetch/internal/ytdlp"
)

func TestRunDownload_SuccessUsesCompletionMarker(t *testing.T) {
	env := newTestEnv(t, succeedWithMP4+"exit 0\n")
	t.Setenv("FAKE_TITLE", "Real Title")
	job := env.addJob(t, "https://example.com/watch/1", "")

	got, err := env.engine.RunDownload(job.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Status != model.StatusDone || got.StatusDetail != "Completed" {
		t.Fatalf("unexpected final state: %s / %q", got.Status, got.StatusDetail)
	}
	want := filepath.Join(env.out, "clip.mp4")
	if got.OutputPath != want || got.Progress != 100 {
		t.Fatalf("unexpected output: %q progress=%v", got.OutputPath, got.Progress)
	}
	if got.FallbackUsed {
		t.Fatalf("no fallback expected")
	}

	env.engine.Wait()
	final, _ := env.registry.Get(job.ID)
	if final.Title != "Real Title" {
		t.Fatalf("metadata title not applied: %q", final.Title)
	}
	if final.Status != model.StatusDone {
		t.Fatalf("metadata must not change status, got %s", final.Status)
	}
	if final.ThumbnailStatus != model.ThumbnailFailed || final.ThumbnailError != reasonMediaURL {
		t.Fatalf("unexpected thumbnail outcome: %s %q", final.ThumbnailStatus, final.ThumbnailError)
	}
	if calls := env.invocations(t); len(calls) != 1 || calls[0] != "bestvideo+bestaudio/best|native" {
		t.Fatalf("unexpected invocations: %v", calls)
	}
}

func TestRunDownload_GenericFailureSkipsFallbacks(t *testing.T) {
	env := newTestEnv(t, `echo "ERROR: [site] abc: HTTP Error 403: Forbidden" >&2
exit 2
`)
	job := env.addJob(t, "https://example.com/watch/2", "")

	got, err := env.engine.RunDownload(job.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Status != model.StatusFailed || got.StatusDetail != "Download failed (see logs)" {
		t.Fatalf("unexpected final state: %s / %q", got.Status, got.StatusDetail)
	}
	if calls := env.invocations(t); len(calls) != 1 {
		t.Fatalf("expected a single attempt, got %v", calls)
	}
}

func TestRunDownload_NativeRetryAfterAria2cError(t *testing.T) {
	env := newTestEnv(t, `if [ "$mode" = "ext" ]; then
  echo "ERROR: aria2c exited with code 1" >&2
  exit 1
fi
`+succeedWithMP4)
	env.writeTool(t, "aria2c", "exit 0\n")
	job := env.addJob(t, "https://example.com/watch/3", "")

	got, err := env.engine.RunDownload(job.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Status != model.StatusDone {
		t.Fatalf("expected Done, got %s (%q)", got.Status, got.StatusDetail)
	}
	want := []string{"bestvideo+bestaudio/best|ext", "bestvideo+bestaudio/best|native"}
	if calls := env.invocations(t); !slices.Equal(calls, want) {
		t.Fatalf("got invocations %v want %v", calls, want)
	}
}

func TestStartDownload_RejectsRunningAndFinishedJobs(t *testing.T) {
	env := newTestEnv(t, succeedWithMP4)
	job := env.addJob(t, "https://example.com/watch/4", "")

	lock, err := runstore.AcquireJobLock(env.settings.LockDir(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.engine.StartDownload(job.ID); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("expected ErrJobRunning, got %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}

	if _, err := env.engine.RunDownload(job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	err = env.engine.StartDownload(job.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for a Done job, got %v", err)
	}
	var terr *model.TransitionError
	if !errors.As(err, &terr) || terr.From != model.StatusDone {
		t.Fatalf("expected wrapped TransitionError, got %v", err)
	}
	if err := env.engine.StartDownload("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRetry_FailedJobRunsAgain(t *testing.T) {
	env := newTestEnv(t, `if [ ! -f "$FAKE_OUT/.second" ]; then
  touch "$FAKE_OUT/.second"
  echo "ERROR: connection reset" >&2
  exit 1
fi
`+succeedWithMP4)
	job := env.addJob(t, "https://example.com/watch/5", "")

	got, err := env.engine.RunDownload(job.ID)
	if err != nil || got.Status != model.StatusFailed {
		t.Fatalf("first run: %s %v", got.Status, err)
	}
	if err := env.engine.Retry(job.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	env.engine.Wait()
	final, _ := env.registry.Get(job.ID)
	if final.Status != model.StatusDone {
		t.Fatalf("expected Done after retry, got %s", final.Status)
	}
}

func TestRemove_DeletesJobAndThumbnails(t *testing.T) {
	env := newTestEnv(t, succeedWithMP4)
	job := env.addJob(t, "https://example.com/watch/6", "")
	dir := env.settings.ThumbnailDir()
	for _, ext := range []string{"jpg", "webp", "jpeg"} {
		if err := runstore.WriteBytes(filepath.Join(dir, job.ID+"."+ext), []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	other := filepath.Join(dir, "someone-else.jpg")
	if err := runstore.WriteBytes(other, []byte("x")); err != nil {
		t.Fatal(err)
	}

	if !env.engine.Remove(job.ID) {
		t.Fatalf("expected removal")
	}
	if _, ok := env.registry.Get(job.ID); ok {
		t.Fatalf("job still registered")
	}
	for _, ext := range []string{"jpg", "webp", "jpeg"} {
		if runstore.Exists(filepath.Join(dir, job.ID+"."+ext)) {
			t.Fatalf("thumbnail .%s not removed", ext)
		}
	}
	if !runstore.Exists(other) {
		t.Fatalf("unrelated thumbnail removed")
	}
}

func TestHandleLine_ThrottlesTransferUpdates(t *testing.T) {
	env := newTestEnv(t, "")
	env.engine.progressInterval = time.Hour
	job := env.addJob(t, "https://example.com/watch/7", "")
	if _, err := env.registry.Merge(job.ID, model.Patch{Status: model.Ptr(model.StatusDownloading)}); err != nil {
		t.Fatal(err)
	}

	state := &lineState{}
	feed := func(stream ytdlp.OutputStream, text string) {
		u, ok := parser.Parse(text)
		line := ytdlp.Line{Stream: stream, Text: text, Update: u, Parsed: ok}
		if stream == ytdlp.StreamStderr {
			line.Class = ytdlp.Classify(text)
		}
		env.engine.handleLine(job.ID, line, state)
	}

	feed(ytdlp.StreamStdout, "[download]  10.0% of 5.00MiB at 2.00MiB/s ETA 00:02")
	feed(ytdlp.StreamStdout, "[download]  60.0% of 5.00MiB at 3.00MiB/s ETA 00:01")
	got, _ := env.registry.Get(job.ID)
	if got.Progress != 10 || got.Speed != "2.00MiB/s" {
		t.Fatalf("second transfer update should be throttled: progress=%v speed=%q", got.Progress, got.Speed)
	}
	if got.Phase != model.PhaseDownloadingStreams {
		t.Fatalf("unexpected phase %q", got.Phase)
	}

	feed(ytdlp.StreamStdout, `[Merger] Merging formats into "/tmp/out/clip.mp4"`)
	feed(ytdlp.StreamStdout, parser.OutputMarker+":/tmp/out/clip.mp4")
	got, _ = env.registry.Get(job.ID)
	if got.Status != model.StatusPostProcessing || got.Phase != model.PhaseMergingStreams {
		t.Fatalf("merge line not applied immediately: %s / %s", got.Status, got.Phase)
	}
	if got.OutputPath != "/tmp/out/clip.mp4" {
		t.Fatalf("marker path not applied: %q", got.OutputPath)
	}

	feed(ytdlp.StreamStderr, "ERROR: [site] abc123: Requested format is not available")
	got, _ = env.registry.Get(job.ID)
	if got.Phase != model.PhaseResolvingFormats {
		t.Fatalf("format unavailable should move phase to resolving, got %q", got.Phase)
	}
}
