package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"mediafetch/internal/model"
	"mediafetch/internal/runstore"
	"mediafetch/internal/ytdlp"
)

const (
	thumbnailUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	reasonNoThumbnail   = "No thumbnail available"
	reasonMediaURL      = "Failed to fetch media URL"
	reasonNoMediaURL    = "No media URL found for thumbnail generation"
	reasonFrameFailed   = "Could not generate thumbnail"
	reasonThumbDirError = "Could not prepare thumbnail directory"
)

var (
	localThumbnailExts = []string{"jpg", "webp", "png"}
	removableThumbExts = []string{"jpg", "webp", "png", "jpeg"}

	// Hosts where frame extraction is never attempted.
	frameExtractionSkipHosts = map[string]bool{
		"youtube.com":       true,
		"www.youtube.com":   true,
		"m.youtube.com":     true,
		"music.youtube.com": true,
		"youtu.be":          true,
	}

	frameFilters = []string{
		"blackframe=amount=98:threshold=32,select='lt(lavfi.blackframe.pblack,98)',scale=320:-1",
		"thumbnail,scale=320:-1",
	}
)

func (e *Engine) launchMetadata(id string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.FetchMetadata(context.Background(), id); err != nil {
			e.journal.Warn(id, "Metadata pipeline skipped: "+err.Error())
			return
		}
		if e.settings.Settings().AutoClearFinished && e.job(id).Status == model.StatusDone {
			e.journal.Info(id, "Auto-clearing finished job")
			e.Remove(id)
		}
	}()
}

// FetchMetadata resolves the title and a thumbnail for a job. Every phase is
// best-effort and the job's status is never touched; the outcome lands in
// the thumbnail fields. The error is non-nil only for unknown jobs.
func (e *Engine) FetchMetadata(ctx context.Context, jobID string) error {
	job, ok := e.registry.Get(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	id := job.ID
	e.merge(id, model.Patch{
		ThumbnailStatus: model.Ptr(model.ThumbnailGenerating),
		ThumbnailError:  model.Ptr(""),
	})

	settings := e.settings.Settings()
	thumbDir := settings.ThumbnailDir()
	if err := runstore.Mkdir(thumbDir); err != nil {
		e.journal.Error(id, "[meta] "+err.Error())
		e.thumbnailFailed(id, reasonThumbDirError)
		return nil
	}
	tools := e.resolver()
	ytdlpTool := tools.Resolve(ytdlp.ToolYTDLP)
	ffmpeg := tools.Resolve(ytdlp.ToolFFmpeg)

	// Phase 1: title, thumbnail URL and an embedded thumbnail written locally.
	title, thumbURL := e.extractMetadata(id, ytdlpTool, ffmpeg, job.URL, filepath.Join(thumbDir, id))
	if title != "" && title != "NA" {
		e.merge(id, model.Patch{Title: model.Ptr(title)})
	}
	if local, ok := findLocalThumbnail(thumbDir, id); ok {
		e.journal.Info(id, "[meta] Using embedded thumbnail "+local)
		e.thumbnailReady(id, local)
		return nil
	}

	// Phase 2: direct download of the reported thumbnail URL.
	if isHTTPURL(thumbURL) {
		local, err := e.downloadThumbnail(ctx, settings.ThumbnailTimeout, thumbDir, id, thumbURL, job.URL)
		if err == nil {
			e.journal.Info(id, "[meta] Thumbnail downloaded to "+local)
			e.thumbnailReady(id, local)
			return nil
		}
		e.journal.Warn(id, "[meta] Thumbnail download failed, using remote URL: "+err.Error())
		e.thumbnailReady(id, thumbURL)
		return nil
	}

	// Phase 3: grab a frame from the media itself.
	if skipFrameExtraction(job.URL) {
		e.thumbnailFailed(id, reasonNoThumbnail)
		return nil
	}
	mediaURL, err := e.resolveMediaURL(id, ytdlpTool, job.URL)
	if err != nil {
		e.journal.Warn(id, "[meta] "+err.Error())
		e.thumbnailFailed(id, reasonMediaURL)
		return nil
	}
	if mediaURL == "" {
		e.thumbnailFailed(id, reasonNoMediaURL)
		return nil
	}
	if !ffmpeg.Found() {
		e.journal.Warn(id, "[thumb] ffmpeg not found")
		e.thumbnailFailed(id, reasonFrameFailed)
		return nil
	}
	out := filepath.Join(thumbDir, id+".jpg")
	for i, filter := range frameFilters {
		if i > 0 {
			e.journal.Warn(id, "[thumb] Primary extraction failed, trying simple fallback")
		}
		inv := ytdlp.Invocation{Tool: ffmpeg, Args: []string{"-y", "-i", mediaURL, "-frames:v", "1", "-vf", filter, out}}
		e.journal.Info(id, "[thumb] "+inv.CommandLine())
		res := ytdlp.Run(inv, nil)
		if res.OK() && runstore.Exists(out) {
			e.thumbnailReady(id, out)
			return nil
		}
		e.journal.Info(id, fmt.Sprintf("[thumb] ffmpeg exit code %d", res.ExitCode))
	}
	e.thumbnailFailed(id, reasonFrameFailed)
	return nil
}

func (e *Engine) extractMetadata(id string, tool, ffmpeg ytdlp.ToolResolution, sourceURL, outBase string) (string, string) {
	args := []string{
		"--print", "%(title)s:::%(thumbnail)s",
		"--write-thumbnail",
		"--convert-thumbnails", "jpg",
		"--skip-download",
		"--flat-playlist",
		"--no-playlist",
		"--referer", sourceURL,
		"-o", outBase,
	}
	if ffmpeg.IsLocal {
		args = append(args, "--ffmpeg-location", ffmpeg.Dir())
	}
	args = append(args, sourceURL)

	first := ""
	inv := ytdlp.Invocation{Tool: tool, Args: args, Env: ytdlp.UTF8Env()}
	e.journal.Info(id, "[meta] "+inv.CommandLine())
	res := ytdlp.Run(inv, func(l ytdlp.Line) {
		if l.Stream == ytdlp.StreamStdout && first == "" {
			first = strings.TrimSpace(l.Text)
		}
	})
	if !res.OK() {
		e.journal.Warn(id, fmt.Sprintf("[meta] Phase 1 failed (exit %d), continuing to fallbacks", res.ExitCode))
	}
	title, thumb, _ := strings.Cut(first, ":::")
	return strings.TrimSpace(title), strings.TrimSpace(thumb)
}

func (e *Engine) resolveMediaURL(id string, tool ytdlp.ToolResolution, sourceURL string) (string, error) {
	inv := ytdlp.Invocation{
		Tool: tool,
		Args: []string{"-f", "best", "-g", "--no-playlist", "--referer", sourceURL, sourceURL},
		Env:  ytdlp.UTF8Env(),
	}
	e.journal.Info(id, "[thumb] "+inv.CommandLine())
	mediaURL := ""
	res := ytdlp.Run(inv, func(l ytdlp.Line) {
		if l.Stream == ytdlp.StreamStdout && mediaURL == "" {
			mediaURL = strings.TrimSpace(l.Text)
		}
	})
	if !res.OK() {
		return "", fmt.Errorf("media URL lookup exited with code %d", res.ExitCode)
	}
	return mediaURL, nil
}

// downloadThumbnail fetches thumbURL into the thumbnail directory within
// timeout and returns the local path.
func (e *Engine) downloadThumbnail(ctx context.Context, timeout time.Duration, thumbDir, id, thumbURL, referer string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, thumbURL, nil)
	if err != nil {
		return "", fmt.Errorf("build thumbnail request: %w", err)
	}
	req.Header.Set("Referer", referer)
	req.Header.Set("User-Agent", thumbnailUserAgent)

	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch thumbnail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch thumbnail: HTTP %d", resp.StatusCode)
	}

	dest := filepath.Join(thumbDir, id+"."+thumbnailExt(thumbURL))
	if err := runstore.WriteFrom(dest, resp.Body); err != nil {
		return "", err
	}
	return dest, nil
}

func (e *Engine) thumbnailReady(id, thumb string) {
	e.merge(id, model.Patch{
		Thumbnail:       model.Ptr(thumb),
		ThumbnailStatus: model.Ptr(model.ThumbnailReady),
		ThumbnailError:  model.Ptr(""),
	})
}

func (e *Engine) thumbnailFailed(id, reason string) {
	e.journal.Warn(id, "[meta] Thumbnail unavailable: "+reason)
	e.merge(id, model.Patch{
		ThumbnailStatus: model.Ptr(model.ThumbnailFailed),
		ThumbnailError:  model.Ptr(reason),
	})
}

func (e *Engine) removeThumbnails(id string) {
	dir := e.settings.Settings().ThumbnailDir()
	for _, ext := range removableThumbExts {
		_ = runstore.RemoveIfExists(filepath.Join(dir, id+"."+ext))
	}
}

func findLocalThumbnail(dir, id string) (string, bool) {
	for _, ext := range localThumbnailExts {
		p := filepath.Join(dir, id+"."+ext)
		if runstore.Exists(p) {
			return p, true
		}
	}
	return "", false
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func skipFrameExtraction(sourceURL string) bool {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return false
	}
	return frameExtractionSkipHosts[strings.ToLower(u.Hostname())]
}

// thumbnailExt picks the file extension from the URL path.
func thumbnailExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "jpg"
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	switch ext {
	case "jpeg":
		return "jpg"
	case "jpg", "png", "webp":
		return ext
	default:
		return "jpg"
	}
}
