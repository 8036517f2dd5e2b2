package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mediafetch/internal/model"
)

type getOptions struct {
	preset   string
	format   string
	dir      string
	template string
	tui      bool
	json     bool
}

func newGetCommand(root *rootOptions) *cobra.Command {
	var o getOptions
	cmd := &cobra.Command{
		Use:   "get <url>...",
		Short: "queue and download one or more URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(root, o, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.preset, "preset", "", "preset id (default from config)")
	f.StringVar(&o.format, "format", "", "format override: best, mp4 or a raw yt-dlp format selector")
	f.StringVar(&o.dir, "dir", "", "destination directory override")
	f.StringVar(&o.template, "template", "", "yt-dlp output filename template override")
	f.BoolVar(&o.tui, "tui", false, "show a live progress view")
	f.BoolVar(&o.json, "json", false, "print final job state as JSON")
	return cmd
}

func runGet(root *rootOptions, o getOptions, urls []string) (err error) {
	if o.tui && o.json {
		return errors.New("--tui and --json cannot be combined")
	}
	if o.tui && !stdinIsTTY() {
		return errors.New("--tui requires an interactive terminal (TTY)")
	}

	a, err := root.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()

	settings := a.cfg.Settings()
	presetID := strings.TrimSpace(o.preset)
	if presetID == "" {
		presetID = settings.DefaultPreset
	} else if _, ok := a.cfg.Presets().Get(presetID); !ok {
		return fmt.Errorf("unknown preset %q", presetID)
	}
	overrides := model.Overrides{
		Format:           strings.TrimSpace(o.format),
		DownloadDir:      strings.TrimSpace(o.dir),
		FilenameTemplate: strings.TrimSpace(o.template),
	}

	ids := make([]string, 0, len(urls))
	for _, u := range urls {
		job, err := a.registry.Add(u, presetID, overrides)
		if err != nil {
			return err
		}
		ids = append(ids, job.ID)
	}

	batch := batchRunner{
		engine:   a.engine,
		registry: a.registry,
		journal:  a.journal,
		workers:  settings.MaxConcurrency,
	}
	var results []model.Job
	if o.tui {
		a.logger.SetOutput(io.Discard)
		results, err = runWatch(a.registry, ids, func() []model.Job { return batch.Run(ids) })
		a.logger.SetOutput(root.stderr)
		if err != nil {
			return err
		}
	} else {
		results = batch.Run(ids)
	}

	// Metadata pipelines run after each job is Done; let them settle so the
	// printed state carries titles and thumbnails.
	a.engine.Wait()
	final := latestJobs(a.registry, results)

	if o.json {
		if err := printJSON(root.stdout, final); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(root.stdout, renderJobTable(final))
	}

	failed := 0
	for _, j := range final {
		if j.Status == model.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(final))
	}
	return nil
}
