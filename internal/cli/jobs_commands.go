package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mediafetch/internal/engine"
	"mediafetch/internal/model"
)

func newJobsCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "list persisted jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := root.open()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()
			jobs := a.registry.List()
			if asJSON {
				return printJSON(root.stdout, jobs)
			}
			fmt.Fprintln(root.stdout, renderJobTable(jobs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print jobs as JSON")
	return cmd
}

func newLogsCommand(root *rootOptions) *cobra.Command {
	var (
		asJSON bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "show the log history of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := root.open()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()
			job, err := a.lookup(args[0])
			if err != nil {
				return err
			}
			entries, err := a.db.Logs(job.ID, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(root.stdout, entries)
			}
			for _, e := range entries {
				fmt.Fprintln(root.stdout, renderLogEntry(e))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	cmd.Flags().IntVar(&limit, "limit", 200, "newest entries to show (0 for all)")
	return cmd
}

func newRetryCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "run a failed or queued job again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := root.open()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()
			job, err := a.lookup(args[0])
			if err != nil {
				return err
			}
			if job.Status == model.StatusFailed {
				a.journal.Info(job.ID, "Retry requested")
			}
			if _, err := a.engine.RunDownload(job.ID); err != nil {
				return err
			}
			a.engine.Wait()
			final := latestJobs(a.registry, []model.Job{job})
			if asJSON {
				if err := printJSON(root.stdout, final[0]); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(root.stdout, renderJobTable(final))
			}
			if final[0].Status == model.StatusFailed {
				return fmt.Errorf("job %s failed: %s", shortID(job.ID), final[0].StatusDetail)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print final job state as JSON")
	return cmd
}

func newRemoveCommand(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "rm <job-id>",
		Aliases: []string{"remove"},
		Short:   "remove a job and its thumbnails",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := root.open()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()
			job, err := a.lookup(args[0])
			if err != nil {
				return err
			}
			if job.Status.IsActive() {
				return fmt.Errorf("%w: %s", engine.ErrJobRunning, job.ID)
			}
			if !yes {
				ok, err := promptConfirm(root.stdin, root.stdout, fmt.Sprintf("remove %q? [y/N]: ", job.DisplayTitle()))
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("removal cancelled")
				}
			}
			a.engine.Remove(job.ID)
			fmt.Fprintf(root.stdout, "removed %s\n", job.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip confirmation")
	return cmd
}

// lookup accepts a full job id or an unambiguous prefix as printed by the
// jobs table.
func (a *app) lookup(ref string) (model.Job, error) {
	if job, ok := a.registry.Get(ref); ok {
		return job, nil
	}
	var match []model.Job
	for _, j := range a.registry.List() {
		if len(ref) >= 4 && len(j.ID) >= len(ref) && j.ID[:len(ref)] == ref {
			match = append(match, j)
		}
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
		return model.Job{}, fmt.Errorf("%w: %s", engine.ErrJobNotFound, ref)
	default:
		return model.Job{}, fmt.Errorf("job id prefix %q is ambiguous", ref)
	}
}
