package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"mediafetch/internal/config"
)

func Run(args []string) error {
	cmd := newRootCommand(os.Stdin, os.Stdout, os.Stderr)
	cmd.SetArgs(args)
	return cmd.Execute()
}

type rootOptions struct {
	configPath string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (o *rootOptions) open() (*app, error) {
	return openApp(o.configPath, o.stderr)
}

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdin: stdin, stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "mediafetch",
		Short: "download queue around yt-dlp and ffmpeg",
		Long: `mediafetch downloads media with yt-dlp, recovering from unavailable
formats with adaptive fallbacks and converting the result with ffmpeg.

Quick Start:
  mediafetch init
  mediafetch get <url>
  mediafetch jobs
  mediafetch serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "config file path")

	root.AddCommand(
		newInitCommand(opts),
		newDoctorCommand(opts),
		newGetCommand(opts),
		newJobsCommand(opts),
		newLogsCommand(opts),
		newRetryCommand(opts),
		newRemoveCommand(opts),
		newPresetsCommand(opts),
		newSettingsCommand(opts),
		newServeCommand(opts),
	)
	return root
}
