package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mediafetch/internal/api"
	"mediafetch/internal/config"
	"mediafetch/internal/doctor"
)

func newInitCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "create the config file and run environment checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := doctor.Init(root.configPath)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(root.stdout, res)
			}
			if res.CreatedConfig {
				fmt.Fprintf(root.stdout, "created config: %s\n", res.ConfigPath)
			} else {
				fmt.Fprintf(root.stdout, "config exists: %s\n", res.ConfigPath)
			}
			fmt.Fprintf(root.stdout, "data dir: %s\n", res.DataDir)
			fmt.Fprintln(root.stdout, renderDoctor(res.Doctor))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print result as JSON")
	return cmd
}

func newDoctorCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "check tools and directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			res := doctor.Run(doctor.Options{Settings: cfg.Settings(), ConfigPath: cfg.Path})
			if asJSON {
				if err := printJSON(root.stdout, res); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(root.stdout, renderDoctor(res))
			}
			if !res.OK {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print checks as JSON")
	return cmd
}

func newPresetsCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "list built-in and user presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			presets := cfg.Presets().List()
			if asJSON {
				return printJSON(root.stdout, presets)
			}
			fmt.Fprintln(root.stdout, renderPresetTable(presets))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print presets as JSON")
	return cmd
}

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the job queue over HTTP",
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
			settings := a.cfg.Settings()
			listen := strings.TrimSpace(addr)
			if listen == "" {
				listen = settings.ListenAddr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.New(api.Options{
				Engine:         a.engine,
				Registry:       a.registry,
				Journal:        a.journal,
				Presets:        a.cfg.Presets(),
				History:        a.db,
				MaxConcurrency: settings.MaxConcurrency,
				Logger:         a.logger,
			})
			return srv.Serve(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
