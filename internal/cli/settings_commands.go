package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediafetch/internal/config"
	"mediafetch/internal/ytdlp"
)

func newSettingsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "show or update settings",
	}
	cmd.AddCommand(newSettingsShowCommand(root), newSettingsSetCommand(root))
	return cmd
}

func newSettingsShowCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "print effective settings (file plus environment)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			s := cfg.Settings()
			if asJSON {
				return printJSON(root.stdout, map[string]any{
					"config_path": cfg.Path,
					"settings":    s,
				})
			}
			printSettings(root, cfg.Path, s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON output")
	return cmd
}

type settingsUpdate struct {
	downloadDir      string
	maxConcurrency   int
	maxSpeedKB       int
	collision        string
	autoClear        bool
	defaultPreset    string
	redisAddr        string
	listenAddr       string
	logLevel         string
	thumbnailTimeout time.Duration
}

func newSettingsSetCommand(root *rootOptions) *cobra.Command {
	var (
		u      settingsUpdate
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "update values in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.ReadFile(root.configPath)
			if err != nil {
				return err
			}
			if err := applySettingsUpdate(cmd, &s, u); err != nil {
				return err
			}
			if err := config.Save(root.configPath, s); err != nil {
				return err
			}
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(root.stdout, map[string]any{
					"config_path": cfg.Path,
					"settings":    cfg.Settings(),
				})
			}
			fmt.Fprintf(root.stdout, "updated settings in %s\n", cfg.Path)
			printSettings(root, cfg.Path, cfg.Settings())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&u.downloadDir, "download-dir", "", "default destination directory")
	f.IntVar(&u.maxConcurrency, "max-concurrency", 0, "parallel downloads (>=1)")
	f.IntVar(&u.maxSpeedKB, "max-speed-kb", 0, "rate limit in KiB/s (0 disables)")
	f.StringVar(&u.collision, "file-collision", "", "overwrite|rename|skip")
	f.BoolVar(&u.autoClear, "auto-clear-finished", false, "remove finished jobs from the queue")
	f.StringVar(&u.defaultPreset, "default-preset", "", "preset used when none is given")
	f.StringVar(&u.redisAddr, "redis-addr", "", "redis address for job snapshots (empty disables)")
	f.StringVar(&u.listenAddr, "listen-addr", "", "HTTP listen address")
	f.StringVar(&u.logLevel, "log-level", "", "debug|info|warn|error")
	f.DurationVar(&u.thumbnailTimeout, "thumbnail-timeout", 0, "remote thumbnail download timeout")
	f.BoolVar(&asJSON, "json", false, "print JSON output")
	return cmd
}

func applySettingsUpdate(cmd *cobra.Command, s *config.Settings, u settingsUpdate) error {
	changed := cmd.Flags().Changed
	if changed("download-dir") {
		s.DownloadDir = strings.TrimSpace(u.downloadDir)
	}
	if changed("max-concurrency") {
		if u.maxConcurrency < 1 {
			return errors.New("--max-concurrency must be >= 1")
		}
		s.MaxConcurrency = u.maxConcurrency
	}
	if changed("max-speed-kb") {
		if u.maxSpeedKB < 0 {
			return errors.New("--max-speed-kb must be >= 0")
		}
		s.MaxSpeedKB = u.maxSpeedKB
	}
	if changed("file-collision") {
		policy := ytdlp.CollisionPolicy(strings.ToLower(strings.TrimSpace(u.collision)))
		switch policy {
		case ytdlp.CollisionOverwrite, ytdlp.CollisionRename, ytdlp.CollisionSkip:
			s.FileCollision = string(policy)
		default:
			return errors.New("--file-collision must be overwrite, rename or skip")
		}
	}
	if changed("auto-clear-finished") {
		s.AutoClearFinished = u.autoClear
	}
	if changed("default-preset") {
		s.DefaultPreset = strings.TrimSpace(u.defaultPreset)
	}
	if changed("redis-addr") {
		s.RedisAddr = strings.TrimSpace(u.redisAddr)
	}
	if changed("listen-addr") {
		s.ListenAddr = strings.TrimSpace(u.listenAddr)
	}
	if changed("log-level") {
		switch lvl := strings.ToLower(strings.TrimSpace(u.logLevel)); lvl {
		case "debug", "info", "warn", "error":
			s.LogLevel = lvl
		default:
			return errors.New("--log-level must be debug, info, warn or error")
		}
	}
	if changed("thumbnail-timeout") {
		if u.thumbnailTimeout <= 0 {
			return errors.New("--thumbnail-timeout must be positive")
		}
		s.ThumbnailTimeout = u.thumbnailTimeout
	}
	return nil
}

func printSettings(root *rootOptions, path string, s config.Settings) {
	w := root.stdout
	fmt.Fprintf(w, "config: %s\n", path)
	fmt.Fprintf(w, "download_dir: %s\n", s.DownloadDir)
	fmt.Fprintf(w, "data_dir: %s\n", s.DataDir)
	fmt.Fprintf(w, "max_concurrency: %d\n", s.MaxConcurrency)
	if s.MaxSpeedKB > 0 {
		fmt.Fprintf(w, "max_speed_kb: %d\n", s.MaxSpeedKB)
	} else {
		fmt.Fprintln(w, "max_speed_kb: unlimited")
	}
	fmt.Fprintf(w, "file_collision: %s\n", s.FileCollision)
	fmt.Fprintf(w, "auto_clear_finished: %t\n", s.AutoClearFinished)
	fmt.Fprintf(w, "default_preset: %s\n", s.DefaultPreset)
	if s.RedisAddr != "" {
		fmt.Fprintf(w, "redis: %s (channel %s)\n", s.RedisAddr, s.RedisChannel)
	} else {
		fmt.Fprintln(w, "redis: (disabled)")
	}
	fmt.Fprintf(w, "listen_addr: %s\n", s.ListenAddr)
	fmt.Fprintf(w, "log_level: %s\n", s.LogLevel)
	fmt.Fprintf(w, "thumbnail_timeout: %s\n", s.ThumbnailTimeout)
}
