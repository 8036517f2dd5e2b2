// Package config loads settings and presets from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mediafetch/internal/ytdlp"
)

const (
	DefaultMaxConcurrency   = 2
	DefaultPresetID         = "default"
	DefaultListenAddr       = "127.0.0.1:8765"
	DefaultRedisChannel     = "mediafetch:jobs"
	DefaultLogLevel         = "info"
	DefaultThumbnailTimeout = 15 * time.Second
)

type Settings struct {
	DownloadDir       string        `yaml:"download_dir" json:"download_dir"`
	DataDir           string        `yaml:"data_dir" json:"data_dir"`
	MaxConcurrency    int           `yaml:"max_concurrency" json:"max_concurrency"`
	MaxSpeedKB        int           `yaml:"max_speed_kb" json:"max_speed_kb"`
	FileCollision     string        `yaml:"file_collision" json:"file_collision"`
	AutoClearFinished bool          `yaml:"auto_clear_finished" json:"auto_clear_finished"`
	DefaultPreset     string        `yaml:"default_preset" json:"default_preset"`
	PresetsFile       string        `yaml:"presets_file,omitempty" json:"presets_file,omitempty"`
	RedisAddr         string        `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisChannel      string        `yaml:"redis_channel,omitempty" json:"redis_channel,omitempty"`
	ListenAddr        string        `yaml:"listen_addr" json:"listen_addr"`
	LogLevel          string        `yaml:"log_level" json:"log_level"`
	ThumbnailTimeout  time.Duration `yaml:"thumbnail_timeout" json:"thumbnail_timeout"`
}

func (s Settings) BinDir() string       { return filepath.Join(s.DataDir, "bin") }
func (s Settings) ThumbnailDir() string { return filepath.Join(s.DataDir, "thumbnails") }
func (s Settings) LockDir() string      { return filepath.Join(s.DataDir, "locks") }
func (s Settings) DBPath() string       { return filepath.Join(s.DataDir, "mediafetch.db") }

func (s Settings) Collision() ytdlp.CollisionPolicy {
	return ytdlp.NormalizeCollisionPolicy(s.FileCollision)
}

func DefaultSettings() Settings {
	return Settings{
		DownloadDir:      filepath.Join(homeDir(), "Downloads"),
		DataDir:          filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "mediafetch"),
		MaxConcurrency:   DefaultMaxConcurrency,
		FileCollision:    string(ytdlp.CollisionRename),
		DefaultPreset:    DefaultPresetID,
		RedisChannel:     DefaultRedisChannel,
		ListenAddr:       DefaultListenAddr,
		LogLevel:         DefaultLogLevel,
		ThumbnailTimeout: DefaultThumbnailTimeout,
	}
}

func DefaultConfigPath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "mediafetch", "config.yaml")
}

// Config is the loaded settings together with the preset catalog.
type Config struct {
	Path     string
	settings Settings
	presets  *Catalog
}

func New(settings Settings, presets *Catalog) *Config {
	if presets == nil {
		presets = NewCatalog(nil)
	}
	return &Config{settings: normalizeSettings(settings), presets: presets}
}

func (c *Config) Settings() Settings { return c.settings }
func (c *Config) Presets() *Catalog  { return c.presets }

// Preset resolves id, falling back to the configured default preset.
func (c *Config) Preset(id string) Preset {
	return c.presets.Resolve(id, c.settings.DefaultPreset)
}

// Load reads the YAML file at path (a missing file means defaults), applies
// environment overrides and loads the user presets file.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultConfigPath()
	}
	settings, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	applyEnv(&settings)
	settings = normalizeSettings(settings)

	user := []Preset{}
	if settings.PresetsFile != "" {
		user, err = LoadPresetsFile(settings.PresetsFile)
		if err != nil {
			return nil, err
		}
	}
	cfg := New(settings, NewCatalog(user))
	cfg.Path = path
	return cfg, nil
}

// ReadFile returns the settings stored at path on top of the defaults,
// without environment overrides. A missing file yields the defaults.
func ReadFile(path string) (Settings, error) {
	settings := DefaultSettings()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return settings, nil
}

// Save writes settings back as YAML.
func Save(path string, settings Settings) error {
	data, err := yaml.Marshal(normalizeSettings(settings))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func applyEnv(s *Settings) {
	s.DownloadDir = getEnv("MEDIAFETCH_DOWNLOAD_DIR", s.DownloadDir)
	s.DataDir = getEnv("MEDIAFETCH_DATA_DIR", s.DataDir)
	s.RedisAddr = getEnv("MEDIAFETCH_REDIS_ADDR", s.RedisAddr)
	s.LogLevel = getEnv("MEDIAFETCH_LOG_LEVEL", s.LogLevel)
	s.ListenAddr = getEnv("MEDIAFETCH_LISTEN_ADDR", s.ListenAddr)
	if v := strings.TrimSpace(os.Getenv("MEDIAFETCH_MAX_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.MaxConcurrency = n
		}
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func normalizeSettings(raw Settings) Settings {
	def := DefaultSettings()
	norm := raw
	norm.DownloadDir = expandHome(firstNonEmpty(norm.DownloadDir, def.DownloadDir))
	norm.DataDir = expandHome(firstNonEmpty(norm.DataDir, def.DataDir))
	norm.PresetsFile = expandHome(strings.TrimSpace(norm.PresetsFile))
	if norm.MaxConcurrency <= 0 {
		norm.MaxConcurrency = DefaultMaxConcurrency
	}
	if norm.MaxSpeedKB < 0 {
		norm.MaxSpeedKB = 0
	}
	norm.FileCollision = string(ytdlp.NormalizeCollisionPolicy(norm.FileCollision))
	norm.DefaultPreset = firstNonEmpty(norm.DefaultPreset, DefaultPresetID)
	norm.RedisChannel = firstNonEmpty(norm.RedisChannel, DefaultRedisChannel)
	norm.ListenAddr = firstNonEmpty(norm.ListenAddr, DefaultListenAddr)
	norm.LogLevel = strings.ToLower(firstNonEmpty(norm.LogLevel, DefaultLogLevel))
	if norm.ThumbnailTimeout <= 0 {
		norm.ThumbnailTimeout = DefaultThumbnailTimeout
	}
	return norm
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	return "."
}

func xdgDir(env string, fallback ...string) string {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	return filepath.Join(append([]string{homeDir()}, fallback...)...)
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}
