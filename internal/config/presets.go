package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset is a named template of yt-dlp arguments.
type Preset struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	BuiltIn     bool     `yaml:"-" json:"built_in"`
	Args        []string `yaml:"args" json:"args"`
}

func BuiltInPresets() []Preset {
	return []Preset{
		{ID: "default", Name: "Global Default", Description: "Best quality video and audio", Args: []string{"-f", "bestvideo+bestaudio/best"}},
		{ID: "whatsapp", Name: "WhatsApp Optimized", Description: "MP4 with H.264/AAC for maximum compatibility", Args: []string{"-f", "bv[ext=mp4][vcodec^=avc1]+ba[ext=m4a]/b[ext=mp4]"}},
		{ID: "mp4-best", Name: "Best MP4", Description: "Highest quality MP4 container", Args: []string{"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]"}},
		{ID: "webm-best", Name: "Best WebM", Description: "Highest quality WebM container (VP9/AV1)", Args: []string{"-f", "bestvideo[ext=webm]+bestaudio[ext=webm]/best[ext=webm]"}},
		{ID: "high-quality", Name: "High Quality (4K)", Description: "Prioritize maximum resolution", Args: []string{"-f", "bestvideo[height<=2160]+bestaudio/best"}},
		{ID: "video-only", Name: "Video Only", Description: "Highest quality video without audio", Args: []string{"-f", "bestvideo"}},
		{ID: "audio-only", Name: "Audio Only", Description: "Highest quality audio without video", Args: []string{"-f", "bestaudio"}},
		{ID: "mp3", Name: "Audio (MP3)", Description: "Extract audio in high quality MP3 format", Args: []string{"-x", "--audio-format", "mp3", "--audio-quality", "0"}},
	}
}

type presetsFile struct {
	Presets []Preset `yaml:"presets"`
}

func LoadPresetsFile(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets file %s: %w", path, err)
	}
	var f presetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse presets file %s: %w", path, err)
	}
	out := make([]Preset, 0, len(f.Presets))
	for i, p := range f.Presets {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("preset %d in %s has no id", i+1, path)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		out = append(out, p)
	}
	return out, nil
}

// Catalog is the ordered set of built-in and user presets.
type Catalog struct {
	presets []Preset
}

// NewCatalog layers user presets over the built-ins. A user preset with a
// built-in id replaces it in place.
func NewCatalog(user []Preset) *Catalog {
	c := &Catalog{}
	for _, p := range BuiltInPresets() {
		p.BuiltIn = true
		c.presets = append(c.presets, p)
	}
	for _, p := range user {
		p.BuiltIn = false
		if i := c.index(p.ID); i >= 0 {
			c.presets[i] = p
			continue
		}
		c.presets = append(c.presets, p)
	}
	return c
}

func (c *Catalog) index(id string) int {
	for i, p := range c.presets {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (c *Catalog) List() []Preset {
	out := make([]Preset, len(c.presets))
	copy(out, c.presets)
	return out
}

func (c *Catalog) Get(id string) (Preset, bool) {
	if i := c.index(strings.TrimSpace(id)); i >= 0 {
		p := c.presets[i]
		p.Args = append([]string(nil), p.Args...)
		return p, true
	}
	return Preset{}, false
}

// Resolve returns id, else fallbackID, else the "default" preset.
func (c *Catalog) Resolve(id, fallbackID string) Preset {
	for _, candidate := range []string{id, fallbackID, DefaultPresetID} {
		if p, ok := c.Get(candidate); ok {
			return p
		}
	}
	return Preset{ID: DefaultPresetID, Name: "Global Default", Args: []string{"-f", "bestvideo+bestaudio/best"}}
}
