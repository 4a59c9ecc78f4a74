package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kikiluvv/captionburn/internal/captions"
	"github.com/kikiluvv/captionburn/pkg/util"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Export formats
const (
	FormatWebM  = "webm"
	FormatMJPEG = "mjpeg"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	TempDir string `yaml:"temp_dir"`

	Logging    LoggingConfig     `yaml:"logging"`
	FFmpeg     FFmpegConfig      `yaml:"ffmpeg"`
	Export     ExportConfig      `yaml:"export"`
	Fonts      map[string]string `yaml:"fonts"`
	Style      captions.Style    `yaml:"style"`
	Transcribe TranscribeConfig  `yaml:"transcribe"`
}

type LoggingConfig struct {
	// File receives JSON log lines in addition to the console
	File string `yaml:"file"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path"`
	ProbePath  string `yaml:"probe_path"`
	Threads    int    `yaml:"threads"`
}

type ExportConfig struct {
	FPS            float64       `yaml:"fps"`
	SeekTimeout    time.Duration `yaml:"seek_timeout"`
	Format         string        `yaml:"format"`
	Codec          string        `yaml:"codec"`
	CRF            int           `yaml:"crf"`
	JPEGQuality    int           `yaml:"jpeg_quality"`
	OutputDir      string        `yaml:"output_dir"`
	LockDir        string        `yaml:"lock_dir"`
	ReferenceWidth float64       `yaml:"reference_width"`
	PlateRadius    float64       `yaml:"plate_radius"`
}

type TranscribeConfig struct {
	Model     string        `yaml:"model"`
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Language  string        `yaml:"language"`
}

// APIKey reads the transcription key from the configured environment variable
func (t TranscribeConfig) APIKey() string {
	return strings.TrimSpace(os.Getenv(t.APIKeyEnv))
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values the exporter cannot work around
func (c *Config) Validate() error {
	var errs []error
	if c.Export.FPS <= 0 {
		errs = append(errs, fmt.Errorf("export.fps must be positive"))
	}
	if c.Export.SeekTimeout <= 0 {
		errs = append(errs, fmt.Errorf("export.seek_timeout must be positive"))
	}
	switch c.Export.Format {
	case FormatWebM, FormatMJPEG:
	default:
		errs = append(errs, fmt.Errorf("export.format must be %q or %q, got %q", FormatWebM, FormatMJPEG, c.Export.Format))
	}
	if c.Export.ReferenceWidth <= 0 {
		errs = append(errs, fmt.Errorf("export.reference_width must be positive"))
	}
	if c.Export.PlateRadius < 0 {
		errs = append(errs, fmt.Errorf("export.plate_radius must not be negative"))
	}
	if err := c.Style.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("style: %w", err))
	}
	return errors.Join(errs...)
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return util.WriteFileAtomic(path, data)
}

// Default returns the built-in configuration
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	home := os.Getenv("HOME")
	return &Config{
		TempDir: os.TempDir(),
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
		},
		Export: ExportConfig{
			FPS:            30,
			SeekTimeout:    10 * time.Second,
			Format:         FormatWebM,
			Codec:          "libvpx-vp9",
			CRF:            32,
			JPEGQuality:    90,
			OutputDir:      ".",
			LockDir:        filepath.Join(home, ".captionburn", "locks"),
			ReferenceWidth: 1280,
			PlateRadius:    20,
		},
		Fonts: make(map[string]string),
		Style: captions.DefaultStyle(),
		Transcribe: TranscribeConfig{
			Model:     "gemini-3-flash-preview",
			Endpoint:  "https://generativelanguage.googleapis.com/v1beta",
			Timeout:   5 * time.Minute,
			APIKeyEnv: "GEMINI_API_KEY",
			Language:  "English",
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./captionburn.yaml",
		"./captionburn.yml",
		filepath.Join(os.Getenv("HOME"), ".captionburn", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
