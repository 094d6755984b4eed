package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix is the prefix for environment overrides (EVENTCUT_CONCURRENCY, ...)
const EnvPrefix = "EVENTCUT"

// Config holds all application configuration
type Config struct {
	// Core settings
	WorkDir     string `yaml:"work_dir" envconfig:"WORK_DIR"`
	OutputDir   string `yaml:"output_dir" envconfig:"OUTPUT_DIR"`
	SegmentDir  string `yaml:"segment_dir" envconfig:"SEGMENT_DIR"`
	TempDir     string `yaml:"temp_dir" envconfig:"TEMP_DIR"`
	Concurrency int    `yaml:"concurrency" envconfig:"CONCURRENCY"`

	FFmpeg   FFmpegConfig  `yaml:"ffmpeg" envconfig:"FFMPEG"`
	Timeouts TimeoutConfig `yaml:"timeouts" envconfig:"TIMEOUT"`
	Detect   DetectConfig  `yaml:"detect" envconfig:"DETECT"`
	Montage  MontageConfig `yaml:"montage" envconfig:"MONTAGE"`
	Queue    QueueConfig   `yaml:"queue" envconfig:"QUEUE"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path" envconfig:"BINARY_PATH"`
	ProbePath  string `yaml:"probe_path" envconfig:"PROBE_PATH"`
	Threads    int    `yaml:"threads" envconfig:"THREADS"`
	Preset     string `yaml:"preset" envconfig:"PRESET"`
	CRF        int    `yaml:"crf" envconfig:"CRF"`
	VideoCodec string `yaml:"video_codec" envconfig:"VIDEO_CODEC"`
	AudioCodec string `yaml:"audio_codec" envconfig:"AUDIO_CODEC"`
}

// TimeoutConfig bounds every external engine invocation
type TimeoutConfig struct {
	Version   time.Duration `yaml:"version" envconfig:"VERSION"`
	Probe     time.Duration `yaml:"probe" envconfig:"PROBE"`
	Analysis  time.Duration `yaml:"analysis" envconfig:"ANALYSIS"`
	Segment   time.Duration `yaml:"segment" envconfig:"SEGMENT"`
	Montage   time.Duration `yaml:"montage" envconfig:"MONTAGE"`
	Recombine time.Duration `yaml:"recombine" envconfig:"RECOMBINE"`
}

// Total is the worst-case wall time of one processing run
func (t TimeoutConfig) Total() time.Duration {
	return t.Probe*2 + t.Analysis*2 + t.Montage + t.Segment*2
}

// DetectConfig carries detection defaults and the analysis constants
type DetectConfig struct {
	Policy             string  `yaml:"policy" envconfig:"POLICY"`
	Sensitivity        float64 `yaml:"sensitivity" envconfig:"SENSITIVITY"`
	MergeThreshold     float64 `yaml:"merge_threshold" envconfig:"MERGE_THRESHOLD"`
	ThresholdPercent   float64 `yaml:"threshold_percent" envconfig:"THRESHOLD_PERCENT"`
	PaddingDuration    float64 `yaml:"padding_duration" envconfig:"PADDING_DURATION"`
	MinSegmentDuration float64 `yaml:"min_segment_duration" envconfig:"MIN_SEGMENT_DURATION"`

	FrameLength   int     `yaml:"frame_length" envconfig:"FRAME_LENGTH"`
	HopLength     int     `yaml:"hop_length" envconfig:"HOP_LENGTH"`
	TopDB         float64 `yaml:"top_db" envconfig:"TOP_DB"`
	FloorOffsetDB float64 `yaml:"floor_offset_db" envconfig:"FLOOR_OFFSET_DB"`
	MaxDepthDB    float64 `yaml:"max_depth_db" envconfig:"MAX_DEPTH_DB"`
}

type MontageConfig struct {
	Prefix          string  `yaml:"prefix" envconfig:"PREFIX"`
	RecombinePrefix string  `yaml:"recombine_prefix" envconfig:"RECOMBINE_PREFIX"`
	Extension       string  `yaml:"extension" envconfig:"EXTENSION"`
	DefaultWidth    int     `yaml:"default_width" envconfig:"DEFAULT_WIDTH"`
	DefaultHeight   int     `yaml:"default_height" envconfig:"DEFAULT_HEIGHT"`
	DefaultFPS      float64 `yaml:"default_fps" envconfig:"DEFAULT_FPS"`
}

type QueueConfig struct {
	RedisAddr string        `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisDB   int           `yaml:"redis_db" envconfig:"REDIS_DB"`
	Name      string        `yaml:"name" envconfig:"NAME"`
	Retention time.Duration `yaml:"retention" envconfig:"RETENTION"`
}

// Load reads configuration from file, then .env and the environment, over defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	// a missing .env is normal outside development
	_ = godotenv.Load()

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.OutputDir == "" || c.SegmentDir == "" {
		return fmt.Errorf("output_dir and segment_dir are required")
	}
	if c.Detect.FrameLength <= 0 || c.Detect.HopLength <= 0 {
		return fmt.Errorf("frame_length and hop_length must be positive")
	}
	if c.Detect.HopLength > c.Detect.FrameLength {
		return fmt.Errorf("hop_length %d exceeds frame_length %d", c.Detect.HopLength, c.Detect.FrameLength)
	}
	if c.Detect.TopDB <= 0 || c.Detect.FloorOffsetDB <= 0 || c.Detect.MaxDepthDB <= 0 {
		return fmt.Errorf("top_db, floor_offset_db and max_depth_db must be positive")
	}
	if c.Montage.Extension == "" {
		return fmt.Errorf("montage.extension is required")
	}
	if c.Montage.DefaultWidth <= 0 || c.Montage.DefaultHeight <= 0 || c.Montage.DefaultFPS <= 0 {
		return fmt.Errorf("montage default width, height and fps must be positive")
	}
	t := c.Timeouts
	if t.Version <= 0 || t.Probe <= 0 || t.Analysis <= 0 || t.Segment <= 0 || t.Montage <= 0 || t.Recombine <= 0 {
		return fmt.Errorf("all timeouts must be positive")
	}
	return nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		WorkDir:     "./work",
		OutputDir:   "./outputs",
		SegmentDir:  "./outputs/segments",
		TempDir:     "",
		Concurrency: 2,
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
			Preset:     "medium",
			CRF:        18,
			VideoCodec: "libx264",
			AudioCodec: "aac",
		},
		Timeouts: TimeoutConfig{
			Version:   5 * time.Second,
			Probe:     10 * time.Second,
			Analysis:  30 * time.Minute,
			Segment:   5 * time.Minute,
			Montage:   45 * time.Minute,
			Recombine: 10 * time.Minute,
		},
		Detect: DetectConfig{
			Policy:             "rms_ratio",
			Sensitivity:        0.3,
			MergeThreshold:     0.8,
			ThresholdPercent:   90,
			PaddingDuration:    0.5,
			MinSegmentDuration: 0.5,
			FrameLength:        2048,
			HopLength:          512,
			TopDB:              80,
			FloorOffsetDB:      80,
			MaxDepthDB:         10,
		},
		Montage: MontageConfig{
			Prefix:          "montage",
			RecombinePrefix: "combined",
			Extension:       "mp4",
			DefaultWidth:    1280,
			DefaultHeight:   720,
			DefaultFPS:      30,
		},
		Queue: QueueConfig{
			RedisAddr: "127.0.0.1:6379",
			RedisDB:   0,
			Name:      "montage",
			Retention: 24 * time.Hour,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./eventcut.yaml",
		"./config.yaml",
		"./config.yml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".eventcut", "config.yaml"))
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
	return Default()
}
