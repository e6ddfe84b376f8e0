package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides, e.g. WATCHTOWER_FRAME_STEP.
const EnvPrefix = "WATCHTOWER"

// Mode selects the default output names.
type Mode int

const (
	ModeAnalyze Mode = iota
	ModeFaces
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// I/O
	Input        string `mapstructure:"input" yaml:"input"`
	OutputDir    string `mapstructure:"output-dir" yaml:"output-dir"`
	OutputVideo  string `mapstructure:"output-video" yaml:"output-video"`
	MetadataFile string `mapstructure:"metadata-file" yaml:"metadata-file"`
	FullMetadata bool   `mapstructure:"full-metadata" yaml:"full-metadata"`

	// Sampling
	FrameStep   int `mapstructure:"frame-step" yaml:"frame-step"`
	MaxFrames   int `mapstructure:"max-frames" yaml:"max-frames"`
	ResizeWidth int `mapstructure:"resize-width" yaml:"resize-width"`

	// Detection
	FaceModel      string  `mapstructure:"face-model" yaml:"face-model"`
	Upsample       int     `mapstructure:"upsample" yaml:"upsample"`
	FaceFallback   string  `mapstructure:"face-fallback" yaml:"face-fallback"`
	HaarScale      float64 `mapstructure:"haar-scale" yaml:"haar-scale"`
	HaarNeighbors  int     `mapstructure:"haar-neighbors" yaml:"haar-neighbors"`
	MinFaceSize    int     `mapstructure:"min-face-size" yaml:"min-face-size"`
	FacePadding    float64 `mapstructure:"face-padding" yaml:"face-padding"`
	FrontalCascade string  `mapstructure:"frontal-cascade" yaml:"frontal-cascade"`
	ProfileCascade string  `mapstructure:"profile-cascade" yaml:"profile-cascade"`

	// Collaborators
	WorkerPython   string        `mapstructure:"worker-python" yaml:"worker-python"`
	WorkerScript   string        `mapstructure:"worker-script" yaml:"worker-script"`
	WorkerTimeout  time.Duration `mapstructure:"worker-timeout" yaml:"worker-timeout"`
	EmotionURL     string        `mapstructure:"emotion-url" yaml:"emotion-url"`
	EmotionTimeout time.Duration `mapstructure:"emotion-timeout" yaml:"emotion-timeout"`

	// Logging
	LogLevel string `mapstructure:"log-level" yaml:"log-level"`
	LogFile  string `mapstructure:"log-file" yaml:"log-file"`
}

// SetDefaults registers every key on v so that environment overrides are
// picked up by Unmarshal.
func SetDefaults(v *viper.Viper, mode Mode) {
	outDir, video, meta := "outputs/analysis", "analysis.mp4", "analysis.jsonl"
	if mode == ModeFaces {
		outDir, video, meta = "outputs/faces", "faces.mp4", "faces.jsonl"
	}

	v.SetDefault("input", "")
	v.SetDefault("output-dir", outDir)
	v.SetDefault("output-video", video)
	v.SetDefault("metadata-file", meta)
	v.SetDefault("full-metadata", false)

	v.SetDefault("frame-step", 1)
	v.SetDefault("max-frames", 0)
	v.SetDefault("resize-width", 0)

	v.SetDefault("face-model", "hog")
	v.SetDefault("upsample", 1)
	v.SetDefault("face-fallback", "haar")
	v.SetDefault("haar-scale", 1.1)
	v.SetDefault("haar-neighbors", 5)
	v.SetDefault("min-face-size", 40)
	v.SetDefault("face-padding", 0.15)
	v.SetDefault("frontal-cascade", "cascade/facefinder")
	v.SetDefault("profile-cascade", "")

	v.SetDefault("worker-python", "python3")
	v.SetDefault("worker-script", "python/analyzer.py")
	v.SetDefault("worker-timeout", 30*time.Second)
	v.SetDefault("emotion-url", "http://localhost:5005")
	v.SetDefault("emotion-timeout", 10*time.Second)

	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")
}

// Load resolves the configuration from defaults, the optional YAML file,
// WATCHTOWER_* environment variables and the flags that were set, in
// increasing order of precedence.
func Load(fs *pflag.FlagSet, file string, mode Mode) (*Config, error) {
	v := viper.New()
	SetDefaults(v, mode)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Input != "", "input is required")
	check(c.FrameStep >= 1, "frame-step must be >= 1 (got %d)", c.FrameStep)
	check(c.MaxFrames >= 0, "max-frames must be >= 0 (got %d)", c.MaxFrames)
	check(c.ResizeWidth >= 0, "resize-width must be >= 0 (got %d)", c.ResizeWidth)
	check(c.FaceModel == "hog" || c.FaceModel == "cnn", "face-model must be hog or cnn (got %q)", c.FaceModel)
	check(c.Upsample >= 0, "upsample must be >= 0 (got %d)", c.Upsample)
	check(c.FaceFallback == "haar" || c.FaceFallback == "none", "face-fallback must be haar or none (got %q)", c.FaceFallback)
	check(c.HaarScale > 1, "haar-scale must be > 1 (got %g)", c.HaarScale)
	check(c.HaarNeighbors >= 0, "haar-neighbors must be >= 0 (got %d)", c.HaarNeighbors)
	check(c.MinFaceSize >= 1, "min-face-size must be >= 1 (got %d)", c.MinFaceSize)
	check(c.FacePadding >= 0 && c.FacePadding < 1, "face-padding must be in [0,1) (got %g)", c.FacePadding)
	check(c.FaceFallback != "haar" || c.FrontalCascade != "", "frontal-cascade is required when face-fallback is haar")
	check(c.OutputVideo != "", "output-video is required")
	check(c.MetadataFile != "", "metadata-file is required")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// VideoPath is the annotated video location. Absolute names bypass output-dir.
func (c *Config) VideoPath() string { return c.resolve(c.OutputVideo) }

// MetadataPath is the line-delimited metadata location.
func (c *Config) MetadataPath() string { return c.resolve(c.MetadataFile) }

func (c *Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.OutputDir, name)
}

// WriteYAML renders the effective configuration.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
