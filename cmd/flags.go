package cmd

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andresmejia3/watchtower/internal/config"
)

// addPipelineFlags registers the flags shared by analyze, faces and config.
// Defaults come from config.SetDefaults so help text and behavior agree.
func addPipelineFlags(fs *pflag.FlagSet, mode config.Mode) {
	d := viper.New()
	config.SetDefaults(d, mode)

	fs.StringP("input", "i", "", "Path to the input video")
	fs.StringP("output-dir", "o", d.GetString("output-dir"), "Directory for the annotated video and metadata")
	fs.String("output-video", d.GetString("output-video"), "Annotated video file name")
	fs.String("metadata-file", d.GetString("metadata-file"), "Line-delimited JSON metadata file name")

	fs.IntP("frame-step", "n", d.GetInt("frame-step"), "Analyze every Nth frame; the rest pass through untouched")
	fs.Int("max-frames", d.GetInt("max-frames"), "Stop after this many analyzed frames (0 = no limit)")
	fs.Int("resize-width", d.GetInt("resize-width"), "Resize frames to this width for detection (0 = full size)")

	fs.String("face-model", d.GetString("face-model"), "Primary face detector model (hog or cnn)")
	fs.Int("upsample", d.GetInt("upsample"), "Upsample passes for the primary detector")
	fs.String("face-fallback", d.GetString("face-fallback"), "Fallback when the primary detector finds nothing (haar or none)")
	fs.Float64("haar-scale", d.GetFloat64("haar-scale"), "Cascade scale factor")
	fs.Int("haar-neighbors", d.GetInt("haar-neighbors"), "Cascade minimum neighbors")
	fs.Int("min-face-size", d.GetInt("min-face-size"), "Minimum face width and height in detection pixels")
	fs.String("frontal-cascade", d.GetString("frontal-cascade"), "Frontal face cascade file")
	fs.String("profile-cascade", d.GetString("profile-cascade"), "Optional profile face cascade file")

	fs.String("worker-python", d.GetString("worker-python"), "Python interpreter for the analyzer worker")
	fs.String("worker-script", d.GetString("worker-script"), "Analyzer worker script")
	fs.Duration("worker-timeout", d.GetDuration("worker-timeout"), "Max time to wait for a worker reply")

	if mode == config.ModeAnalyze {
		fs.Float64("face-padding", d.GetFloat64("face-padding"), "Fraction of the face box added per side before emotion classification")
		fs.Bool("full-metadata", d.GetBool("full-metadata"), "Write a record for every analyzed frame, not just the summary")
		fs.String("emotion-url", d.GetString("emotion-url"), "Emotion classification service base URL")
		fs.Duration("emotion-timeout", d.GetDuration("emotion-timeout"), "Emotion request timeout")
	}
}
