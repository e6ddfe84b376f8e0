package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/watchtower/internal/aggregate"
	"github.com/andresmejia3/watchtower/internal/config"
	"github.com/andresmejia3/watchtower/internal/detect"
	"github.com/andresmejia3/watchtower/internal/emotion"
	"github.com/andresmejia3/watchtower/internal/logging"
	"github.com/andresmejia3/watchtower/internal/motion"
	"github.com/andresmejia3/watchtower/internal/pipeline"
	"github.com/andresmejia3/watchtower/internal/utils"
	"github.com/andresmejia3/watchtower/internal/video"
	"github.com/andresmejia3/watchtower/internal/worker"
)

// loadConfig resolves and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command, mode config.Mode) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags(), cfgFile, mode)
	if err != nil {
		return nil, fatal("Failed to load configuration", err, nil)
	}
	return cfg, nil
}

// runPipeline wires the collaborators for mode and runs one input.
func runPipeline(cmd *cobra.Command, mode config.Mode) error {
	cfg, err := loadConfig(cmd, mode)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fatal("Invalid configuration", err, nil)
	}

	if err := checkInput(cfg.Input); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return fatal("Failed to set up logging", err, nil)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// 1. Collaborators
	if videoID, err := utils.GenerateVideoID(cfg.Input); err == nil {
		fmt.Fprintf(os.Stderr, "📼 Processing Video ID: %s\n", videoID[:12])
	}
	fmt.Fprintf(os.Stderr, "⚙️  Spawning analyzer worker (%s)...\n", cfg.WorkerScript)
	w, err := worker.NewPythonWorker(ctx, 0, worker.Config{
		Python:      cfg.WorkerPython,
		Script:      cfg.WorkerScript,
		ReadTimeout: cfg.WorkerTimeout,
		JPEGQuality: worker.DefaultConfig().JPEGQuality,
	})
	if err != nil {
		return fatal("Failed to start analyzer worker", err, nil)
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.WithError(err).Debug("worker exited with error")
		}
	}()

	cascades, err := loadCascades(cfg, logger)
	if err != nil {
		return fatal("Failed to load fallback cascades", err, nil)
	}

	p := &pipeline.Pipeline{
		OpenSource: openSource,
		OpenSink:   openSink,
		Faces:      detect.NewController(w, cascades...),
		Logger:     logger,
	}
	if mode == config.ModeAnalyze {
		ecfg := emotion.DefaultConfig()
		ecfg.BaseURL = cfg.EmotionURL
		ecfg.Timeout = cfg.EmotionTimeout
		p.Emotions = emotion.NewClient(ecfg)
		p.NewActivity = func() pipeline.ActivityDetector { return motion.NewTracker(w) }
	}

	// 2. Progress
	total := utils.GetTotalFrames(ctx, cfg.Input)
	if total <= 0 {
		// Fallback to a spinner if ffprobe could not count frames
		total = -1
	}
	desc := "🔍 Watchtower Analyzing"
	if mode == config.ModeFaces {
		desc = "🔍 Watchtower Face Scan"
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
	p.Progress = bar

	// 3. Run
	res, err := p.Run(ctx, pipelineOptions(cfg, mode))
	_ = bar.Finish()
	if err != nil {
		if ctx.Err() != nil {
			return fatal("Analysis cancelled", err, nil)
		}
		return fatal("Analysis failed", err, w.Cmd)
	}

	printSummary(logger, cfg, res)
	return nil
}

// checkInput rejects a missing or unusable input before any worker is spawned.
func checkInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fatal("Input file does not exist", fmt.Errorf("%w: %s", pipeline.ErrInputNotFound, path), nil)
		}
		return fatal("Unable to access input file", fmt.Errorf("%w: %w", pipeline.ErrInputOpen, err), nil)
	}
	if info.IsDir() {
		return fatal("Input path is a directory, expected a video file", fmt.Errorf("%w: %s", pipeline.ErrInputOpen, path), nil)
	}
	return nil
}

func pipelineOptions(cfg *config.Config, mode config.Mode) pipeline.Options {
	return pipeline.Options{
		Input:        cfg.Input,
		OutputVideo:  cfg.VideoPath(),
		MetadataPath: cfg.MetadataPath(),
		FrameStep:    cfg.FrameStep,
		MaxFrames:    cfg.MaxFrames,
		ResizeWidth:  cfg.ResizeWidth,
		Detect: detect.Options{
			Model:         cfg.FaceModel,
			Upsample:      cfg.Upsample,
			Fallback:      cfg.FaceFallback,
			HaarScale:     cfg.HaarScale,
			HaarNeighbors: cfg.HaarNeighbors,
			Filter: detect.FilterOptions{
				MinSize:  cfg.MinFaceSize,
				MinRatio: detect.DefaultMinRatio,
				MaxRatio: detect.DefaultMaxRatio,
			},
		},
		FacePadding:  cfg.FacePadding,
		FullMetadata: cfg.FullMetadata,
		FacesOnly:    mode == config.ModeFaces,
	}
}

// loadCascades returns the frontal cascade and, when configured, the
// profile cascade. Nothing is loaded when the fallback is disabled.
func loadCascades(cfg *config.Config, logger logrus.FieldLogger) ([]detect.Cascade, error) {
	if cfg.FaceFallback != detect.FallbackHaar {
		return nil, nil
	}
	if cfg.ProfileCascade == "" {
		logger.WithField("frontal_cascade", cfg.FrontalCascade).
			Warn("No profile cascade configured; the haar fallback will only find frontal faces")
	}
	frontal, err := detect.LoadPigoCascade("frontal", cfg.FrontalCascade)
	if err != nil {
		return nil, err
	}
	cascades := []detect.Cascade{frontal}
	if cfg.ProfileCascade != "" {
		profile, err := detect.LoadPigoCascade("profile", cfg.ProfileCascade)
		if err != nil {
			return nil, err
		}
		cascades = append(cascades, profile)
	}
	return cascades, nil
}

func openSource(ctx context.Context, path string) (pipeline.FrameSource, error) {
	src, err := video.OpenSource(ctx, path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func openSink(ctx context.Context, path string, fps float64, width, height int) (pipeline.FrameSink, error) {
	sink, err := video.OpenSink(ctx, path, fps, width, height)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

func printSummary(logger logrus.FieldLogger, cfg *config.Config, res *pipeline.Result) {
	logger.WithField(logging.RunIDKey, res.RunID).Debug("printing summary")

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	if res.Summary == nil {
		fmt.Fprintf(os.Stderr, "📊 FACE SCAN SUMMARY\n")
	} else {
		fmt.Fprintf(os.Stderr, "📊 ANALYSIS SUMMARY\n")
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🎞️  Frames Read:         %d\n", res.FramesRead)
	fmt.Fprintf(os.Stderr, "🔬 Frames Analyzed:     %d\n", res.FramesProcessed)
	fmt.Fprintf(os.Stderr, "👁️  Faces Detected:      %d\n", res.FacesDetected)
	if s := res.Summary; s != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Motion Anomalies:    %d\n", s.AnomaliesDetected)
		fmt.Fprintf(os.Stderr, "🏃 Top Activities:      %s\n", formatTop(s.TopActivities))
		fmt.Fprintf(os.Stderr, "🙂 Top Emotions:        %s\n", formatTop(s.TopEmotions))
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📼 Video:    %s\n", cfg.VideoPath())
	fmt.Fprintf(os.Stderr, "📝 Metadata: %s\n", cfg.MetadataPath())
}

func formatTop(top []aggregate.LabelCount) string {
	if len(top) == 0 {
		return "-"
	}
	parts := make([]string, len(top))
	for i, lc := range top {
		parts[i] = fmt.Sprintf("%s (%d)", lc.Label, lc.Count)
	}
	return strings.Join(parts, ", ")
}
