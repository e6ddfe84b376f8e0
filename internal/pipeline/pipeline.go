package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"github.com/andresmejia3/watchtower/internal/aggregate"
	"github.com/andresmejia3/watchtower/internal/annotate"
	"github.com/andresmejia3/watchtower/internal/detect"
	"github.com/andresmejia3/watchtower/internal/logging"
	"github.com/andresmejia3/watchtower/internal/motion"
	"github.com/andresmejia3/watchtower/internal/types"
)

// FrameSource yields decoded frames in order and io.EOF at the end.
type FrameSource interface {
	Next() (*image.RGBA, error)
	FPS() float64
	Width() int
	Height() int
	Close() error
}

// FrameSink accepts frames in order.
type FrameSink interface {
	Write(img *image.RGBA) error
	Close() error
}

type SourceOpener func(ctx context.Context, path string) (FrameSource, error)
type SinkOpener func(ctx context.Context, path string, fps float64, width, height int) (FrameSink, error)

// FaceDetector returns filtered boxes in the coordinates of img.
// *detect.Controller satisfies it.
type FaceDetector interface {
	Detect(img image.Image, opts detect.Options) ([]types.BoundingBox, error)
}

// EmotionClassifier labels one face region.
type EmotionClassifier interface {
	Classify(ctx context.Context, region image.Image) (string, error)
}

// ActivityDetector labels a frame and owns whatever history it needs.
// *motion.Tracker satisfies it.
type ActivityDetector interface {
	Detect(img image.Image) (types.ActivityObservation, error)
}

// AnomalyDetector flags movement spikes. *motion.AnomalyDetector satisfies it.
type AnomalyDetector interface {
	Observe(score float64) bool
}

// Progress is advanced once per decoded frame.
type Progress interface {
	Add(n int) error
}

type State int

const (
	StateInit State = iota
	StateStreaming
	StateDraining
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStreaming:
		return "STREAMING"
	case StateDraining:
		return "DRAINING"
	case StateDone:
		return "DONE"
	case StateError:
		return "ERROR"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options are the per-run settings.
type Options struct {
	Input        string
	OutputVideo  string
	MetadataPath string

	FrameStep   int // analyze every Nth frame; <= 1 analyzes all
	MaxFrames   int // stop after this many analyzed frames; 0 means no limit
	ResizeWidth int // detection width; 0 disables resizing

	Detect      detect.Options
	FacePadding float64

	// FullMetadata writes a FrameRecord per analyzed frame before the summary.
	FullMetadata bool
	// FacesOnly runs detection and box annotation only, writing a FaceRecord
	// per analyzed frame and no summary.
	FacesOnly bool
}

// Result describes a finished run.
type Result struct {
	RunID           string
	FramesRead      int
	FramesProcessed int
	FacesDetected   int
	Summary         *aggregate.Summary // nil in faces-only mode
}

// Pipeline wires the collaborators for one or more sequential runs. Run
// state lives inside Run, so a Pipeline can be reused.
type Pipeline struct {
	OpenSource SourceOpener
	OpenSink   SinkOpener
	Faces      FaceDetector

	// Emotions may be nil, in which case every face is "unknown".
	Emotions EmotionClassifier
	// NewActivity builds the activity state for a run. Nil falls back to
	// pixel differencing.
	NewActivity func() ActivityDetector
	// NewAnomaly builds the anomaly window for a run. Nil uses the default
	// 30-frame window.
	NewAnomaly func() AnomalyDetector

	Progress Progress
	Logger   logrus.FieldLogger

	state State
}

// State reports where the last run stopped.
func (p *Pipeline) State() State { return p.state }

func (p *Pipeline) setState(log logrus.FieldLogger, s State) {
	log.WithField("stage", s.String()).Debugf("state %s -> %s", p.state, s)
	p.state = s
}

// run holds everything scoped to a single Run call.
type run struct {
	opts      Options
	log       *logrus.Entry
	src       FrameSource
	sink      FrameSink
	meta      *MetadataWriter
	activity  ActivityDetector
	anomalies AnomalyDetector
	agg       *aggregate.Aggregator
	fps       float64
	result    Result
}

// Run processes opts.Input end to end. Source, sink and metadata handles are
// released on every return path.
func (p *Pipeline) Run(ctx context.Context, opts Options) (res *Result, err error) {
	runID := logging.NewRunID()
	log := logging.WithRun(p.Logger, runID).WithField("input", opts.Input)

	p.state = StateInit
	r := &run{opts: opts, log: log, result: Result{RunID: runID}}

	defer func() {
		if cerr := r.close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			p.setState(log, StateError)
			res = nil
			return
		}
		p.setState(log, StateDone)
	}()

	if err := p.open(ctx, r); err != nil {
		return nil, err
	}

	p.setState(log, StateStreaming)
	if err := p.stream(ctx, r); err != nil {
		return nil, err
	}

	p.setState(log, StateDraining)
	if !opts.FacesOnly {
		summary, err := r.agg.Finalize()
		if err != nil {
			return nil, err
		}
		if err := r.meta.WriteSummary(summary); err != nil {
			return nil, stageErr("metadata", opts.MetadataPath, -1, ErrWrite, err)
		}
		r.result.Summary = &summary
	}

	log.WithFields(logging.Fields{
		"frames_read":      r.result.FramesRead,
		"frames_processed": r.result.FramesProcessed,
		"faces":            r.result.FacesDetected,
	}).Info("pipeline finished")

	out := r.result
	return &out, nil
}

func (p *Pipeline) open(ctx context.Context, r *run) error {
	opts := r.opts
	if p.Faces == nil {
		return errors.New("pipeline: no face detector configured")
	}
	if p.OpenSource == nil || p.OpenSink == nil {
		return errors.New("pipeline: source and sink openers are required")
	}

	info, err := os.Stat(opts.Input)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stageErr("input", opts.Input, -1, ErrInputNotFound, err)
		}
		return stageErr("input", opts.Input, -1, ErrInputOpen, err)
	}
	if info.IsDir() {
		return stageErr("input", opts.Input, -1, ErrInputOpen, errors.New("input path is a directory"))
	}
	if samePath(opts.Input, opts.OutputVideo) {
		return stageErr("sink", opts.OutputVideo, -1, ErrSinkOpen, errors.New("output video would overwrite the input"))
	}

	src, err := p.OpenSource(ctx, opts.Input)
	if err != nil {
		return stageErr("source", opts.Input, -1, ErrInputOpen, err)
	}
	r.src = src
	if src.Width() <= 0 || src.Height() <= 0 {
		return stageErr("source", opts.Input, -1, ErrInputOpen,
			fmt.Errorf("invalid dimensions %dx%d", src.Width(), src.Height()))
	}
	r.fps = src.FPS()

	if dir := filepath.Dir(opts.OutputVideo); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return stageErr("sink", opts.OutputVideo, -1, ErrSinkOpen, err)
		}
	}
	sink, err := p.OpenSink(ctx, opts.OutputVideo, r.fps, src.Width(), src.Height())
	if err != nil {
		return stageErr("sink", opts.OutputVideo, -1, ErrSinkOpen, err)
	}
	r.sink = sink

	meta, err := CreateMetadata(opts.MetadataPath)
	if err != nil {
		return stageErr("metadata", opts.MetadataPath, -1, ErrMetadataOpen, err)
	}
	r.meta = meta

	if !opts.FacesOnly {
		if p.NewActivity != nil {
			r.activity = p.NewActivity()
		} else {
			r.activity = motion.NewTracker(nil)
		}
		if p.NewAnomaly != nil {
			r.anomalies = p.NewAnomaly()
		} else {
			r.anomalies = motion.NewAnomalyDetector()
		}
		r.agg = aggregate.New()
	}

	r.log.WithFields(logging.Fields{
		"fps":    r.fps,
		"width":  src.Width(),
		"height": src.Height(),
		"output": opts.OutputVideo,
	}).Debug("handles opened")
	return nil
}

func (p *Pipeline) stream(ctx context.Context, r *run) error {
	step := max(r.opts.FrameStep, 1)

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			r.log.WithField("frame", index).Warn("run cancelled")
			return fmt.Errorf("pipeline aborted at frame %d: %w", index, err)
		}

		img, err := r.src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return stageErr("source", r.opts.Input, index, ErrInputRead, err)
		}
		r.result.FramesRead++
		if p.Progress != nil {
			_ = p.Progress.Add(1)
		}

		if step > 1 && index%step != 0 {
			if err := r.sink.Write(img); err != nil {
				return stageErr("sink", r.opts.OutputVideo, index, ErrWrite, err)
			}
			continue
		}

		if err := p.analyze(ctx, r, index, img); err != nil {
			return err
		}

		r.result.FramesProcessed++
		if r.opts.MaxFrames > 0 && r.result.FramesProcessed >= r.opts.MaxFrames {
			r.log.WithField("frame", index).Debug("max frames reached")
			return nil
		}
	}
}

func (p *Pipeline) analyze(ctx context.Context, r *run, index int, img *image.RGBA) error {
	opts := r.opts
	detFrame, scale := resizeForDetection(img, opts.ResizeWidth)

	boxes, err := p.Faces.Detect(detFrame, opts.Detect)
	if err != nil {
		return stageErr("detect", opts.Input, index, ErrDetector, err)
	}
	boxes = detect.ScaleBoxes(boxes, scale)
	if boxes == nil {
		boxes = []types.BoundingBox{}
	}
	r.result.FacesDetected += len(boxes)
	timestamp := types.FrameTimestamp(index, r.fps)

	if opts.FacesOnly {
		if err := r.sink.Write(annotate.Boxes(img, boxes)); err != nil {
			return stageErr("sink", opts.OutputVideo, index, ErrWrite, err)
		}
		rec := types.FaceRecord{FrameIndex: index, Timestamp: timestamp, FaceCount: len(boxes), Boxes: boxes}
		if err := r.meta.WriteRecord(rec); err != nil {
			return stageErr("metadata", opts.MetadataPath, index, ErrWrite, err)
		}
		r.log.WithFields(logging.Fields{"frame": index, "faces": len(boxes)}).Trace("frame analyzed")
		return nil
	}

	faces := p.classify(ctx, r, img, boxes)
	emotions := make([]string, len(faces))
	for i, f := range faces {
		emotions[i] = f.Emotion
	}

	activity, err := r.activity.Detect(detFrame)
	if err != nil {
		return stageErr("activity", opts.Input, index, ErrDetector, err)
	}
	anomaly := r.anomalies.Observe(activity.MovementScore)

	if err := r.agg.Observe(aggregate.Observation{Faces: faces, Activity: activity, Anomaly: anomaly}); err != nil {
		return err
	}

	if err := r.sink.Write(annotate.Frame(img, boxes, emotions, activity.Label)); err != nil {
		return stageErr("sink", opts.OutputVideo, index, ErrWrite, err)
	}

	if opts.FullMetadata {
		rec := types.FrameRecord{
			FrameIndex:  index,
			Timestamp:   timestamp,
			FaceCount:   len(boxes),
			Boxes:       boxes,
			Emotions:    emotions,
			Activity:    activity.Label,
			MotionScore: activity.MovementScore,
			IsAnomaly:   anomaly,
		}
		if err := r.meta.WriteRecord(rec); err != nil {
			return stageErr("metadata", opts.MetadataPath, index, ErrWrite, err)
		}
	}

	r.log.WithFields(logging.Fields{
		"frame":    index,
		"faces":    len(boxes),
		"activity": activity.Label,
		"score":    activity.MovementScore,
		"anomaly":  anomaly,
	}).Trace("frame analyzed")
	return nil
}

// classify labels each face on the full-resolution frame. Classifier
// failures and empty regions become "unknown".
func (p *Pipeline) classify(ctx context.Context, r *run, img *image.RGBA, boxes []types.BoundingBox) []types.FaceObservation {
	bounds := img.Bounds()
	faces := make([]types.FaceObservation, 0, len(boxes))
	for _, b := range boxes {
		label := types.EmotionUnknown
		padded := detect.ExpandBox(b, bounds.Dx(), bounds.Dy(), r.opts.FacePadding)
		region := padded.Rect().Add(bounds.Min).Intersect(bounds)

		if p.Emotions != nil && !region.Empty() {
			got, err := p.Emotions.Classify(ctx, img.SubImage(region))
			switch {
			case err != nil:
				r.log.WithError(err).Debug("emotion classification failed")
			case got != "":
				label = got
			}
		}
		faces = append(faces, types.FaceObservation{Box: b, Emotion: label})
	}
	return faces
}

// close releases every open handle and reports the first failure. Source
// errors after a completed stream are not fatal for the outputs.
func (r *run) close() error {
	var first error
	if r.meta != nil {
		if err := r.meta.Close(); err != nil {
			first = stageErr("metadata", r.opts.MetadataPath, -1, ErrWrite, err)
		}
		r.meta = nil
	}
	if r.sink != nil {
		if err := r.sink.Close(); err != nil && first == nil {
			first = stageErr("sink", r.opts.OutputVideo, -1, ErrWrite, err)
		}
		r.sink = nil
	}
	if r.src != nil {
		if err := r.src.Close(); err != nil {
			r.log.WithError(err).Warn("source close failed")
		}
		r.src = nil
	}
	return first
}

// resizeForDetection returns the frame detection should run on and the
// scale that maps its coordinates back to img.
func resizeForDetection(img *image.RGBA, resizeWidth int) (*image.RGBA, detect.Scale) {
	b := img.Bounds()
	if resizeWidth <= 0 || resizeWidth == b.Dx() {
		return img, detect.IdentityScale
	}
	resizeHeight := detect.ResizeHeight(b.Dx(), b.Dy(), resizeWidth)
	if resizeHeight <= 0 {
		return img, detect.IdentityScale
	}

	dst := image.NewRGBA(image.Rect(0, 0, resizeWidth, resizeHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, detect.NewScale(b.Dx(), b.Dy(), resizeWidth, resizeHeight)
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
