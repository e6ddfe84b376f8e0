package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/watchtower/internal/detect"
	"github.com/andresmejia3/watchtower/internal/types"
)

// --- fakes ---

type fakeSource struct {
	frames  []*image.RGBA
	fps     float64
	pos     int
	readErr error
	closed  bool
}

func (s *fakeSource) Next() (*image.RGBA, error) {
	if s.readErr != nil && s.pos == 1 {
		return nil, s.readErr
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *fakeSource) FPS() float64 { return s.fps }
func (s *fakeSource) Width() int   { return s.frames[0].Bounds().Dx() }
func (s *fakeSource) Height() int  { return s.frames[0].Bounds().Dy() }
func (s *fakeSource) Close() error { s.closed = true; return nil }

type fakeSink struct {
	writes  []*image.RGBA
	failAt  int
	closed  bool
	gotFPS  float64
	gotSize image.Point
}

func (s *fakeSink) Write(img *image.RGBA) error {
	if s.failAt >= 0 && len(s.writes) == s.failAt {
		return errors.New("disk full")
	}
	s.writes = append(s.writes, img)
	return nil
}

func (s *fakeSink) Close() error { s.closed = true; return nil }

type scriptedFaces struct {
	results [][]types.BoundingBox
	calls   int
	sizes   []image.Rectangle
	err     error
}

func (f *scriptedFaces) Detect(img image.Image, opts detect.Options) ([]types.BoundingBox, error) {
	f.sizes = append(f.sizes, img.Bounds())
	if f.err != nil {
		return nil, f.err
	}
	var out []types.BoundingBox
	if f.calls < len(f.results) {
		out = f.results[f.calls]
	}
	f.calls++
	return out, nil
}

type scriptedActivity struct {
	obs   []types.ActivityObservation
	calls int
}

func (a *scriptedActivity) Detect(img image.Image) (types.ActivityObservation, error) {
	o := a.obs[a.calls%len(a.obs)]
	a.calls++
	return o, nil
}

type scriptedAnomaly struct {
	flags []bool
	calls int
}

func (a *scriptedAnomaly) Observe(score float64) bool {
	f := a.flags[a.calls%len(a.flags)]
	a.calls++
	return f
}

type fakeEmotions struct {
	label   string
	err     error
	regions []image.Rectangle
}

func (e *fakeEmotions) Classify(ctx context.Context, region image.Image) (string, error) {
	e.regions = append(e.regions, region.Bounds())
	return e.label, e.err
}

type countingProgress struct{ n int }

func (c *countingProgress) Add(n int) error { c.n += n; return nil }

// --- helpers ---

func solidFrame(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func frames(n int) []*image.RGBA {
	out := make([]*image.RGBA, n)
	for i := range out {
		out[i] = solidFrame(64, 48, uint8(i*10))
	}
	return out
}

type harness struct {
	p      *Pipeline
	src    *fakeSource
	sink   *fakeSink
	opts   Options
	dir    string
	opened bool
}

func newHarness(t *testing.T, src *fakeSource, faces FaceDetector) *harness {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.mp4")
	require.NoError(t, os.WriteFile(input, []byte("video"), 0644))

	h := &harness{src: src, sink: &fakeSink{failAt: -1}, dir: dir}
	h.p = &Pipeline{
		OpenSource: func(ctx context.Context, path string) (FrameSource, error) {
			h.opened = true
			return h.src, nil
		},
		OpenSink: func(ctx context.Context, path string, fps float64, width, height int) (FrameSink, error) {
			h.sink.gotFPS = fps
			h.sink.gotSize = image.Pt(width, height)
			return h.sink, nil
		},
		Faces: faces,
	}
	h.opts = Options{
		Input:        input,
		OutputVideo:  filepath.Join(dir, "out", "analysis.mp4"),
		MetadataPath: filepath.Join(dir, "out", "analysis.jsonl"),
		FrameStep:    1,
		Detect:       detect.DefaultOptions(),
		FacePadding:  detect.DefaultFacePadding,
	}
	return h
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line: %s", sc.Text())
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func faceBox() types.BoundingBox {
	return types.BoundingBox{Top: 10, Right: 30, Bottom: 30, Left: 10}
}

// --- tests ---

func TestRun_EndToEndScenario(t *testing.T) {
	faces := &scriptedFaces{results: [][]types.BoundingBox{{faceBox()}, {}, {faceBox()}}}
	h := newHarness(t, &fakeSource{frames: frames(3), fps: 10}, faces)
	h.p.Emotions = &fakeEmotions{label: "happy"}
	h.p.NewActivity = func() ActivityDetector {
		return &scriptedActivity{obs: []types.ActivityObservation{
			{Label: types.ActivityIdle, MovementScore: 0.001},
			{Label: types.ActivityHighMotion, MovementScore: 0.3},
			{Label: types.ActivityIdle, MovementScore: 0.001},
		}}
	}
	h.p.NewAnomaly = func() AnomalyDetector { return &scriptedAnomaly{flags: []bool{false, true, false}} }
	h.opts.FullMetadata = true

	res, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)
	assert.Equal(t, StateDone, h.p.State())

	require.NotNil(t, res.Summary)
	s := res.Summary
	assert.Equal(t, 3, s.FramesProcessed)
	assert.Equal(t, 2, s.FacesDetected)
	assert.Equal(t, 1, s.AnomaliesDetected)
	assert.Equal(t, map[string]int{"happy": 2}, s.Emotions.Map())
	assert.Equal(t, map[string]int{"idle": 2, "high_motion": 1}, s.Activities.Map())
	assert.Equal(t, "idle", s.TopActivities[0].Label)

	lines := readLines(t, h.opts.MetadataPath)
	require.Len(t, lines, 4)

	first := lines[0]
	assert.Equal(t, float64(0), first["frame_index"])
	assert.Equal(t, float64(1), first["face_count"])
	assert.Equal(t, []any{[]any{10.0, 30.0, 30.0, 10.0}}, first["boxes"])
	assert.Equal(t, []any{"happy"}, first["emotions"])
	assert.Equal(t, "idle", first["activity"])
	assert.Equal(t, false, first["is_anomaly"])

	second := lines[1]
	assert.Equal(t, 0.1, second["timestamp"])
	assert.Equal(t, []any{}, second["boxes"])
	assert.Equal(t, []any{}, second["emotions"])
	assert.Equal(t, true, second["is_anomaly"])

	summary, ok := lines[3]["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), summary["frames_processed"])
	assert.Equal(t, map[string]any{"happy": 2.0}, summary["emotions"])

	assert.Len(t, h.sink.writes, 3)
	assert.True(t, h.src.closed)
	assert.True(t, h.sink.closed)
	assert.Equal(t, 10.0, h.sink.gotFPS)
	assert.Equal(t, image.Pt(64, 48), h.sink.gotSize)
}

func TestRun_SummaryOnlyByDefault(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(4), fps: 25}, &scriptedFaces{})

	res, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)

	lines := readLines(t, h.opts.MetadataPath)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "summary")
	assert.Equal(t, 4, res.Summary.FramesProcessed)
	assert.Equal(t, 0, res.Summary.FacesDetected)
}

func TestRun_StridePassesFramesThrough(t *testing.T) {
	src := &fakeSource{frames: frames(7), fps: 25}
	faces := &scriptedFaces{}
	h := newHarness(t, src, faces)
	h.opts.FrameStep = 3
	progress := &countingProgress{}
	h.p.Progress = progress

	res, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)

	// indices 0, 3 and 6 are analyzed
	assert.Equal(t, 3, faces.calls)
	assert.Equal(t, 3, res.Summary.FramesProcessed)
	assert.Equal(t, 7, res.FramesRead)
	assert.Equal(t, 7, progress.n)

	require.Len(t, h.sink.writes, 7)
	for _, i := range []int{1, 2, 4, 5} {
		assert.Same(t, src.frames[i], h.sink.writes[i], "frame %d must pass through untouched", i)
	}
	assert.NotSame(t, src.frames[0], h.sink.writes[0])
}

func TestRun_MaxFramesCountsAnalyzedOnly(t *testing.T) {
	faces := &scriptedFaces{}
	h := newHarness(t, &fakeSource{frames: frames(10), fps: 25}, faces)
	h.opts.FrameStep = 2
	h.opts.MaxFrames = 2

	res, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Summary.FramesProcessed)
	assert.Equal(t, 3, res.FramesRead) // 0, 1 (skipped), 2
	assert.Len(t, h.sink.writes, 3)
}

func TestRun_ResizeMapsBoxesBack(t *testing.T) {
	faces := &scriptedFaces{results: [][]types.BoundingBox{{{Top: 5, Right: 15, Bottom: 15, Left: 5}}}}
	h := newHarness(t, &fakeSource{frames: frames(1), fps: 25}, faces)
	h.opts.ResizeWidth = 32
	h.opts.FullMetadata = true
	emotions := &fakeEmotions{label: "sad"}
	h.p.Emotions = emotions

	_, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)

	require.Len(t, faces.sizes, 1)
	assert.Equal(t, image.Rect(0, 0, 32, 24), faces.sizes[0])

	lines := readLines(t, h.opts.MetadataPath)
	assert.Equal(t, []any{[]any{10.0, 30.0, 30.0, 10.0}}, lines[0]["boxes"])

	// 20x20 face, 15% padding = 3px per side, cropped from the full frame
	require.Len(t, emotions.regions, 1)
	assert.Equal(t, image.Rect(7, 7, 33, 33), emotions.regions[0])
}

func TestRun_EmotionFailuresBecomeUnknown(t *testing.T) {
	outside := types.BoundingBox{Top: 100, Right: 120, Bottom: 120, Left: 100}
	faces := &scriptedFaces{results: [][]types.BoundingBox{{faceBox(), outside}}}
	h := newHarness(t, &fakeSource{frames: frames(1), fps: 25}, faces)
	emotions := &fakeEmotions{err: errors.New("model crashed")}
	h.p.Emotions = emotions

	res, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"unknown": 2}, res.Summary.Emotions.Map())
	// the box outside the frame has an empty region and is never sent
	assert.Len(t, emotions.regions, 1)
}

func TestRun_NoClassifierLabelsUnknown(t *testing.T) {
	faces := &scriptedFaces{results: [][]types.BoundingBox{{faceBox()}}}
	h := newHarness(t, &fakeSource{frames: frames(1), fps: 25}, faces)

	res, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Emotions.Get(types.EmotionUnknown))
}

func TestRun_DefaultAnomalyWindow(t *testing.T) {
	var obs []types.ActivityObservation
	for i := 0; i < 5; i++ {
		obs = append(obs, types.ActivityObservation{Label: types.ActivityIdle, MovementScore: 0.01})
	}
	obs = append(obs, types.ActivityObservation{Label: types.ActivityHighMotion, MovementScore: 0.1})

	h := newHarness(t, &fakeSource{frames: frames(6), fps: 25}, &scriptedFaces{})
	h.p.NewActivity = func() ActivityDetector { return &scriptedActivity{obs: obs} }

	res, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.AnomaliesDetected)
}

func TestRun_PixelDifferenceByDefault(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(2), fps: 25}, &scriptedFaces{})

	res, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)

	// first frame has no history; the second differs by 10/255 > 0.03
	assert.Equal(t, 1, res.Summary.Activities.Get(types.ActivityUnknown))
	assert.Equal(t, 1, res.Summary.Activities.Get(types.ActivityLowMotion))
}

func TestRun_FacesOnly(t *testing.T) {
	faces := &scriptedFaces{results: [][]types.BoundingBox{{faceBox()}, {}}}
	h := newHarness(t, &fakeSource{frames: frames(2), fps: 4}, faces)
	h.opts.FacesOnly = true
	emotions := &fakeEmotions{label: "happy"}
	h.p.Emotions = emotions

	res, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)
	assert.Nil(t, res.Summary)
	assert.Equal(t, 1, res.FacesDetected)
	assert.Empty(t, emotions.regions)

	lines := readLines(t, h.opts.MetadataPath)
	require.Len(t, lines, 2)
	assert.Equal(t, float64(1), lines[0]["face_count"])
	assert.Equal(t, 0.25, lines[1]["timestamp"])
	assert.NotContains(t, lines[0], "activity")
	for _, l := range lines {
		assert.NotContains(t, l, "summary")
	}
}

func TestRun_InputNotFound(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(1)}, &scriptedFaces{})
	h.opts.Input = filepath.Join(h.dir, "missing.mp4")

	res, err := h.p.Run(context.Background(), h.opts)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInputNotFound)
	assert.Equal(t, StateError, h.p.State())
	assert.False(t, h.opened)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, h.opts.Input, se.Path)
}

func TestRun_InputIsDirectory(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(1)}, &scriptedFaces{})
	h.opts.Input = h.dir

	res, err := h.p.Run(context.Background(), h.opts)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInputOpen)
	assert.NotErrorIs(t, err, ErrInputNotFound)
	assert.Equal(t, StateError, h.p.State())
	assert.False(t, h.opened)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "input", se.Stage)
	assert.Equal(t, h.dir, se.Path)
}

func TestRun_OutputMustDifferFromInput(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(1)}, &scriptedFaces{})
	h.opts.OutputVideo = h.opts.Input

	_, err := h.p.Run(context.Background(), h.opts)
	assert.ErrorIs(t, err, ErrSinkOpen)
	assert.False(t, h.opened)
}

func TestRun_SourceOpenFailure(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(1)}, &scriptedFaces{})
	h.p.OpenSource = func(ctx context.Context, path string) (FrameSource, error) {
		return nil, errors.New("moov atom not found")
	}

	_, err := h.p.Run(context.Background(), h.opts)
	assert.ErrorIs(t, err, ErrInputOpen)
	assert.Contains(t, err.Error(), "moov atom not found")
}

func TestRun_SinkOpenFailureClosesSource(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(1)}, &scriptedFaces{})
	h.p.OpenSink = func(ctx context.Context, path string, fps float64, w, hh int) (FrameSink, error) {
		return nil, errors.New("no encoder")
	}

	_, err := h.p.Run(context.Background(), h.opts)
	assert.ErrorIs(t, err, ErrSinkOpen)
	assert.True(t, h.src.closed)
}

func TestRun_MetadataOpenFailure(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(1)}, &scriptedFaces{})
	// a directory where the file should go
	h.opts.MetadataPath = h.dir

	_, err := h.p.Run(context.Background(), h.opts)
	assert.ErrorIs(t, err, ErrMetadataOpen)
	assert.True(t, h.src.closed)
	assert.True(t, h.sink.closed)
}

func TestRun_SinkWriteFailureIsFatal(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(3)}, &scriptedFaces{})
	h.sink.failAt = 1

	res, err := h.p.Run(context.Background(), h.opts)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrWrite)
	assert.Equal(t, StateError, h.p.State())
	assert.True(t, h.src.closed)
	assert.True(t, h.sink.closed)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Frame)
	assert.Equal(t, "sink", se.Stage)

	// no summary after a fatal error
	for _, l := range readLines(t, h.opts.MetadataPath) {
		assert.NotContains(t, l, "summary")
	}
}

func TestRun_DecodeFailure(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(3), readErr: errors.New("corrupt packet")}, &scriptedFaces{})

	_, err := h.p.Run(context.Background(), h.opts)
	assert.ErrorIs(t, err, ErrInputRead)
}

func TestRun_DetectorFailureIsFatal(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(2)}, &scriptedFaces{err: errors.New("worker died")})

	_, err := h.p.Run(context.Background(), h.opts)
	assert.ErrorIs(t, err, ErrDetector)
	assert.Contains(t, err.Error(), "worker died")
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(3)}, &scriptedFaces{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.p.Run(ctx, h.opts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, h.src.closed)
	assert.Empty(t, readLines(t, h.opts.MetadataPath))
}

func TestRun_Reusable(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: frames(2), fps: 25}, &scriptedFaces{})
	first, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)

	h.src = &fakeSource{frames: frames(2), fps: 25}
	second, err := h.p.Run(context.Background(), h.opts)
	require.NoError(t, err)

	assert.Equal(t, first.Summary.FramesProcessed, second.Summary.FramesProcessed)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestStageErrorMessage(t *testing.T) {
	err := stageErr("sink", "out.mp4", 4, ErrWrite, errors.New("broken pipe"))
	assert.Equal(t, "sink: write failed (out.mp4) at frame 4: broken pipe", err.Error())
	assert.ErrorIs(t, err, ErrWrite)

	bare := stageErr("input", "", -1, ErrInputNotFound, nil)
	assert.Equal(t, "input: input not found", bare.Error())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "STREAMING", StateStreaming.String())
	assert.Equal(t, "State(9)", State(9).String())
}
