package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/watchtower/internal/utils"
)

// RawSource reads packed RGBA frames of a fixed size from a stream.
type RawSource struct {
	r      io.Reader
	fps    float64
	width  int
	height int
}

func NewRawSource(r io.Reader, fps float64, width, height int) *RawSource {
	return &RawSource{r: r, fps: fps, width: width, height: height}
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
// A trailing partial frame is treated as the end of the stream.
func (s *RawSource) Next() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	if _, err := io.ReadFull(s.r, img.Pix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return img, nil
}

func (s *RawSource) FPS() float64 { return s.fps }
func (s *RawSource) Width() int   { return s.width }
func (s *RawSource) Height() int  { return s.height }

// FFmpegSource decodes a video file through an ffmpeg subprocess.
type FFmpegSource struct {
	*RawSource
	Cmd    *utils.SafeCommand
	stdout io.ReadCloser
	done   bool
}

// OpenSource probes path for its geometry and starts the decoder.
func OpenSource(ctx context.Context, path string) (*FFmpegSource, error) {
	fps, width, height, err := utils.GetVideoInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid video dimensions %dx%d", width, height)
	}

	cmd := utils.NewFFmpegRawDecoder(ctx, path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get decoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}

	return &FFmpegSource{
		RawSource: NewRawSource(stdout, fps, width, height),
		Cmd:       cmd,
		stdout:    stdout,
	}, nil
}

func (s *FFmpegSource) Next() (*image.RGBA, error) {
	img, err := s.RawSource.Next()
	if err == io.EOF {
		s.done = true
	}
	return img, err
}

// Close reaps the decoder. When the stream was abandoned before EOF the
// decoder dies on a broken pipe, so its exit status is not reported.
func (s *FFmpegSource) Close() error {
	_ = s.stdout.Close()
	err := s.Cmd.Wait()
	if err != nil && s.done {
		return fmt.Errorf("decoder failed: %w: %s", err, s.Cmd.Stderr.String())
	}
	return nil
}
