package video

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/andresmejia3/watchtower/internal/utils"
)

// RawSink writes frames as packed RGBA of a fixed size.
type RawSink struct {
	w      io.Writer
	width  int
	height int
}

func NewRawSink(w io.Writer, width, height int) *RawSink {
	return &RawSink{w: w, width: width, height: height}
}

// Write emits one frame. Frames must match the sink geometry.
func (s *RawSink) Write(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		return fmt.Errorf("frame is %dx%d, sink expects %dx%d", b.Dx(), b.Dy(), s.width, s.height)
	}

	rowLen := s.width * 4
	if img.Stride == rowLen {
		_, err := s.w.Write(img.Pix[:rowLen*s.height])
		return err
	}
	for y := 0; y < s.height; y++ {
		off := y * img.Stride
		if _, err := s.w.Write(img.Pix[off : off+rowLen]); err != nil {
			return err
		}
	}
	return nil
}

// FFmpegSink encodes frames into a video file through an ffmpeg subprocess.
type FFmpegSink struct {
	*RawSink
	Cmd   *utils.SafeCommand
	stdin io.WriteCloser
}

// OpenSink creates the parent directory of path and starts the encoder.
func OpenSink(ctx context.Context, path string, fps float64, width, height int) (*FFmpegSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	cmd := utils.NewFFmpegEncoder(ctx, path, fps, width, height)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get encoder stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	return &FFmpegSink{
		RawSink: NewRawSink(stdin, width, height),
		Cmd:     cmd,
		stdin:   stdin,
	}, nil
}

func (s *FFmpegSink) Write(img *image.RGBA) error {
	if err := s.RawSink.Write(img); err != nil {
		return fmt.Errorf("encoder write: %w", err)
	}
	return nil
}

// Close flushes the encoder by closing its stdin and waits for it to exit.
func (s *FFmpegSink) Close() error {
	closeErr := s.stdin.Close()
	if err := s.Cmd.Wait(); err != nil {
		return fmt.Errorf("encoder failed: %w: %s", err, s.Cmd.Stderr.String())
	}
	return closeErr
}
