package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/watchtower/internal/types"
	"github.com/andresmejia3/watchtower/internal/utils" // Using the SafeCommand wrapper
)

// Operation codes understood by the analyzer script.
const (
	OpDetectFaces  byte = 1
	OpEstimatePose byte = 2
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

// Config controls how the Python analyzer is launched and spoken to.
type Config struct {
	Python      string
	Script      string
	ReadTimeout time.Duration
	JPEGQuality int
}

// DefaultConfig returns the stock launcher settings.
func DefaultConfig() Config {
	return Config{
		Python:      "python3",
		Script:      "python/analyzer.py",
		ReadTimeout: 30 * time.Second,
		JPEGQuality: 90,
	}
}

// PythonWorker drives one analyzer process. It serves both the primary face
// detector and the pose estimator.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	cfg      Config
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		cfg:      cfg,
	}, nil
}

// Communicate sends one request and returns the JSON body of the reply.
//
// Request:  [len u32][op u8][hdrLen u32][hdr JSON][JPEG bytes]
// Response: [len u32][status u8][JSON body]        on success
//
//	[len u32][status u8][msgLen u32][msg]    on failure
func (w *PythonWorker) Communicate(op byte, header any, img image.Image) ([]byte, error) {
	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	var frame []byte
	if img != nil {
		if frame, err = utils.EncodeJPEG(img, w.quality()); err != nil {
			return nil, fmt.Errorf("encode frame: %w", err)
		}
	}

	total := 1 + 4 + len(hdr) + len(frame)
	buf := make([]byte, 0, 4+total)
	buf = binary.BigEndian.AppendUint32(buf, uint32(total))
	buf = append(buf, op)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(hdr)))
	buf = append(buf, hdr...)
	buf = append(buf, frame...)
	if _, err := w.Stdin.Write(buf); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.cfg.ReadTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	}

	header4 := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header4); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}
	respLen := binary.BigEndian.Uint32(header4)
	if respLen == 0 {
		return nil, errors.New("python worker sent an empty response")
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return nil, err
	}

	switch body[0] {
	case statusOK:
		return body[1:], nil
	case statusError:
		if len(body) < 5 {
			return nil, errors.New("python worker error: truncated message")
		}
		msgLen := binary.BigEndian.Uint32(body[1:5])
		if int(msgLen) > len(body)-5 {
			return nil, errors.New("python worker error: truncated message")
		}
		return nil, fmt.Errorf("python worker error: %s", body[5:5+msgLen])
	default:
		return nil, fmt.Errorf("python worker sent unknown status %d", body[0])
	}
}

type detectRequest struct {
	Model    string `json:"model"`
	Upsample int    `json:"upsample"`
}

type detectResponse struct {
	Boxes []types.BoundingBox `json:"boxes"`
}

// Detect runs the primary face detector on img.
func (w *PythonWorker) Detect(img image.Image, model string, upsample int) ([]types.BoundingBox, error) {
	body, err := w.Communicate(OpDetectFaces, detectRequest{Model: model, Upsample: upsample}, img)
	if err != nil {
		return nil, err
	}
	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("worker %d JSON malformed: %w", w.ID, err)
	}
	return resp.Boxes, nil
}

type poseResponse struct {
	Landmarks types.Landmarks `json:"landmarks"`
}

// Estimate returns pose landmarks for img; ok is false when nobody was found.
func (w *PythonWorker) Estimate(img image.Image) (types.Landmarks, bool, error) {
	body, err := w.Communicate(OpEstimatePose, struct{}{}, img)
	if err != nil {
		return nil, false, err
	}
	var resp poseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("worker %d JSON malformed: %w", w.ID, err)
	}
	return resp.Landmarks, len(resp.Landmarks) > 0, nil
}

func (w *PythonWorker) quality() int {
	if w.cfg.JPEGQuality <= 0 {
		return 90
	}
	return w.cfg.JPEGQuality
}

// Close shuts the pipes and waits for the process to exit.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
