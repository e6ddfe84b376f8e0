package types

import (
	"encoding/json"
	"fmt"
	"image"
	"strconv"
)

// Frame is one decoded source frame. Index counts every source frame,
// including the ones skipped by the stride.
type Frame struct {
	Index     int
	Timestamp float64
	Image     *image.RGBA
}

// FrameTimestamp returns index/fps, or 0 when the rate is unknown.
func FrameTimestamp(index int, fps float64) float64 {
	if fps <= 0 {
		return 0.0
	}
	return float64(index) / fps
}

// BoundingBox is a face location in [top, right, bottom, left] order.
type BoundingBox struct {
	Top    int
	Right  int
	Bottom int
	Left   int
}

func (b BoundingBox) Width() int  { return b.Right - b.Left }
func (b BoundingBox) Height() int { return b.Bottom - b.Top }

// Rect converts the box into an image.Rectangle (x0, y0, x1, y1).
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// MarshalJSON encodes the box as [top, right, bottom, left].
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 32)
	out = append(out, '[')
	for i, v := range [4]int{b.Top, b.Right, b.Bottom, b.Left} {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendInt(out, int64(v), 10)
	}
	return append(out, ']'), nil
}

// Landmark is one normalized pose keypoint; (0,0) is the top-left corner.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmarks uses the 33-point MediaPipe pose topology.
type Landmarks []Landmark

const (
	LeftShoulder  = 11
	RightShoulder = 12
	LeftWrist     = 15
	RightWrist    = 16
)

// Activity labels.
const (
	ActivityUnknown    = "unknown"
	ActivityIdle       = "idle"
	ActivityLowMotion  = "low_motion"
	ActivityHighMotion = "high_motion"
	ActivityGesturing  = "gesturing"
)

// EmotionUnknown is reported whenever a face could not be classified.
const EmotionUnknown = "unknown"

// FaceObservation pairs a detected face with its emotion label.
type FaceObservation struct {
	Box     BoundingBox
	Emotion string
}

// ActivityObservation is the per-frame activity label and movement score.
type ActivityObservation struct {
	Label         string
	MovementScore float64
}

// FrameRecord is one line of full per-frame metadata.
type FrameRecord struct {
	FrameIndex  int           `json:"frame_index"`
	Timestamp   float64       `json:"timestamp"`
	FaceCount   int           `json:"face_count"`
	Boxes       []BoundingBox `json:"boxes"`
	Emotions    []string      `json:"emotions"`
	Activity    string        `json:"activity"`
	MotionScore float64       `json:"motion_score"`
	IsAnomaly   bool          `json:"is_anomaly"`
}

// FaceRecord is the per-frame line written by the face-only pipeline.
type FaceRecord struct {
	FrameIndex int           `json:"frame_index"`
	Timestamp  float64       `json:"timestamp"`
	FaceCount  int           `json:"face_count"`
	Boxes      []BoundingBox `json:"boxes"`
}

// UnmarshalJSON accepts [top, right, bottom, left].
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var loc []int
	if err := json.Unmarshal(data, &loc); err != nil {
		return err
	}
	if len(loc) != 4 {
		return fmt.Errorf("bounding box needs 4 coordinates, got %d", len(loc))
	}
	*b = BoundingBox{Top: loc[0], Right: loc[1], Bottom: loc[2], Left: loc[3]}
	return nil
}
