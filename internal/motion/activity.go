package motion

import (
	"fmt"
	"image"
	"math"

	"github.com/andresmejia3/watchtower/internal/types"
	"github.com/andresmejia3/watchtower/internal/utils"
)

// Pose thresholds on mean normalized landmark displacement.
const (
	GestureMovement   = 0.01
	PoseHighMovement  = 0.02
	PoseLowMovement   = 0.005
	PixelHighMovement = 0.08
	PixelLowMovement  = 0.03
)

// PoseEstimator returns the pose landmarks for a frame, or ok=false when no
// subject was found.
type PoseEstimator interface {
	Estimate(img image.Image) (landmarks types.Landmarks, ok bool, err error)
}

// Tracker classifies activity frame to frame. It owns the previous landmark
// set and grayscale buffer for one run and must not be shared across runs.
type Tracker struct {
	pose          PoseEstimator
	prevLandmarks types.Landmarks
	prevGray      *image.Gray
}

// NewTracker returns a Tracker. A nil pose estimator means every frame uses
// the pixel difference estimate.
func NewTracker(pose PoseEstimator) *Tracker {
	return &Tracker{pose: pose}
}

// Detect labels img and returns its movement score.
func (t *Tracker) Detect(img image.Image) (types.ActivityObservation, error) {
	gray := utils.ToGray(img)
	prevGray := t.prevGray
	t.prevGray = gray

	if t.pose != nil {
		landmarks, ok, err := t.pose.Estimate(img)
		if err != nil {
			return types.ActivityObservation{}, fmt.Errorf("pose estimation: %w", err)
		}
		if ok && len(landmarks) > 0 {
			movement := Movement(landmarks, t.prevLandmarks)
			t.prevLandmarks = landmarks
			return types.ActivityObservation{
				Label:         ClassifyPose(landmarks, movement),
				MovementScore: movement,
			}, nil
		}
		// lost track; the next pose frame starts from zero movement
		t.prevLandmarks = nil
	}

	if prevGray == nil || prevGray.Bounds() != gray.Bounds() {
		return types.ActivityObservation{Label: types.ActivityUnknown, MovementScore: 0.0}, nil
	}
	score := FrameDifference(prevGray, gray)
	return types.ActivityObservation{Label: ClassifyMotion(score), MovementScore: score}, nil
}

// Movement is the mean Euclidean displacement across corresponding
// landmarks, or 0 without a previous set.
func Movement(current, previous types.Landmarks) float64 {
	n := min(len(current), len(previous))
	if n == 0 {
		return 0.0
	}
	var total float64
	for i := 0; i < n; i++ {
		total += math.Hypot(current[i].X-previous[i].X, current[i].Y-previous[i].Y)
	}
	return total / float64(n)
}

// ArmRaised reports whether either wrist sits above its shoulder.
func ArmRaised(l types.Landmarks) bool {
	if len(l) <= types.RightWrist {
		return false
	}
	return l[types.LeftWrist].Y < l[types.LeftShoulder].Y ||
		l[types.RightWrist].Y < l[types.RightShoulder].Y
}

// ClassifyPose maps a landmark set and its movement to an activity label.
// The raised-arm check wins whenever its movement threshold is met.
func ClassifyPose(l types.Landmarks, movement float64) string {
	switch {
	case ArmRaised(l) && movement > GestureMovement:
		return types.ActivityGesturing
	case movement > PoseHighMovement:
		return types.ActivityHighMotion
	case movement > PoseLowMovement:
		return types.ActivityLowMotion
	default:
		return types.ActivityIdle
	}
}

// ClassifyMotion maps a pixel difference score to an activity label.
func ClassifyMotion(score float64) string {
	switch {
	case score > PixelHighMovement:
		return types.ActivityHighMotion
	case score > PixelLowMovement:
		return types.ActivityLowMotion
	default:
		return types.ActivityIdle
	}
}

// FrameDifference is the mean absolute pixel difference of two equally
// sized grayscale frames, normalized to [0,1].
func FrameDifference(a, b *image.Gray) float64 {
	w, h := a.Bounds().Dx(), a.Bounds().Dy()
	if w == 0 || h == 0 {
		return 0
	}
	var total uint64
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w]
		rb := b.Pix[y*b.Stride : y*b.Stride+w]
		for x := range ra {
			if ra[x] > rb[x] {
				total += uint64(ra[x] - rb[x])
			} else {
				total += uint64(rb[x] - ra[x])
			}
		}
	}
	return float64(total) / float64(w*h) / 255.0
}
