package detect

import "github.com/andresmejia3/watchtower/internal/types"

// Scale maps detection-frame coordinates back to source-frame coordinates.
type Scale struct {
	X float64
	Y float64
}

// IdentityScale is used when no resize was requested.
var IdentityScale = Scale{X: 1.0, Y: 1.0}

// NewScale computes the factors for a frame of width x height that was
// resized to resizeWidth x resizeHeight before detection.
func NewScale(width, height, resizeWidth, resizeHeight int) Scale {
	if resizeWidth <= 0 || resizeHeight <= 0 {
		return IdentityScale
	}
	return Scale{
		X: float64(width) / float64(resizeWidth),
		Y: float64(height) / float64(resizeHeight),
	}
}

// IsIdentity reports whether mapping would be a no-op.
func (s Scale) IsIdentity() bool {
	return s.X == 1.0 && s.Y == 1.0
}

// ResizeHeight keeps the aspect ratio of a width x height frame when it is
// scaled to resizeWidth.
func ResizeHeight(width, height, resizeWidth int) int {
	if width <= 0 {
		return 0
	}
	return int(float64(height) * (float64(resizeWidth) / float64(width)))
}

// ScaleBoxes multiplies top/bottom by s.Y and left/right by s.X, truncating
// toward zero. Boxes are not clamped to the source frame.
func ScaleBoxes(boxes []types.BoundingBox, s Scale) []types.BoundingBox {
	if s.IsIdentity() {
		return boxes
	}
	scaled := make([]types.BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		scaled = append(scaled, types.BoundingBox{
			Top:    int(float64(b.Top) * s.Y),
			Right:  int(float64(b.Right) * s.X),
			Bottom: int(float64(b.Bottom) * s.Y),
			Left:   int(float64(b.Left) * s.X),
		})
	}
	return scaled
}
