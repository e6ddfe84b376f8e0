package detect

import "github.com/andresmejia3/watchtower/internal/types"

// DefaultFacePadding is the fraction of the box size added on every side
// before a face is cropped for emotion classification.
const DefaultFacePadding = 0.15

// ExpandBox grows b by padding on each side and clamps the result to the
// width x height frame.
func ExpandBox(b types.BoundingBox, width, height int, padding float64) types.BoundingBox {
	padY := int(float64(b.Height()) * padding)
	padX := int(float64(b.Width()) * padding)
	return types.BoundingBox{
		Top:    max(0, b.Top-padY),
		Right:  min(width, b.Right+padX),
		Bottom: min(height, b.Bottom+padY),
		Left:   max(0, b.Left-padX),
	}
}
