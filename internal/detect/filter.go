package detect

import "github.com/andresmejia3/watchtower/internal/types"

const (
	DefaultMinFaceSize = 40
	DefaultMinRatio    = 0.6
	DefaultMaxRatio    = 1.6
)

// FilterOptions bounds what counts as a plausible face box.
type FilterOptions struct {
	MinSize  int     // minimum width and height in pixels
	MinRatio float64 // minimum width/height
	MaxRatio float64 // maximum width/height
}

// DefaultFilterOptions returns the stock thresholds.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		MinSize:  DefaultMinFaceSize,
		MinRatio: DefaultMinRatio,
		MaxRatio: DefaultMaxRatio,
	}
}

// FilterFaces drops boxes that are too small, leave the width x height frame,
// or have an implausible aspect ratio. Survivors keep their input order.
func FilterFaces(width, height int, boxes []types.BoundingBox, opts FilterOptions) []types.BoundingBox {
	filtered := make([]types.BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		if Accept(width, height, b, opts) {
			filtered = append(filtered, b)
		}
	}
	return filtered
}

// Accept reports whether a single box passes every filter predicate.
func Accept(width, height int, b types.BoundingBox, opts FilterOptions) bool {
	w, h := b.Width(), b.Height()
	if w < opts.MinSize || h < opts.MinSize {
		return false
	}
	if b.Top < 0 || b.Left < 0 || b.Right > width || b.Bottom > height {
		return false
	}
	// zero height reads as ratio 0 and never passes
	if h == 0 {
		return false
	}
	ratio := float64(w) / float64(h)
	return ratio >= opts.MinRatio && ratio <= opts.MaxRatio
}
