package detect

import (
	"fmt"
	"image"

	"github.com/andresmejia3/watchtower/internal/types"
	"github.com/andresmejia3/watchtower/internal/utils"
)

// Primary detector models and fallback strategies.
const (
	ModelHOG = "hog"
	ModelCNN = "cnn"

	FallbackHaar = "haar"
	FallbackNone = "none"
)

// FaceDetector is the primary detection strategy.
type FaceDetector interface {
	Detect(img image.Image, model string, upsample int) ([]types.BoundingBox, error)
}

// Cascade is a secondary sliding-window classifier run over a grayscale frame.
type Cascade interface {
	Detect(gray *image.Gray, scaleFactor float64, minNeighbors, minSize int) []types.BoundingBox
}

// Options configures one detection pass.
type Options struct {
	Model         string
	Upsample      int
	Fallback      string
	HaarScale     float64
	HaarNeighbors int
	Filter        FilterOptions
}

// DefaultOptions mirrors the CLI defaults.
func DefaultOptions() Options {
	return Options{
		Model:         ModelHOG,
		Upsample:      1,
		Fallback:      FallbackHaar,
		HaarScale:     1.1,
		HaarNeighbors: 5,
		Filter:        DefaultFilterOptions(),
	}
}

// Controller runs the primary detector and, when it finds nothing, the
// cascade fallback. Every result goes through FilterFaces.
// A Controller holds no per-frame state.
type Controller struct {
	Primary  FaceDetector
	Cascades []Cascade // frontal first, then profile
}

// NewController wires a primary detector with its cascade fallbacks.
func NewController(primary FaceDetector, cascades ...Cascade) *Controller {
	return &Controller{Primary: primary, Cascades: cascades}
}

// Detect returns filtered boxes in img coordinates.
func (c *Controller) Detect(img image.Image, opts Options) ([]types.BoundingBox, error) {
	bounds := img.Bounds()

	candidates, err := c.Primary.Detect(img, opts.Model, opts.Upsample)
	if err != nil {
		return nil, fmt.Errorf("primary detector (%s): %w", opts.Model, err)
	}

	if len(candidates) == 0 && opts.Fallback == FallbackHaar && len(c.Cascades) > 0 {
		gray := utils.ToGray(img)
		for _, cascade := range c.Cascades {
			candidates = append(candidates, cascade.Detect(gray, opts.HaarScale, opts.HaarNeighbors, opts.Filter.MinSize)...)
		}
	}

	return FilterFaces(bounds.Dx(), bounds.Dy(), candidates, opts.Filter), nil
}
