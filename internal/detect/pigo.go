package detect

import (
	"fmt"
	"image"
	"math"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/andresmejia3/watchtower/internal/types"
)

const (
	cascadeShiftFactor  = 0.1
	cascadeIoUThreshold = 0.2
	// Minimum pigo quality score for a merged detection
	cascadeQualityThreshold = 5.0
)

// PigoCascade adapts a pigo pixel-comparison cascade to the Cascade interface.
type PigoCascade struct {
	Name       string
	classifier *pigo.Pigo
}

// LoadPigoCascade reads and unpacks a binary cascade file.
func LoadPigoCascade(name, path string) (*PigoCascade, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s cascade: %w", name, err)
	}
	return NewPigoCascade(name, data)
}

// NewPigoCascade unpacks an in-memory cascade.
func NewPigoCascade(name string, data []byte) (*PigoCascade, error) {
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s cascade: %w", name, err)
	}
	return &PigoCascade{Name: name, classifier: classifier}, nil
}

// Detect runs the cascade over gray. A merged detection survives only when its
// quality reaches cascadeQualityThreshold and at least minNeighbors raw
// windows overlap it.
func (p *PigoCascade) Detect(gray *image.Gray, scaleFactor float64, minNeighbors, minSize int) []types.BoundingBox {
	rows, cols := gray.Bounds().Dy(), gray.Bounds().Dx()
	if rows == 0 || cols == 0 {
		return nil
	}

	params := pigo.CascadeParams{
		MinSize:     minSize,
		MaxSize:     max(rows, cols),
		ShiftFactor: cascadeShiftFactor,
		ScaleFactor: scaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: gray.Pix,
			Rows:   rows,
			Cols:   cols,
			Dim:    gray.Stride,
		},
	}

	raw := p.classifier.RunCascade(params, 0.0)
	merged := p.classifier.ClusterDetections(raw, cascadeIoUThreshold)

	return keepDetections(merged, raw, minNeighbors)
}

func keepDetections(merged, raw []pigo.Detection, minNeighbors int) []types.BoundingBox {
	var boxes []types.BoundingBox
	for _, det := range merged {
		if det.Q < cascadeQualityThreshold {
			continue
		}
		if countNeighbors(det, raw) < minNeighbors {
			continue
		}
		boxes = append(boxes, detectionBox(det))
	}
	return boxes
}

// detectionBox converts a pigo center/size detection to a bounding box.
func detectionBox(det pigo.Detection) types.BoundingBox {
	half := det.Scale / 2
	return types.BoundingBox{
		Top:    det.Row - half,
		Right:  det.Col - half + det.Scale,
		Bottom: det.Row - half + det.Scale,
		Left:   det.Col - half,
	}
}

func countNeighbors(det pigo.Detection, raw []pigo.Detection) int {
	n := 0
	for _, r := range raw {
		if squareIoU(det, r) > cascadeIoUThreshold {
			n++
		}
	}
	return n
}

func squareIoU(a, b pigo.Detection) float64 {
	ba, bb := detectionBox(a), detectionBox(b)
	ix := math.Max(0, float64(min(ba.Right, bb.Right)-max(ba.Left, bb.Left)))
	iy := math.Max(0, float64(min(ba.Bottom, bb.Bottom)-max(ba.Top, bb.Top)))
	inter := ix * iy
	union := float64(a.Scale*a.Scale+b.Scale*b.Scale) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
