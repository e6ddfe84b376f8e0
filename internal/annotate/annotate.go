package annotate

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/andresmejia3/watchtower/internal/types"
	"github.com/andresmejia3/watchtower/internal/utils"
)

var (
	BoxColor      = color.RGBA{0, 255, 0, 255}
	EmotionColor  = color.RGBA{255, 255, 0, 255}
	ActivityColor = color.RGBA{0, 255, 255, 255}
)

const (
	boxThickness = 2
	labelLift    = 10
)

// ActivityOrigin is the baseline origin of the activity label.
var ActivityOrigin = image.Pt(12, 28)

// Frame returns a copy of src with face boxes, one emotion label per box
// (matched by index) and, when non-empty, the activity label.
func Frame(src *image.RGBA, boxes []types.BoundingBox, emotions []string, activity string) *image.RGBA {
	out := utils.CloneRGBA(src)
	for i, b := range boxes {
		Rect(out, b.Rect(), BoxColor, boxThickness)
		if i < len(emotions) {
			Label(out, emotions[i], image.Pt(b.Left, max(b.Top-labelLift, 0)), EmotionColor)
		}
	}
	if activity != "" {
		Label(out, activity, ActivityOrigin, ActivityColor)
	}
	return out
}

// Boxes returns a copy of src with only the face boxes drawn.
func Boxes(src *image.RGBA, boxes []types.BoundingBox) *image.RGBA {
	return Frame(src, boxes, nil, "")
}

// Rect draws the outline of r, clipped to the image.
func Rect(img *image.RGBA, r image.Rectangle, col color.RGBA, thickness int) {
	r = r.Canon()
	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x <= r.Max.X; x++ {
			setPixel(img, x, r.Min.Y+t, col)
			setPixel(img, x, r.Max.Y-t, col)
		}
		for y := r.Min.Y; y <= r.Max.Y; y++ {
			setPixel(img, r.Min.X+t, y, col)
			setPixel(img, r.Max.X-t, y, col)
		}
	}
}

// Label draws text with its baseline starting at origin.
func Label(img *image.RGBA, text string, origin image.Point, col color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(origin.X, origin.Y),
	}
	d.DrawString(text)
}

// setPixel writes straight into Pix, skipping anything out of bounds.
func setPixel(img *image.RGBA, x, y int, col color.RGBA) {
	if !(image.Point{X: x, Y: y}).In(img.Rect) {
		return
	}
	off := img.PixOffset(x, y)
	img.Pix[off] = col.R
	img.Pix[off+1] = col.G
	img.Pix[off+2] = col.B
	img.Pix[off+3] = col.A
}
