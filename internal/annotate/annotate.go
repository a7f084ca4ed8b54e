// Package annotate draws detection overlays on RGBA frames.
package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	// ViolationColor outlines boxes of violating detections.
	ViolationColor = color.RGBA{R: 255, A: 255}
	// LabelColor is the text colour of labels.
	LabelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// BoxThickness is the stroke width of detection rectangles in pixels.
const BoxThickness = 3

const labelPadding = 2

// Clone returns an independent RGBA copy of img.
func Clone(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// DrawRect strokes rect onto img, clipped to the image bounds.
func DrawRect(img *image.RGBA, rect image.Rectangle, c color.Color, thickness int) {
	rect = rect.Canon()
	if thickness < 1 {
		thickness = 1
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+thickness), // top
		image.Rect(rect.Min.X, rect.Max.Y-thickness, rect.Max.X, rect.Max.Y), // bottom
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+thickness, rect.Max.Y), // left
		image.Rect(rect.Max.X-thickness, rect.Min.Y, rect.Max.X, rect.Max.Y), // right
	}
	bounds := img.Bounds()
	for _, e := range edges {
		e = e.Intersect(bounds)
		if e.Empty() {
			continue
		}
		draw.Draw(img, e, src, image.Point{}, draw.Src)
	}
}

// DrawLabel writes text with a filled background. The label sits above
// anchor when there is room and below it otherwise.
func DrawLabel(img *image.RGBA, text string, anchor image.Point, below int, fg, bg color.Color) image.Rectangle {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(fg), Face: face}

	width := d.MeasureString(text).Ceil()
	metrics := face.Metrics()
	height := (metrics.Ascent + metrics.Descent).Ceil()

	top := anchor.Y - height - 2*labelPadding
	if top < img.Bounds().Min.Y {
		top = below
	}
	box := image.Rect(anchor.X, top, anchor.X+width+2*labelPadding, top+height+2*labelPadding)
	draw.Draw(img, box.Intersect(img.Bounds()), image.NewUniform(bg), image.Point{}, draw.Src)

	d.Dot = fixed.Point26_6{
		X: fixed.I(box.Min.X + labelPadding),
		Y: fixed.I(box.Min.Y+labelPadding) + metrics.Ascent,
	}
	d.DrawString(text)
	return box
}

// DrawDetection outlines box and labels it with text in the given colour.
func DrawDetection(img *image.RGBA, box image.Rectangle, text string, c color.Color) {
	DrawRect(img, box, c, BoxThickness)
	DrawLabel(img, text, box.Min, box.Max.Y+labelPadding, LabelColor, c)
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
