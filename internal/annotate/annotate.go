// Package annotate draws recognition results onto images.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/andresmejia3/facevote/internal/types"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// referenceSize is the point size labels are measured at before scaling.
const referenceSize = 10.0

// Options control the look of the annotations.
type Options struct {
	Accent      color.Color
	Text        color.Color
	Stroke      int     // rectangle line width in pixels, drawn inside the box
	Padding     int     // space around the label text
	MinFontSize float64 // labels never shrink below this size
}

// DefaultOptions returns blue boxes with white labels.
func DefaultOptions() Options {
	return Options{
		Accent:      color.RGBA{R: 0, G: 0, B: 255, A: 255},
		Text:        color.White,
		Stroke:      4,
		Padding:     3,
		MinFontSize: 10,
	}
}

var (
	fontOnce sync.Once
	goFont   *opentype.Font
	fontErr  error
)

func loadFont() (*opentype.Font, error) {
	fontOnce.Do(func() {
		goFont, fontErr = opentype.Parse(goregular.TTF)
	})
	return goFont, fontErr
}

func newFace(size float64) (font.Face, error) {
	f, err := loadFont()
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingNone})
}

// FontSize picks a size at which label spans roughly a third of boxWidth,
// clamped to minSize.
func FontSize(label string, boxWidth int, minSize float64) (float64, error) {
	face, err := newFace(referenceSize)
	if err != nil {
		return 0, err
	}
	defer face.Close()

	w := font.MeasureString(face, label)
	if w <= 0 || boxWidth <= 0 {
		return minSize, nil
	}
	size := referenceSize * (float64(boxWidth) / 3) / (float64(w) / 64)
	if size < minSize {
		size = minSize
	}
	return size, nil
}

// Annotate returns a copy of src with a rectangle and a label drawn for each recognition.
// src itself is never modified.
func Annotate(src image.Image, recs []types.Recognition, opts Options) (*image.RGBA, error) {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)

	accent := image.NewUniform(opts.Accent)
	text := image.NewUniform(opts.Text)

	for _, r := range recs {
		box := r.Box.Rect()
		for _, edge := range outline(box, opts.Stroke) {
			draw.Draw(dst, edge.Intersect(b), accent, image.Point{}, draw.Src)
		}

		size, err := FontSize(r.Label, r.Box.Width(), opts.MinFontSize)
		if err != nil {
			return nil, fmt.Errorf("size label %q: %w", r.Label, err)
		}
		face, err := newFace(size)
		if err != nil {
			return nil, fmt.Errorf("load font: %w", err)
		}

		bg := labelRect(face, r.Label, box, opts.Padding).Intersect(b)
		if !bg.Empty() {
			draw.Draw(dst, bg, accent, image.Point{}, draw.Src)

			// Draw through a sub-image so glyph overhang cannot leave the label background.
			canvas := dst.SubImage(bg).(*image.RGBA)
			d := &font.Drawer{
				Dst:  canvas,
				Src:  text,
				Face: face,
				Dot:  fixed.P(box.Min.X+opts.Padding, box.Max.Y+opts.Padding+face.Metrics().Ascent.Ceil()),
			}
			d.DrawString(r.Label)
		}
		face.Close()
	}
	return dst, nil
}

// outline returns the four bands making up an unfilled rectangle of the given width.
func outline(r image.Rectangle, stroke int) []image.Rectangle {
	if stroke < 1 {
		stroke = 1
	}
	return []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, min(r.Min.Y+stroke, r.Max.Y)),
		image.Rect(r.Min.X, max(r.Max.Y-stroke, r.Min.Y), r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, min(r.Min.X+stroke, r.Max.X), r.Max.Y),
		image.Rect(max(r.Max.X-stroke, r.Min.X), r.Min.Y, r.Max.X, r.Max.Y),
	}
}

// labelRect is the filled background directly below box, sized to the measured text.
func labelRect(face font.Face, label string, box image.Rectangle, pad int) image.Rectangle {
	m := face.Metrics()
	w := font.MeasureString(face, label).Ceil()
	h := m.Ascent.Ceil() + m.Descent.Ceil()
	return image.Rect(box.Min.X, box.Max.Y, box.Min.X+w+2*pad, box.Max.Y+h+2*pad)
}
