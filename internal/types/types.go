package types

import (
	"fmt"
	"image"
)

// Unknown is the label reported when no stored encoding matches a face.
const Unknown = "Unknown"

// EmbeddingDim is the length of the encodings produced by both detector backends.
const EmbeddingDim = 128

// Embedding is a face's identity signature (128-d for dlib based models).
type Embedding []float64

// BoundingBox is a face location in pixels as [top, right, bottom, left].
type BoundingBox [4]int

func (b BoundingBox) Top() int    { return b[0] }
func (b BoundingBox) Right() int  { return b[1] }
func (b BoundingBox) Bottom() int { return b[2] }
func (b BoundingBox) Left() int   { return b[3] }

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.Left(), b.Top(), b.Right(), b.Bottom())
}

// Width returns the horizontal size of the box in pixels.
func (b BoundingBox) Width() int {
	return b.Right() - b.Left()
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", b[0], b[1], b[2], b[3])
}

// DetectedFace is a single face returned by a detector backend.
type DetectedFace struct {
	Box BoundingBox
	Vec Embedding
}

// LabeledEncoding pairs a training embedding with the person it belongs to.
type LabeledEncoding struct {
	Label string
	Vec   Embedding
}

// Recognition is the pipeline result for one detected face.
type Recognition struct {
	Box   BoundingBox
	Label string
}
