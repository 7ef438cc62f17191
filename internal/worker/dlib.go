//go:build dlib

package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/Kagami/go-face"
	"github.com/andresmejia3/facevote/internal/types"
)

// DlibDetector runs detection in-process through go-face.
// Needs shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat
// and mmod_human_face_detector.dat (cnn mode) in the models directory.
type DlibDetector struct {
	rec  *face.Recognizer
	mode string
}

func NewDlibDetector(modelsDir, mode string) (Detector, error) {
	if err := types.ValidateMode(mode); err != nil {
		return nil, err
	}
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", modelsDir, err)
	}
	return &DlibDetector{rec: rec, mode: mode}, nil
}

func (d *DlibDetector) Detect(ctx context.Context, img []byte) ([]types.DetectedFace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// go-face only reads JPEG
	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDecode, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 95}); err != nil {
		return nil, err
	}

	var faces []face.Face
	if d.mode == types.ModeCNN {
		faces, err = d.rec.RecognizeCNN(buf.Bytes())
	} else {
		faces, err = d.rec.Recognize(buf.Bytes())
	}
	if err != nil {
		return nil, fmt.Errorf("dlib detection failed: %w", err)
	}

	out := make([]types.DetectedFace, 0, len(faces))
	for _, f := range faces {
		vec := make(types.Embedding, len(f.Descriptor))
		for i, v := range f.Descriptor {
			vec[i] = float64(v)
		}
		r := f.Rectangle
		out = append(out, types.DetectedFace{
			Box: types.BoundingBox{r.Min.Y, r.Max.X, r.Max.Y, r.Min.X},
			Vec: vec,
		})
	}
	return out, nil
}

func (d *DlibDetector) Close() error {
	d.rec.Close()
	return nil
}
