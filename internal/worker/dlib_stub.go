//go:build !dlib

package worker

import "errors"

// NewDlibDetector is unavailable unless the binary is built with -tags dlib.
func NewDlibDetector(modelsDir, mode string) (Detector, error) {
	return nil, errors.New("dlib backend not compiled in (rebuild with -tags dlib)")
}
