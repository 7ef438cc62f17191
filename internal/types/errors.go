package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an image or the encoding store does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCorruptData is returned when a store exists but cannot be parsed.
	ErrCorruptData = errors.New("corrupt encoding store")
	// ErrDecode is returned when image bytes cannot be decoded.
	ErrDecode = errors.New("cannot decode image")
	// ErrUnsupportedMode is returned for detection modes other than hog and cnn.
	ErrUnsupportedMode = errors.New("unsupported detection mode")
)

// Detection modes understood by the detector backends.
const (
	ModeHOG = "hog"
	ModeCNN = "cnn"
)

// ValidateMode checks a detection mode before any work is started.
func ValidateMode(mode string) error {
	switch mode {
	case ModeHOG, ModeCNN:
		return nil
	}
	return fmt.Errorf("%w %q (use %s or %s)", ErrUnsupportedMode, mode, ModeHOG, ModeCNN)
}
