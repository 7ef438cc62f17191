package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/andresmejia3/facevote/internal/types"
	"github.com/andresmejia3/facevote/internal/utils" // Using the SafeCommand wrapper
)

// Response status bytes written by python/worker.py
const (
	statusOK          byte = 0
	statusError       byte = 1
	statusDecodeError byte = 2
)

// maxFaces guards against allocating from a garbage header.
const maxFaces = 4096

// waitDelay bounds how long Close waits for the worker's output pipes after it exits.
const waitDelay = time.Second

// PythonConfig holds the settings for spawning a face_recognition worker.
type PythonConfig struct {
	Python      string // interpreter, e.g. python3
	Script      string // path to python/worker.py
	Mode        string // hog or cnn, forwarded verbatim
	ReadTimeout time.Duration
}

// PythonWorker drives one python/worker.py subprocess.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	closed bool
}

// CrashError reports a worker that stopped answering. Cmd holds its captured stderr.
type CrashError struct {
	ID  int
	Err error
	Cmd *utils.SafeCommand
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("worker %d crashed: %v", e.ID, e.Err)
}

func (e *CrashError) Unwrap() error { return e.Err }

func NewPythonWorker(ctx context.Context, id int, cfg PythonConfig) (*PythonWorker, error) {
	if err := types.ValidateMode(cfg.Mode); err != nil {
		return nil, err
	}

	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script, "--model", cfg.Mode)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}
	// Grandchildren may keep stderr open after a kill; stop waiting on them.
	py.Cmd.WaitDelay = waitDelay

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Communicate sends one framed request and reads one framed response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		defer d.SetReadDeadline(time.Time{})
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect implements Detector. It sends encoded image bytes and parses the detected faces.
//
// Response layout: [Status] then either
// [NumFaces u32][Dim u32] followed by NumFaces x ([Box 4 x int32][Vec Dim x float64]),
// or [MsgLen u32][Msg] on error.
//
// A failed or timed out read kills the worker so its stderr is complete by
// the time the CrashError is inspected.
func (w *PythonWorker) Detect(ctx context.Context, img []byte) ([]types.DetectedFace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := w.Communicate(img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.kill()
		w.Close()
		return nil, &CrashError{ID: w.ID, Err: err, Cmd: w.Cmd}
	}
	return parseResponse(resp)
}

func parseResponse(resp []byte) ([]types.DetectedFace, error) {
	r := bytes.NewReader(resp)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response: %w", err)
	}

	switch status {
	case statusOK:
	case statusError, statusDecodeError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		if status == statusDecodeError {
			return nil, fmt.Errorf("%w: %s", types.ErrDecode, msg)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	default:
		return nil, fmt.Errorf("unknown worker status %d", status)
	}

	var header struct {
		NumFaces uint32
		Dim      uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("malformed worker response: %w", err)
	}
	if header.NumFaces > maxFaces {
		return nil, fmt.Errorf("malformed worker response: %d faces", header.NumFaces)
	}
	if header.Dim != types.EmbeddingDim {
		return nil, fmt.Errorf("malformed worker response: embedding dimension %d, expected %d", header.Dim, types.EmbeddingDim)
	}

	faces := make([]types.DetectedFace, 0, header.NumFaces)
	for i := uint32(0); i < header.NumFaces; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("malformed face %d: %w", i, err)
		}
		vec := make([]float64, header.Dim)
		if err := binary.Read(r, binary.BigEndian, vec); err != nil {
			return nil, fmt.Errorf("malformed face %d: %w", i, err)
		}
		for _, v := range vec {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("malformed face %d: non-finite embedding", i)
			}
		}
		faces = append(faces, types.DetectedFace{
			Box: types.BoundingBox{int(box[0]), int(box[1]), int(box[2]), int(box[3])},
			Vec: vec,
		})
	}
	return faces, nil
}

// kill stops a worker that is stuck mid-request.
func (w *PythonWorker) kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
}

// Close shuts the worker down and waits for the process to exit.
func (w *PythonWorker) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
