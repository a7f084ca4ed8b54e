// Package capture turns cameras and uploaded videos into decoded frames.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"time"

	"github.com/dj-oyu/ppe-safety-monitor/pkg/types"
)

const (
	initialBufferSize = 512 * 1024
	maxFrameSize      = 32 * 1024 * 1024
)

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// ErrEmptyUpload is returned when a file source has no video data.
var ErrEmptyUpload = errors.New("uploaded video is empty")

// Source yields frames in capture order. Next returns io.EOF once the
// stream has ended.
type Source interface {
	Next(ctx context.Context) (*types.Frame, error)
	Close() error
}

// Spec selects the input of a detection run.
type Spec struct {
	Kind        types.SourceKind
	DeviceIndex int    // camera index, 0 is /dev/video0
	Upload      []byte // raw video bytes for SourceFile
	Path        string // video file on disk, used when Upload is empty
	Name        string // display name of the uploaded file
}

// Validate checks that the spec names a usable input.
func (s Spec) Validate() error {
	switch s.Kind {
	case types.SourceCamera:
		if s.DeviceIndex < 0 {
			return fmt.Errorf("invalid camera index %d", s.DeviceIndex)
		}
		return nil
	case types.SourceFile:
		if len(s.Upload) == 0 && s.Path == "" {
			return ErrEmptyUpload
		}
		return nil
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
}

// Describe returns a short human readable name of the input.
func (s Spec) Describe() string {
	switch s.Kind {
	case types.SourceCamera:
		return fmt.Sprintf("camera %d", s.DeviceIndex)
	case types.SourceFile:
		if s.Name != "" {
			return "file " + s.Name
		}
		if s.Path != "" {
			return "file " + s.Path
		}
		return "uploaded file"
	default:
		return string(s.Kind)
	}
}

// OpenFunc opens a source for a spec. The source stops when ctx is done.
type OpenFunc func(ctx context.Context, spec Spec) (Source, error)

// ReaderSource decodes a concatenated MJPEG byte stream, one JPEG per frame.
type ReaderSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	number  uint64
	now     func() time.Time
}

// NewReaderSource reads frames from r. If r is an io.Closer it is closed by Close.
func NewReaderSource(r io.Reader) *ReaderSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBufferSize), maxFrameSize)
	scanner.Split(splitJPEG)

	src := &ReaderSource{
		scanner: scanner,
		now:     time.Now,
	}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

// Next decodes the following frame.
func (s *ReaderSource) Next(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read mjpeg stream: %w", err)
		}
		return nil, io.EOF
	}

	img, err := jpeg.Decode(bytes.NewReader(s.scanner.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", s.number+1, err)
	}
	s.number++
	return types.NewFrame(img, s.number, s.now()), nil
}

// Close releases the underlying reader.
func (s *ReaderSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// splitJPEG is a bufio.SplitFunc yielding SOI..EOI segments. Bytes outside a
// segment and a truncated trailing segment are discarded.
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, soi)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing 0xFF that may begin the next marker
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(soi):], eoi)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	stop := start + len(soi) + end + len(eoi)
	return stop, data[start:stop], nil
}
