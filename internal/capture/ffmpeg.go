package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
	"github.com/dj-oyu/ppe-safety-monitor/pkg/types"
)

// DefaultStreamConfig returns the ffmpeg settings used when none are given.
func DefaultStreamConfig() types.StreamConfig {
	return types.StreamConfig{
		FFmpegPath:  "ffmpeg",
		DeviceIndex: 0,
		FPS:         10,
		Width:       640,
		Height:      480,
		Quality:     5,
	}
}

// DevicePath maps a camera index to its V4L2 device node.
func DevicePath(index int) string {
	return "/dev/video" + strconv.Itoa(index)
}

// ErrUploadNotSpooled is returned by FFmpegArgs for uploads that have not
// been written to disk yet.
var ErrUploadNotSpooled = errors.New("upload must be spooled to a file")

// FFmpegArgs builds the ffmpeg command line that transcodes the input of
// spec into an MJPEG stream on stdout.
func FFmpegArgs(cfg types.StreamConfig, spec Spec) ([]string, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	switch spec.Kind {
	case types.SourceCamera:
		args = append(args, "-f", "v4l2")
		if cfg.Width > 0 && cfg.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
		}
		if cfg.FPS > 0 {
			args = append(args, "-framerate", strconv.Itoa(cfg.FPS))
		}
		args = append(args, "-i", DevicePath(spec.DeviceIndex))
	case types.SourceFile:
		// Every frame of a file is decoded, so there is no -r here. The file
		// must be seekable for containers that keep their index at the end.
		if spec.Path == "" {
			return nil, ErrUploadNotSpooled
		}
		args = append(args, "-i", spec.Path)
	}

	quality := cfg.Quality
	if quality <= 0 {
		quality = DefaultStreamConfig().Quality
	}
	args = append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(quality),
		"-",
	)
	return args, nil
}

// FFmpegSource reads frames from an ffmpeg child process.
type FFmpegSource struct {
	*ReaderSource

	ctx    context.Context
	cmd    *exec.Cmd
	stderr *tailBuffer
	spool  string // temp copy of an upload, removed on Close

	waitOnce sync.Once
	waitErr  error
}

// NewFFmpegOpener returns an OpenFunc that starts ffmpeg with cfg.
func NewFFmpegOpener(cfg types.StreamConfig) OpenFunc {
	return func(ctx context.Context, spec Spec) (Source, error) {
		return OpenFFmpeg(ctx, cfg, spec)
	}
}

// OpenFFmpeg starts ffmpeg for spec. The process is killed when ctx is done.
func OpenFFmpeg(ctx context.Context, cfg types.StreamConfig, spec Spec) (*FFmpegSource, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec, spool, err := spoolUpload(spec)
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		if spool != "" {
			removeSpool(spool)
		}
	}

	args, err := FFmpegArgs(cfg, spec)
	if err != nil {
		cleanup()
		return nil, err
	}
	bin := cfg.FFmpegPath
	if bin == "" {
		bin = DefaultStreamConfig().FFmpegPath
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	logger.Info("Capture", "ffmpeg started for %s (pid %d)", spec.Describe(), cmd.Process.Pid)

	return &FFmpegSource{
		ReaderSource: NewReaderSource(stdout),
		ctx:          ctx,
		cmd:          cmd,
		stderr:       stderr,
		spool:        spool,
	}, nil
}

// spoolUpload writes the bytes of an upload to a temp file and returns the
// spec pointing at it, along with the file path. Other specs pass through.
func spoolUpload(spec Spec) (Spec, string, error) {
	if spec.Kind != types.SourceFile || len(spec.Upload) == 0 {
		return spec, "", nil
	}

	f, err := os.CreateTemp("", "safety-upload-*"+filepath.Ext(spec.Name))
	if err != nil {
		return spec, "", fmt.Errorf("failed to spool upload: %w", err)
	}
	_, werr := f.Write(spec.Upload)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		removeSpool(f.Name())
		return spec, "", fmt.Errorf("failed to spool upload: %w", err)
	}

	spec.Path = f.Name()
	spec.Upload = nil
	return spec, f.Name(), nil
}

func removeSpool(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Capture", "Failed to remove spooled upload %s: %v", path, err)
	}
}

// Next returns the following frame. When ffmpeg exits with an error the
// error carries the tail of its stderr.
func (s *FFmpegSource) Next(ctx context.Context) (*types.Frame, error) {
	frame, err := s.ReaderSource.Next(ctx)
	if !errors.Is(err, io.EOF) {
		return frame, err
	}

	if werr := s.wait(); werr != nil {
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		msg := strings.TrimSpace(s.stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("ffmpeg: %w", werr)
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", werr, msg)
	}
	return nil, io.EOF
}

// Close stops ffmpeg, reaps it and removes the spooled upload.
func (s *FFmpegSource) Close() error {
	if s.cmd.ProcessState == nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()
	if s.spool != "" {
		removeSpool(s.spool)
	}
	return nil
}

func (s *FFmpegSource) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
		logger.Debug("Capture", "ffmpeg exited: %v", s.waitErr)
	})
	return s.waitErr
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
