package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/ppe-safety-monitor/internal/alert"
	"github.com/dj-oyu/ppe-safety-monitor/internal/capture"
	"github.com/dj-oyu/ppe-safety-monitor/internal/detector"
	"github.com/dj-oyu/ppe-safety-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-safety-monitor/internal/store"
	"github.com/dj-oyu/ppe-safety-monitor/internal/violation"
	"github.com/dj-oyu/ppe-safety-monitor/pkg/types"
)

type sliceSource struct {
	frames int
	next   int
	closed bool
}

func (s *sliceSource) Next(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= s.frames {
		return nil, io.EOF
	}
	s.next++
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	return types.NewFrame(img, uint64(s.next), time.Now()), nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// blockingSource yields frames until its context is cancelled.
type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (*types.Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingSource) Close() error { return nil }

type fixedDetector struct {
	dets []detector.Detection
	err  error
}

func (d fixedDetector) Detect(context.Context, image.Image) ([]detector.Detection, error) {
	return d.dets, d.err
}

type collectingSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *collectingSink) Publish(jpeg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, jpeg)
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeRecorder struct {
	sent int
}

func (r *fakeRecorder) IsRecording() bool { return true }
func (r *fakeRecorder) SendFrame([]byte) bool {
	r.sent++
	return true
}

type failingStore struct{ err error }

func (s failingStore) Insert(context.Context, store.NewViolation) (store.Violation, error) {
	return store.Violation{}, s.err
}

var noAlert = alert.SinkFunc(func(context.Context, alert.Event) error { return nil })

func hardhat(conf float64) detector.Detection {
	return detector.Detection{Box: image.Rect(10, 10, 30, 30), Class: "NO-Hardhat", Confidence: conf}
}

func TestRunnerProcessesUntilEndOfStream(t *testing.T) {
	mem := store.NewMemory()
	proc := violation.NewProcessor(violation.Config{}, mem, noAlert)
	sink := &collectingSink{}
	rec := &fakeRecorder{}
	m := metrics.New()

	var reports []FrameReport
	runner := NewRunner(fixedDetector{dets: []detector.Detection{hardhat(0.9)}}, proc,
		WithFrameSink(sink), WithRecorder(rec), WithMetrics(m),
		WithObserver(ObserverFunc(func(rep FrameReport) { reports = append(reports, rep) })))

	src := &sliceSource{frames: 3}
	require.NoError(t, runner.Run(context.Background(), src))

	assert.Equal(t, 3, sink.count())
	assert.Equal(t, 3, rec.sent)
	require.Len(t, reports, 3)
	assert.Equal(t, uint64(3), reports[2].Number)
	assert.Len(t, reports[0].Violations, 1)

	n, err := mem.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(3), m.FramesProcessed.Load())
	assert.Equal(t, uint64(3), m.Violations.Load())
}

func TestRunnerIgnoresLowConfidence(t *testing.T) {
	mem := store.NewMemory()
	proc := violation.NewProcessor(violation.Config{}, mem, noAlert)
	runner := NewRunner(fixedDetector{dets: []detector.Detection{hardhat(0.4)}}, proc)

	require.NoError(t, runner.Run(context.Background(), &sliceSource{frames: 2}))
	n, _ := mem.Count(context.Background())
	assert.Equal(t, 0, n)
}

func TestRunnerStoreFailureEndsRun(t *testing.T) {
	boom := errors.New("disk full")
	proc := violation.NewProcessor(violation.Config{}, failingStore{err: boom}, noAlert)
	sink := &collectingSink{}
	runner := NewRunner(fixedDetector{dets: []detector.Detection{hardhat(0.9)}}, proc, WithFrameSink(sink))

	src := &sliceSource{frames: 5}
	err := runner.Run(context.Background(), src)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, src.next)
	assert.Equal(t, 0, sink.count())
}

func TestRunnerDetectorFailureEndsRun(t *testing.T) {
	boom := errors.New("model offline")
	proc := violation.NewProcessor(violation.Config{}, store.NewMemory(), noAlert)
	runner := NewRunner(fixedDetector{err: boom}, proc)

	err := runner.Run(context.Background(), &sliceSource{frames: 2})
	assert.ErrorIs(t, err, boom)
}

func TestRunnerHonoursCancellation(t *testing.T) {
	proc := violation.NewProcessor(violation.Config{}, store.NewMemory(), noAlert)
	runner := NewRunner(fixedDetector{}, proc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runner.Run(ctx, &sliceSource{frames: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func newController(src capture.Source, dets []detector.Detection) (*Controller, *store.Memory) {
	mem := store.NewMemory()
	proc := violation.NewProcessor(violation.Config{}, mem, noAlert)
	runner := NewRunner(fixedDetector{dets: dets}, proc)
	open := func(context.Context, capture.Spec) (capture.Source, error) { return src, nil }
	return NewController(runner, open, nil), mem
}

func TestControllerRunFinishes(t *testing.T) {
	src := &sliceSource{frames: 4}
	c, _ := newController(src, []detector.Detection{hardhat(0.9)})
	assert.Equal(t, StateIdle, c.Status().State)

	require.NoError(t, c.Start(context.Background(), capture.Spec{Kind: types.SourceCamera}))
	c.Wait()

	status := c.Status()
	assert.Equal(t, StateFinished, status.State)
	assert.Equal(t, uint64(4), status.Frames)
	assert.Equal(t, 4, status.Violations)
	assert.NotEmpty(t, status.RunID)
	assert.Equal(t, "camera 0", status.Source)
	assert.True(t, src.closed)
	assert.Empty(t, status.Err)
}

func TestControllerSingleRunAndStop(t *testing.T) {
	c, _ := newController(blockingSource{}, nil)

	require.NoError(t, c.Start(context.Background(), capture.Spec{Kind: types.SourceCamera}))
	assert.True(t, c.Status().Running())
	assert.ErrorIs(t, c.Start(context.Background(), capture.Spec{Kind: types.SourceCamera}), ErrAlreadyRunning)

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	assert.Equal(t, StateStopped, c.Status().State)
	assert.ErrorIs(t, c.Stop(), ErrNotRunning)

	// a new run can start after a stop
	require.NoError(t, c.Start(context.Background(), capture.Spec{Kind: types.SourceCamera}))
	require.NoError(t, c.Stop())
}

func TestControllerFailedRunKeepsError(t *testing.T) {
	boom := errors.New("insert failed")
	proc := violation.NewProcessor(violation.Config{}, failingStore{err: boom}, noAlert)
	runner := NewRunner(fixedDetector{dets: []detector.Detection{hardhat(0.9)}}, proc)
	open := func(context.Context, capture.Spec) (capture.Source, error) { return &sliceSource{frames: 3}, nil }
	c := NewController(runner, open, nil)

	require.NoError(t, c.Start(context.Background(), capture.Spec{Kind: types.SourceCamera}))
	c.Wait()

	status := c.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.Err, "insert failed")
}

func TestRunnerReportsRecordsOfFailedFrame(t *testing.T) {
	boom := errors.New("speaker unplugged")
	failAlert := alert.SinkFunc(func(context.Context, alert.Event) error { return boom })
	mem := store.NewMemory()
	proc := violation.NewProcessor(violation.Config{}, mem, failAlert)
	m := metrics.New()

	var reports []FrameReport
	runner := NewRunner(fixedDetector{dets: []detector.Detection{hardhat(0.9), hardhat(0.8)}}, proc,
		WithMetrics(m),
		WithObserver(ObserverFunc(func(rep FrameReport) { reports = append(reports, rep) })))

	err := runner.Run(context.Background(), &sliceSource{frames: 2})
	assert.ErrorIs(t, err, boom)

	n, err := mem.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, reports, 1)
	require.Len(t, reports[0].Violations, 1)
	assert.Equal(t, uint64(1), reports[0].Number)
	assert.Equal(t, uint64(1), m.Violations.Load())
}

func TestControllerCountsRecordsOfFailedFrame(t *testing.T) {
	failAlert := alert.SinkFunc(func(context.Context, alert.Event) error { return errors.New("speaker unplugged") })
	proc := violation.NewProcessor(violation.Config{}, store.NewMemory(), failAlert)
	runner := NewRunner(fixedDetector{dets: []detector.Detection{hardhat(0.9)}}, proc)
	open := func(context.Context, capture.Spec) (capture.Source, error) { return &sliceSource{frames: 3}, nil }
	c := NewController(runner, open, nil)

	require.NoError(t, c.Start(context.Background(), capture.Spec{Kind: types.SourceCamera}))
	c.Wait()

	status := c.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, 1, status.Violations)
	assert.Equal(t, uint64(1), status.Frames)
}

func TestControllerOpenFailure(t *testing.T) {
	proc := violation.NewProcessor(violation.Config{}, store.NewMemory(), noAlert)
	runner := NewRunner(fixedDetector{}, proc)
	open := func(context.Context, capture.Spec) (capture.Source, error) { return nil, errors.New("no such device") }
	c := NewController(runner, open, nil)

	err := c.Start(context.Background(), capture.Spec{Kind: types.SourceCamera, DeviceIndex: 3})
	require.Error(t, err)
	assert.Equal(t, StateFailed, c.Status().State)
	assert.Contains(t, c.Status().Err, "no such device")
}

func TestControllerRejectsInvalidSpec(t *testing.T) {
	c, _ := newController(&sliceSource{}, nil)
	err := c.Start(context.Background(), capture.Spec{Kind: types.SourceFile})
	assert.ErrorIs(t, err, capture.ErrEmptyUpload)
	assert.Equal(t, StateIdle, c.Status().State)
}
