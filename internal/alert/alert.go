// Package alert notifies the operator when a violation is recorded.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
)

// Tone describes the audible alert.
type Tone struct {
	Frequency float64       `json:"frequency_hz"`
	Duration  time.Duration `json:"-"`
}

// DefaultTone is a 750 Hz beep lasting 300 ms.
var DefaultTone = Tone{Frequency: 750, Duration: 300 * time.Millisecond}

// Event is emitted once per recorded violation.
type Event struct {
	UID        int64     `json:"uid"`
	Class      string    `json:"violation_name"`
	Confidence float64   `json:"confidence"`
	Workshop   string    `json:"workshop_name"`
	OccurredAt time.Time `json:"violation_time"`
}

// Sink receives alerts. Alert returns once the alert has been delivered.
type Sink interface {
	Alert(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Alert calls f.
func (f SinkFunc) Alert(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// ToneSink publishes each event to browser clients, which play the tone,
// and holds the caller for the tone's duration.
type ToneSink struct {
	tone        Tone
	broadcaster *Broadcaster
	bell        io.Writer
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a ToneSink.
type Option func(*ToneSink)

// WithBell rings the terminal bell on w for every alert.
func WithBell(w io.Writer) Option {
	return func(s *ToneSink) { s.bell = w }
}

// WithTone overrides DefaultTone.
func WithTone(t Tone) Option {
	return func(s *ToneSink) { s.tone = t }
}

// NewToneSink creates a sink publishing to b. b may be nil.
func NewToneSink(b *Broadcaster, opts ...Option) *ToneSink {
	s := &ToneSink{
		tone:        DefaultTone,
		broadcaster: b,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tone returns the configured tone.
func (s *ToneSink) Tone() Tone {
	return s.tone
}

// Alert publishes ev and blocks for the tone duration or until ctx is done.
func (s *ToneSink) Alert(ctx context.Context, ev Event) error {
	logger.Warn("Alert", "Violation #%d: %s (%.2f) at %s", ev.UID, ev.Class, ev.Confidence, ev.Workshop)

	if s.broadcaster != nil {
		payload, err := json.Marshal(struct {
			Event
			Frequency  float64 `json:"frequency_hz"`
			DurationMs int64   `json:"duration_ms"`
		}{ev, s.tone.Frequency, s.tone.Duration.Milliseconds()})
		if err != nil {
			return fmt.Errorf("encode alert: %w", err)
		}
		s.broadcaster.Publish(payload)
	}

	if s.bell != nil {
		if _, err := s.bell.Write([]byte{'\a'}); err != nil {
			return fmt.Errorf("ring bell: %w", err)
		}
	}

	return s.sleep(ctx, s.tone.Duration)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
