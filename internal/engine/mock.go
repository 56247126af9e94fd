package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
)

// Mock implements Engine as a scriptable in-memory backend. It serves two
// purposes:
//
//   - Degraded-mode fallback: the zero script returns an empty result
//     without blocking, so callers keep functioning when every real backend
//     is down. HealthCheck reports false to make the degradation visible.
//   - Recording test double: every Transcribe call is captured, so tests
//     can assert exactly which options reached the backend (in particular
//     that "auto" language is never forwarded).
type Mock struct {
	mu    sync.Mutex
	calls []MockCall

	// Segments and Info are replayed by Transcribe.
	Segments []Segment
	Info     Info

	// TranscribeErr, when set, fails Transcribe before any stream exists.
	TranscribeErr error

	// FailAt injects a stream failure in place of the segment at this
	// index; -1 disables injection.
	FailAt int

	// StreamErr is the injected stream failure. A default error is used
	// when FailAt is set and StreamErr is nil.
	StreamErr error

	// Healthy is what HealthCheck reports.
	Healthy bool
}

// MockCall records the arguments of one Transcribe invocation.
type MockCall struct {
	AudioPath string
	Options   Options
}

// NewMock creates a Mock in degraded-fallback shape: no segments, language
// "unknown", health check failing. Tests override the script fields directly.
func NewMock() *Mock {
	return &Mock{
		Info:   Info{Language: "unknown"},
		FailAt: -1,
	}
}

// Transcribe records the call and replays the scripted segments.
// The empty script logs a WARN so degraded-mode operation shows up in logs.
func (m *Mock) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, Info, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{AudioPath: audioPath, Options: opts})
	m.mu.Unlock()

	if m.TranscribeErr != nil {
		return nil, Info{}, m.TranscribeErr
	}
	if len(m.Segments) == 0 && m.FailAt < 0 {
		log.Printf("[WARN] Mock: returning empty transcription for %s (degraded mode)", audioPath)
	}
	return &mockStream{segments: m.Segments, failAt: m.FailAt, err: m.StreamErr}, m.Info, nil
}

// Calls returns a copy of the recorded Transcribe invocations.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// HealthCheck reports the scripted health state (false by default, since a
// Mock standing in for a real backend means the system is degraded).
func (m *Mock) HealthCheck(ctx context.Context) (bool, error) {
	return m.Healthy, nil
}

// Name returns the identifier of this backend implementation. The
// "mock-degraded" name makes fallback operation obvious in logs and metrics.
func (m *Mock) Name() string {
	return "mock-degraded"
}

// Close releases nothing.
func (m *Mock) Close() error {
	return nil
}

type mockStream struct {
	segments []Segment
	pos      int
	failAt   int
	err      error
}

func (s *mockStream) Next() (Segment, error) {
	if s.failAt >= 0 && s.pos == s.failAt {
		if s.err != nil {
			return Segment{}, s.err
		}
		return Segment{}, errors.New("injected stream failure")
	}
	if s.pos >= len(s.segments) {
		return Segment{}, io.EOF
	}
	seg := s.segments[s.pos]
	s.pos++
	return seg, nil
}

func (s *mockStream) Close() error {
	return nil
}
