package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// probeEngine is a minimal scriptable engine for failover tests: a settable
// health bit and a name that shows up in the transcribed text.
type probeEngine struct {
	name string

	mu      sync.Mutex
	healthy bool
}

func (p *probeEngine) setHealthy(h bool) {
	p.mu.Lock()
	p.healthy = h
	p.mu.Unlock()
}

func (p *probeEngine) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, Info, error) {
	return NewSliceStream([]Segment{{Text: p.name}}), Info{Language: "en"}, nil
}

func (p *probeEngine) HealthCheck(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.healthy {
		return false, errors.New("probe refused")
	}
	return true, nil
}

func (p *probeEngine) Name() string { return p.name }
func (p *probeEngine) Close() error { return nil }

func transcribedBy(t *testing.T, e Engine) string {
	t.Helper()
	stream, _, err := e.Transcribe(context.Background(), "audio.wav", DefaultOptions())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	defer stream.Close()

	seg, err := stream.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v", err)
	}
	return seg.Text
}

func TestFailover(t *testing.T) {
	t.Run("degrades after threshold", func(t *testing.T) {
		primary := &probeEngine{name: "primary", healthy: false}
		fallback := &probeEngine{name: "fallback", healthy: true}
		f := NewFailover(primary, fallback, time.Minute, 2)

		ctx := context.Background()

		// First failure stays below the threshold.
		f.performCheck(ctx)
		if f.IsDegraded() {
			t.Fatal("must not degrade before threshold")
		}
		status := f.Status()
		if status.ConsecutiveFails != 1 || !status.IsHealthy {
			t.Errorf("unexpected status after first failure: %+v", status)
		}

		// Second failure crosses it.
		f.performCheck(ctx)
		if !f.IsDegraded() {
			t.Fatal("expected degradation at threshold")
		}
		if got := transcribedBy(t, f); got != "fallback" {
			t.Errorf("requests should route to fallback, got %q", got)
		}
		status = f.Status()
		if status.Active != "fallback" || !status.Degraded || status.ErrorMessage == "" {
			t.Errorf("unexpected degraded status: %+v", status)
		}
	})

	t.Run("recovers on first success", func(t *testing.T) {
		primary := &probeEngine{name: "primary", healthy: false}
		fallback := &probeEngine{name: "fallback", healthy: true}
		f := NewFailover(primary, fallback, time.Minute, 1)

		ctx := context.Background()
		f.performCheck(ctx)
		if !f.IsDegraded() {
			t.Fatal("expected degradation")
		}

		primary.setHealthy(true)
		f.performCheck(ctx)
		if f.IsDegraded() {
			t.Fatal("expected recovery")
		}
		if got := transcribedBy(t, f); got != "primary" {
			t.Errorf("requests should route back to primary, got %q", got)
		}
		status := f.Status()
		if status.ConsecutiveFails != 0 || status.ErrorMessage != "" {
			t.Errorf("recovery must reset failure tracking: %+v", status)
		}
	})

	t.Run("starts optimistic", func(t *testing.T) {
		primary := &probeEngine{name: "primary", healthy: true}
		fallback := &probeEngine{name: "fallback", healthy: true}
		f := NewFailover(primary, fallback, time.Minute, 3)

		if f.IsDegraded() {
			t.Error("new controller must start on primary")
		}
		if got := transcribedBy(t, f); got != "primary" {
			t.Errorf("expected primary, got %q", got)
		}
		if f.Name() != "primary" {
			t.Errorf("Name() = %q, want primary", f.Name())
		}
	})

	t.Run("probe loop", func(t *testing.T) {
		primary := &probeEngine{name: "primary", healthy: false}
		fallback := &probeEngine{name: "fallback", healthy: true}
		f := NewFailover(primary, fallback, 5*time.Millisecond, 1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan struct{})
		go func() {
			f.Start(ctx)
			close(done)
		}()

		deadline := time.After(2 * time.Second)
		for !f.IsDegraded() {
			select {
			case <-deadline:
				t.Fatal("probe loop never degraded")
			case <-time.After(5 * time.Millisecond):
			}
		}

		f.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Start did not return after Stop")
		}
		// Stop is idempotent.
		f.Stop()
	})
}
