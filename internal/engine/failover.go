package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/houzhh15/whisper-local/internal/metrics"
)

// ServiceStatus represents the monitored health state of the primary backend.
// All fields are safe for JSON serialization and are exposed via the health
// endpoint.
type ServiceStatus struct {
	// IsHealthy indicates whether the primary passed recent health checks
	IsHealthy bool `json:"is_healthy"`

	// LastCheckTime records when the most recent health check was performed
	LastCheckTime time.Time `json:"last_check_time"`

	// ConsecutiveFails counts how many health checks have failed in a row.
	// Reset to 0 when a check succeeds.
	ConsecutiveFails int `json:"consecutive_fails"`

	// ErrorMessage contains the last error message if a health check failed.
	// Empty string if healthy.
	ErrorMessage string `json:"error_message"`

	// Active is the name of the engine currently serving requests
	Active string `json:"active"`

	// Degraded is true while requests are served by the fallback
	Degraded bool `json:"degraded"`
}

// Failover wraps a primary and a fallback Engine and switches between them
// based on periodic health probes of the primary. It implements Engine
// itself, so callers stay unaware of which backend is active.
//
// Behavior:
//   - Starts optimistic: the primary serves requests until probes say otherwise
//   - After failThreshold consecutive probe failures, requests degrade to
//     the fallback (typically Mock, so the API keeps answering)
//   - A single successful probe recovers to the primary
//
// Thread-safety: all public methods are thread-safe via sync.RWMutex.
type Failover struct {
	primary       Engine
	fallback      Engine
	checkInterval time.Duration // Interval between health checks (e.g. 30 seconds)
	failThreshold int           // Consecutive failures before degrading

	mu       sync.RWMutex
	status   ServiceStatus
	current  Engine
	degraded bool

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewFailover creates a Failover with the specified engines and probe policy.
//
// Parameters:
//   - primary: The preferred backend (must not be nil)
//   - fallback: The backup backend, typically NewMock() (must not be nil)
//   - checkInterval: Duration between health probes (e.g. 30*time.Second)
//   - failThreshold: Consecutive failures before degrading (minimum 1)
//
// Initial state: primary active, healthy (optimistic assumption).
// Call Start() in a goroutine to begin probing.
func NewFailover(primary, fallback Engine, checkInterval time.Duration, failThreshold int) *Failover {
	if failThreshold < 1 {
		failThreshold = 1
	}
	return &Failover{
		primary:       primary,
		fallback:      fallback,
		checkInterval: checkInterval,
		failThreshold: failThreshold,
		current:       primary,
		stopChan:      make(chan struct{}),
		status: ServiceStatus{
			IsHealthy:     true,
			LastCheckTime: time.Now(),
			Active:        primary.Name(),
		},
	}
}

// Start runs the probe loop. It performs an immediate check, then checks at
// regular intervals. The loop ends when Stop() is called or the context is
// cancelled. This method blocks; run it in a goroutine.
func (f *Failover) Start(ctx context.Context) {
	ticker := time.NewTicker(f.checkInterval)
	defer ticker.Stop()

	f.performCheck(ctx)

	for {
		select {
		case <-ticker.C:
			f.performCheck(ctx)
		case <-f.stopChan:
			log.Printf("[INFO] Failover: stopped probing %s", f.primary.Name())
			return
		case <-ctx.Done():
			log.Printf("[INFO] Failover: context cancelled while probing %s", f.primary.Name())
			return
		}
	}
}

// performCheck executes a single health probe, updates the status and
// switches the active engine when the threshold is crossed.
func (f *Failover) performCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	isHealthy, err := f.primary.HealthCheck(checkCtx)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.status.LastCheckTime = time.Now()

	if isHealthy {
		f.status.IsHealthy = true
		f.status.ConsecutiveFails = 0
		f.status.ErrorMessage = ""
	} else {
		f.status.ConsecutiveFails++
		errMsg := "unknown error"
		if err != nil {
			errMsg = err.Error()
		}
		f.status.ErrorMessage = fmt.Sprintf("health check failed: %s", errMsg)

		if f.status.ConsecutiveFails >= f.failThreshold {
			f.status.IsHealthy = false
			log.Printf("[ERROR] Failover: health check failed %d times for %s, marking as unhealthy",
				f.status.ConsecutiveFails, f.primary.Name())
		} else {
			log.Printf("[WARN] Failover: health check failed (%d/%d) for %s: %s",
				f.status.ConsecutiveFails, f.failThreshold, f.primary.Name(), errMsg)
		}
	}
	metrics.SetEngineUp(f.primary.Name(), f.status.IsHealthy)

	// Switch over when the health verdict and the active engine disagree.
	if !f.status.IsHealthy && !f.degraded {
		log.Printf("[WARN] Failover: degrading to fallback engine (%s) due to unhealthy primary (%s)",
			f.fallback.Name(), f.primary.Name())
		f.current = f.fallback
		f.degraded = true
		metrics.RecordFailover(f.primary.Name(), f.fallback.Name())
	}
	if f.status.IsHealthy && f.degraded {
		log.Printf("[INFO] Failover: recovering to primary engine (%s)", f.primary.Name())
		f.current = f.primary
		f.degraded = false
		metrics.RecordFailover(f.fallback.Name(), f.primary.Name())
	}
	f.status.Active = f.current.Name()
	f.status.Degraded = f.degraded
}

// Current returns the engine presently serving requests.
func (f *Failover) Current() Engine {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Status returns a copy of the current health status.
func (f *Failover) Status() ServiceStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

// IsDegraded returns whether requests are currently served by the fallback.
func (f *Failover) IsDegraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.degraded
}

// Transcribe delegates to the currently active engine.
func (f *Failover) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, Info, error) {
	return f.Current().Transcribe(ctx, audioPath, opts)
}

// HealthCheck delegates to the currently active engine.
func (f *Failover) HealthCheck(ctx context.Context) (bool, error) {
	return f.Current().HealthCheck(ctx)
}

// Name returns the name of the currently active engine.
func (f *Failover) Name() string {
	return f.Current().Name()
}

// Close stops the probe loop and closes both engines.
func (f *Failover) Close() error {
	f.Stop()
	err := f.primary.Close()
	if ferr := f.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}

// Stop gracefully terminates the probe loop. Safe to call more than once.
func (f *Failover) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopChan)
	})
}
