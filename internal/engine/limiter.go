package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when no transcription slot becomes free within the
// acquire timeout. HTTP handlers map it to 503 Service Unavailable.
var ErrBusy = errors.New("transcription concurrency limit reached")

// Limited wraps an Engine with a concurrency cap. At most max transcription
// runs are active at once; further calls wait for a slot until the acquire
// timeout and then fail with ErrBusy.
//
// A slot is held for the full life of the returned Stream, since the
// backend keeps working while the caller drains it. The slot is released
// exactly once, on whichever of EOF, stream failure, or Close happens first.
type Limited struct {
	inner          Engine
	sem            *semaphore.Weighted
	acquireTimeout time.Duration
}

// NewLimited wraps inner with a cap of max concurrent runs.
// max <= 0 means unlimited.
func NewLimited(inner Engine, max int) *Limited {
	l := &Limited{
		inner:          inner,
		acquireTimeout: 30 * time.Second,
	}
	if max > 0 {
		l.sem = semaphore.NewWeighted(int64(max))
	}
	return l
}

// Transcribe acquires a slot, starts the inner run, and ties the slot's
// release to the returned stream.
func (l *Limited) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, Info, error) {
	if l.sem != nil {
		timeoutCtx, cancel := context.WithTimeout(ctx, l.acquireTimeout)
		defer cancel()

		if err := l.sem.Acquire(timeoutCtx, 1); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, Info{}, ErrBusy
			}
			return nil, Info{}, err
		}
	}

	stream, info, err := l.inner.Transcribe(ctx, audioPath, opts)
	if err != nil {
		l.release()
		return nil, Info{}, err
	}
	return &limitedStream{inner: stream, release: l.release}, info, nil
}

func (l *Limited) release() {
	if l.sem != nil {
		l.sem.Release(1)
	}
}

// HealthCheck delegates to the wrapped engine.
func (l *Limited) HealthCheck(ctx context.Context) (bool, error) {
	return l.inner.HealthCheck(ctx)
}

// Name delegates to the wrapped engine.
func (l *Limited) Name() string {
	return l.inner.Name()
}

// Close delegates to the wrapped engine.
func (l *Limited) Close() error {
	return l.inner.Close()
}

// limitedStream releases its concurrency slot exactly once, on whichever of
// EOF, stream failure, or Close happens first.
type limitedStream struct {
	inner   Stream
	release func()
	once    sync.Once
}

func (s *limitedStream) Next() (Segment, error) {
	seg, err := s.inner.Next()
	if err != nil {
		s.once.Do(s.release)
	}
	return seg, err
}

func (s *limitedStream) Close() error {
	err := s.inner.Close()
	s.once.Do(s.release)
	return err
}
