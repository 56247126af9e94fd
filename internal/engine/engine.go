// Package engine provides an abstraction layer for Whisper speech-to-text backends.
// It defines standard interfaces and data structures to support multiple implementations
// (faster-whisper subprocess, whisper.cpp binary, remote HTTP service, and mock fallback).
package engine

import (
	"context"
)

// Segment represents a single span of transcribed audio with timing and quality scores.
// Each segment corresponds to a continuous speech interval in the audio.
type Segment struct {
	// Start is the beginning time of this segment in seconds from the audio start
	Start float64 `json:"start"`

	// End is the ending time of this segment in seconds from the audio start
	End float64 `json:"end"`

	// Text is the transcribed text content of this segment
	Text string `json:"text"`

	// NoSpeechProb is the probability that this segment contains no speech.
	// Backends without a silence model report 0.
	NoSpeechProb float64 `json:"no_speech_prob"`

	// AvgLogProb is the mean log-probability of the decoded tokens.
	// Nil when the backend does not score its output (e.g. whisper.cpp).
	AvgLogProb *float64 `json:"avg_logprob,omitempty"`
}

// Info carries per-run metadata reported by the backend before segments arrive.
type Info struct {
	// Language is the language code the backend detected or was pinned to
	// (e.g. "en", "zh"). Empty when the backend reports nothing.
	Language string `json:"language"`

	// LanguageProbability is the confidence of the language detection, 0 when unknown.
	LanguageProbability float64 `json:"language_probability"`

	// Duration is the total duration of the audio in seconds, 0 when unknown.
	Duration float64 `json:"duration"`
}

// Options defines the decoding parameters for a Transcribe operation.
// Use DefaultOptions as the baseline and override individual fields.
type Options struct {
	// Language pins transcription to a specific language (ISO 639-1 code,
	// e.g. "en", "zh"). Empty string means auto-detection.
	Language string

	// BeamSize is the beam width used during decoding. Minimum 1 (greedy).
	BeamSize int

	// BestOf is the number of candidates kept when sampling with temperature > 0.
	BestOf int

	// Temperature is the sampling temperature. 0 selects deterministic decoding.
	Temperature float64

	// CompressionRatioThreshold marks a decoded segment as failed when its
	// gzip compression ratio exceeds this value (repetition guard).
	CompressionRatioThreshold float64

	// LogProbThreshold marks a decoded segment as failed when its average
	// log-probability falls below this value.
	LogProbThreshold float64

	// NoSpeechThreshold is the silence probability above which a segment is
	// treated as non-speech and skipped.
	NoSpeechThreshold float64

	// InitialPrompt provides context to improve accuracy on domain-specific
	// terminology. Empty by default.
	InitialPrompt string

	// WordTimestamps enables per-word timing extraction. Off by default.
	WordTimestamps bool

	// VADFilter enables voice-activity pre-filtering before decoding. Off by default.
	VADFilter bool

	// ConditionOnPreviousText feeds earlier output back into the decoder as
	// context. Off by default to avoid repetition loops on noisy audio.
	ConditionOnPreviousText bool
}

// DefaultOptions returns the decoding parameters used when the caller does
// not override them: greedy decoding at temperature 0 with the standard
// faster-whisper failure thresholds.
func DefaultOptions() Options {
	return Options{
		BeamSize:                  1,
		BestOf:                    1,
		Temperature:               0.0,
		CompressionRatioThreshold: 2.4,
		LogProbThreshold:          -1.0,
		NoSpeechThreshold:         0.6,
	}
}

// Stream is a lazy sequence of transcription segments. Backends decode
// incrementally, so segments become available one at a time as the audio
// is processed.
//
// Next returns io.EOF after the final segment. Any other error means the
// backend failed mid-run; segments already returned must be discarded by
// the caller. A Stream is consumed at most once; Close releases whatever
// the backend holds open (subprocess, HTTP body, concurrency slot) and is
// safe to call after Next has returned an error or io.EOF.
type Stream interface {
	Next() (Segment, error)
	Close() error
}

// Engine defines the standard interface for speech-to-text backends.
// All concrete implementations (FasterWhisper, WhisperCpp, Remote, Mock)
// must implement this interface to be usable behind the failover controller.
type Engine interface {
	// Transcribe starts a transcription run on the given audio file.
	//
	// Parameters:
	//   - ctx: Context for timeout control and cancellation
	//   - audioPath: Path to the audio file (WAV, 16kHz, mono, PCM recommended)
	//   - opts: Decoding parameters; DefaultOptions() is the baseline
	//
	// Returns:
	//   - Stream: Lazy segment sequence; the caller must drain or Close it
	//   - Info: Run metadata (detected language, audio duration) when the
	//     backend reports it up front, zero value otherwise
	//   - error: Non-nil if the run could not be started (unreadable audio,
	//     missing model, subprocess spawn failure)
	//
	// Implementation notes:
	//   - Must respect context timeout and cancellation
	//   - Failures after the run has started surface through Stream.Next,
	//     not through this return value
	//   - Audio with no speech yields an immediately-exhausted Stream, not
	//     an error
	Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, Info, error)

	// HealthCheck verifies that the backend is operational.
	//
	// Parameters:
	//   - ctx: Context for timeout control (typically 10 seconds)
	//
	// Returns:
	//   - bool: true if the backend is ready to transcribe, false otherwise
	//   - error: Non-nil if the check itself failed (process error, network error)
	//
	// Implementation notes:
	//   - Should be lightweight and fast (< 10 seconds); never load a model
	//   - For HTTP backends: probe the model listing endpoint
	//   - For subprocess backends: verify the interpreter or binary responds
	//   - Mock always reports false to signal degraded mode
	HealthCheck(ctx context.Context) (bool, error)

	// Name returns the identifier of this backend implementation
	// (e.g. "faster-whisper", "whisper-cpp", "remote", "mock-degraded").
	// Used for logging, metrics labels, and failover transition messages.
	Name() string

	// Close releases resources held for the lifetime of the backend
	// (temp files, idle connections). The backend is unusable afterwards.
	Close() error
}
