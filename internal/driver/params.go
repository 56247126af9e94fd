// Package driver implements the one-shot transcription contract: positional
// argument parsing, the fold from a segment stream to an aggregate result,
// and the single-line JSON documents written to stdout.
package driver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/houzhh15/whisper-local/internal/engine"
)

// Params holds one invocation's positional arguments, with omitted trailing
// arguments resolved to their defaults.
type Params struct {
	AudioPath                 string
	ModelSize                 string
	Language                  string
	Device                    string
	ComputeType               string
	BeamSize                  int
	BestOf                    int
	Temperature               float64
	CompressionRatioThreshold float64
	LogProbThreshold          float64
	NoSpeechThreshold         float64
}

// ParseParams interprets the positional argument list:
//
//	audio_path model_size language device [compute_type [beam_size [best_of
//	  [temperature [compression_ratio_threshold [logprob_threshold
//	  [no_speech_threshold]]]]]]]
//
// The device is normalized to lowercase before use. Omitted optional
// arguments take the documented defaults; malformed numeric arguments are
// reported as errors rather than silently defaulted.
func ParseParams(args []string) (Params, error) {
	if len(args) < 4 {
		return Params{}, fmt.Errorf("expected at least 4 arguments (audio_path model_size language device), got %d", len(args))
	}
	if len(args) > 11 {
		return Params{}, fmt.Errorf("expected at most 11 arguments, got %d", len(args))
	}

	p := Params{
		AudioPath:                 args[0],
		ModelSize:                 args[1],
		Language:                  args[2],
		Device:                    strings.ToLower(args[3]),
		ComputeType:               "int8",
		BeamSize:                  1,
		BestOf:                    1,
		Temperature:               0.0,
		CompressionRatioThreshold: 2.4,
		LogProbThreshold:          -1.0,
		NoSpeechThreshold:         0.6,
	}

	if len(args) > 4 {
		p.ComputeType = args[4]
	}

	var err error
	if len(args) > 5 {
		if p.BeamSize, err = parsePositiveInt("beam_size", args[5]); err != nil {
			return Params{}, err
		}
	}
	if len(args) > 6 {
		if p.BestOf, err = parsePositiveInt("best_of", args[6]); err != nil {
			return Params{}, err
		}
	}
	if len(args) > 7 {
		if p.Temperature, err = parseFloat("temperature", args[7]); err != nil {
			return Params{}, err
		}
	}
	if len(args) > 8 {
		if p.CompressionRatioThreshold, err = parseFloat("compression_ratio_threshold", args[8]); err != nil {
			return Params{}, err
		}
	}
	if len(args) > 9 {
		if p.LogProbThreshold, err = parseFloat("logprob_threshold", args[9]); err != nil {
			return Params{}, err
		}
	}
	if len(args) > 10 {
		if p.NoSpeechThreshold, err = parseFloat("no_speech_threshold", args[10]); err != nil {
			return Params{}, err
		}
	}

	return p, nil
}

func parsePositiveInt(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: not an integer", name, value)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s %d: must be >= 1", name, n)
	}
	return n, nil
}

func parseFloat(name, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: not a number", name, value)
	}
	return f, nil
}

// EngineConfig maps the model-handle arguments onto a backend configuration.
func (p Params) EngineConfig() engine.Config {
	return engine.Config{
		ModelSize:   p.ModelSize,
		Device:      p.Device,
		ComputeType: p.ComputeType,
	}
}

// Options maps the decoding arguments onto engine options, applying the
// fixed policy of this driver: VAD filtering off, no conditioning on prior
// text, no initial prompt, no word timestamps. The language hint is only
// forwarded when it names a real code; "auto" and empty request detection.
func (p Params) Options() engine.Options {
	opts := engine.Options{
		BeamSize:                  p.BeamSize,
		BestOf:                    p.BestOf,
		Temperature:               p.Temperature,
		CompressionRatioThreshold: p.CompressionRatioThreshold,
		LogProbThreshold:          p.LogProbThreshold,
		NoSpeechThreshold:         p.NoSpeechThreshold,
	}
	if p.Language != "" && p.Language != "auto" {
		opts.Language = p.Language
	}
	return opts
}
