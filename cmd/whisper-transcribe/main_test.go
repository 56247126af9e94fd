package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/whisper-local/internal/driver"
	"github.com/houzhh15/whisper-local/internal/engine"
)

func logProb(v float64) *float64 {
	return &v
}

// execTranscribe runs the root command with the given positional arguments
// and an injected engine factory, returning whatever landed on stdout.
func execTranscribe(t *testing.T, factory engineFactory, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(factory, &out)
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

// scriptedEngine returns a mock loaded with a three-segment run: speech,
// silence (unscored by the transcript but still listed), speech.
func scriptedEngine() *engine.Mock {
	mock := engine.NewMock()
	mock.Segments = []engine.Segment{
		{Start: 0, End: 1.5, Text: " Hello", NoSpeechProb: 0.02, AvgLogProb: logProb(-0.1)},
		{Start: 1.5, End: 2, Text: "  ", NoSpeechProb: 0.9, AvgLogProb: logProb(-5.0)},
		{Start: 2, End: 3.5, Text: "world ", NoSpeechProb: 0.05, AvgLogProb: logProb(-0.3)},
	}
	mock.Info = engine.Info{Language: "en", Duration: 3.5}
	return mock
}

func fixedFactory(mock *engine.Mock) engineFactory {
	return func(cfg engine.Config) (engine.Engine, error) {
		return mock, nil
	}
}

func TestExecute_SuccessDocument(t *testing.T) {
	mock := scriptedEngine()
	out, err := execTranscribe(t, fixedFactory(mock), "meeting.wav", "base", "auto", "cpu")
	require.NoError(t, err)

	want := `{"text":"Hello world","confidence":0.8,"language":"en","segments":[` +
		`{"start":0,"end":1.5,"text":"Hello","no_speech_prob":0.02},` +
		`{"start":1.5,"end":2,"text":"","no_speech_prob":0.9},` +
		`{"start":2,"end":3.5,"text":"world","no_speech_prob":0.05}]}` + "\n"
	assert.Equal(t, want, out)
}

func TestExecute_DefaultsApplied(t *testing.T) {
	mock := scriptedEngine()
	var gotCfg engine.Config
	factory := func(cfg engine.Config) (engine.Engine, error) {
		gotCfg = cfg
		return mock, nil
	}

	_, err := execTranscribe(t, factory, "meeting.wav", "small", "auto", "CUDA")
	require.NoError(t, err)

	assert.Equal(t, "small", gotCfg.ModelSize)
	assert.Equal(t, "cuda", gotCfg.Device)
	assert.Equal(t, "int8", gotCfg.ComputeType)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "meeting.wav", calls[0].AudioPath)
	assert.Equal(t, engine.DefaultOptions(), calls[0].Options)
}

func TestExecute_AllArgumentsForwarded(t *testing.T) {
	mock := scriptedEngine()
	_, err := execTranscribe(t, fixedFactory(mock),
		"talk.flac", "large-v3", "zh", "cpu", "float16", "5", "3", "0.2", "3.1", "-0.5", "0.4")
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	opts := calls[0].Options
	assert.Equal(t, "zh", opts.Language)
	assert.Equal(t, 5, opts.BeamSize)
	assert.Equal(t, 3, opts.BestOf)
	assert.InDelta(t, 0.2, opts.Temperature, 1e-9)
	assert.InDelta(t, 3.1, opts.CompressionRatioThreshold, 1e-9)
	assert.InDelta(t, -0.5, opts.LogProbThreshold, 1e-9)
	assert.InDelta(t, 0.4, opts.NoSpeechThreshold, 1e-9)
	assert.False(t, opts.VADFilter)
	assert.False(t, opts.ConditionOnPreviousText)
	assert.False(t, opts.WordTimestamps)
	assert.Empty(t, opts.InitialPrompt)
}

func TestExecute_AutoLanguageNotForwarded(t *testing.T) {
	mock := scriptedEngine()
	_, err := execTranscribe(t, fixedFactory(mock), "a.wav", "base", "auto", "cpu")
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Options.Language)
}

func TestExecute_LanguageFallbackVerbatim(t *testing.T) {
	mock := scriptedEngine()
	mock.Info = engine.Info{}

	out, err := execTranscribe(t, fixedFactory(mock), "a.wav", "base", "auto", "cpu")
	require.NoError(t, err)

	var res driver.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "auto", res.Language)
}

func TestExecute_BadArgumentCount(t *testing.T) {
	out, err := execTranscribe(t, fixedFactory(scriptedEngine()), "a.wav", "base", "auto")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errReported))

	var doc driver.ErrorResult
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc.Error, "at least 4")
	assert.Empty(t, doc.Text)
	assert.Zero(t, doc.Confidence)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestExecute_InvalidNumericArgument(t *testing.T) {
	out, err := execTranscribe(t, fixedFactory(scriptedEngine()),
		"a.wav", "base", "auto", "cpu", "int8", "plenty")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errReported))

	var doc driver.ErrorResult
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc.Error, "beam_size")
}

func TestExecute_EngineInitFailure(t *testing.T) {
	factory := func(cfg engine.Config) (engine.Engine, error) {
		return nil, errors.New("python interpreter not found")
	}

	out, err := execTranscribe(t, factory, "a.wav", "base", "auto", "cpu")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errReported))

	var doc driver.ErrorResult
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "python interpreter not found", doc.Error)
	assert.Empty(t, doc.Text)
	assert.Zero(t, doc.Confidence)
}

func TestExecute_TranscribeFailure(t *testing.T) {
	mock := engine.NewMock()
	mock.TranscribeErr = errors.New("model load failed")

	out, err := execTranscribe(t, fixedFactory(mock), "a.wav", "base", "auto", "cpu")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errReported))
	assert.Contains(t, out, "model load failed")
}

func TestExecute_StreamFailureDiscardsSegments(t *testing.T) {
	mock := scriptedEngine()
	mock.FailAt = 1
	mock.StreamErr = errors.New("decoder died")

	out, err := execTranscribe(t, fixedFactory(mock), "a.wav", "base", "auto", "cpu")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errReported))

	var doc driver.ErrorResult
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "decoder died", doc.Error)
	assert.NotContains(t, out, "Hello")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestExecute_EnvOverrides(t *testing.T) {
	t.Setenv("WHISPER_ENGINE", "whisper-cpp")
	t.Setenv("WHISPER_CPP_BIN", "/opt/whisper/main")
	t.Setenv("WHISPER_MODELS_DIR", "/opt/whisper/models")

	var gotCfg engine.Config
	factory := func(cfg engine.Config) (engine.Engine, error) {
		gotCfg = cfg
		return scriptedEngine(), nil
	}

	_, err := execTranscribe(t, factory, "a.wav", "base", "auto", "cpu")
	require.NoError(t, err)

	assert.Equal(t, engine.BackendWhisperCpp, gotCfg.Backend)
	assert.Equal(t, "/opt/whisper/main", gotCfg.BinPath)
	assert.Equal(t, "/opt/whisper/models", gotCfg.ModelsDir)
}
