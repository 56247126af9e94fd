package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

func argValue(args []string, flag string) (string, bool) {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func testFasterWhisper() *FasterWhisper {
	return &FasterWhisper{
		pythonBin:   "python3",
		scriptPath:  "/tmp/helper.py",
		modelSize:   "base",
		device:      "cpu",
		computeType: "int8",
	}
}

func TestFasterWhisperBuildArgs(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		args := testFasterWhisper().buildArgs("audio.wav", DefaultOptions())

		if args[0] != "/tmp/helper.py" {
			t.Errorf("expected script path first, got %q", args[0])
		}
		for flag, want := range map[string]string{
			"--audio":                       "audio.wav",
			"--model":                       "base",
			"--device":                      "cpu",
			"--compute-type":                "int8",
			"--beam-size":                   "1",
			"--best-of":                     "1",
			"--temperature":                 "0",
			"--compression-ratio-threshold": "2.4",
			"--log-prob-threshold":          "-1",
			"--no-speech-threshold":         "0.6",
		} {
			got, ok := argValue(args, flag)
			if !ok {
				t.Errorf("missing flag %s", flag)
				continue
			}
			if got != want {
				t.Errorf("%s = %q, want %q", flag, got, want)
			}
		}

		if hasArg(args, "--language") {
			t.Error("language must not be forwarded when unset")
		}
		for _, flag := range []string{"--word-timestamps", "--vad-filter", "--condition-on-previous-text", "--initial-prompt"} {
			if hasArg(args, flag) {
				t.Errorf("flag %s must be absent for default options", flag)
			}
		}
	})

	t.Run("pinned language", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Language = "zh"
		args := testFasterWhisper().buildArgs("audio.wav", opts)

		got, ok := argValue(args, "--language")
		if !ok || got != "zh" {
			t.Errorf("--language = %q (present=%v), want zh", got, ok)
		}
	})

	t.Run("boolean flags", func(t *testing.T) {
		opts := DefaultOptions()
		opts.WordTimestamps = true
		opts.VADFilter = true
		opts.ConditionOnPreviousText = true
		opts.InitialPrompt = "domain terms"
		args := testFasterWhisper().buildArgs("audio.wav", opts)

		for _, flag := range []string{"--word-timestamps", "--vad-filter", "--condition-on-previous-text"} {
			if !hasArg(args, flag) {
				t.Errorf("expected flag %s", flag)
			}
		}
		if got, _ := argValue(args, "--initial-prompt"); got != "domain terms" {
			t.Errorf("--initial-prompt = %q", got)
		}
	})
}

func streamOver(ndjson string) *fwStream {
	return &fwStream{
		decoder: json.NewDecoder(strings.NewReader(ndjson)),
		stderr:  &bytes.Buffer{},
	}
}

func TestFwStream(t *testing.T) {
	t.Run("full run", func(t *testing.T) {
		s := streamOver(`{"type":"info","language":"en","language_probability":0.97,"duration":2.8}
{"type":"segment","start":0,"end":1.2,"text":" Hello","no_speech_prob":0.01,"avg_logprob":-0.1}
{"type":"segment","start":1.2,"end":2.8,"text":" world","no_speech_prob":0.02,"avg_logprob":-0.3}
{"type":"done"}
`)

		info, err := s.readInfo()
		if err != nil {
			t.Fatalf("readInfo returned error: %v", err)
		}
		if info.Language != "en" || info.Duration != 2.8 {
			t.Errorf("unexpected info: %+v", info)
		}

		first, err := s.Next()
		if err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		if first.Text != " Hello" || first.AvgLogProb == nil || *first.AvgLogProb != -0.1 {
			t.Errorf("unexpected first segment: %+v", first)
		}

		second, err := s.Next()
		if err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		if second.Text != " world" || second.NoSpeechProb != 0.02 {
			t.Errorf("unexpected second segment: %+v", second)
		}

		if _, err := s.Next(); !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF after done, got %v", err)
		}
		// EOF must be sticky.
		if _, err := s.Next(); !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF on repeat call, got %v", err)
		}
	})

	t.Run("segment without avg_logprob", func(t *testing.T) {
		s := streamOver(`{"type":"segment","start":0,"end":1,"text":"hi","no_speech_prob":0.5}
`)
		seg, err := s.Next()
		if err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		if seg.AvgLogProb != nil {
			t.Errorf("expected nil AvgLogProb, got %v", *seg.AvgLogProb)
		}
	})

	t.Run("mid-run error record", func(t *testing.T) {
		s := streamOver(`{"type":"segment","start":0,"end":1,"text":"hi","no_speech_prob":0}
{"type":"error","message":"CUDA out of memory"}
`)
		if _, err := s.Next(); err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		_, err := s.Next()
		if err == nil || !strings.Contains(err.Error(), "CUDA out of memory") {
			t.Fatalf("expected error record to surface, got %v", err)
		}
	})

	t.Run("truncated stream", func(t *testing.T) {
		s := streamOver(`{"type":"segment","start":0,"end":1,"text":"hi","no_speech_prob":0}
`)
		if _, err := s.Next(); err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		_, err := s.Next()
		if err == nil || errors.Is(err, io.EOF) {
			t.Fatalf("a stream ending without done must fail, got %v", err)
		}
	})

	t.Run("startup error record", func(t *testing.T) {
		s := streamOver(`{"type":"error","message":"Invalid model size 'enormous'"}
`)
		_, err := s.readInfo()
		if err == nil || !strings.Contains(err.Error(), "Invalid model size") {
			t.Fatalf("expected startup failure, got %v", err)
		}
	})

	t.Run("stderr tail in error", func(t *testing.T) {
		s := streamOver("")
		s.stderr.WriteString("Traceback (most recent call last):\n  ...\nModuleNotFoundError: No module named 'faster_whisper'\n")
		_, err := s.readInfo()
		if err == nil || !strings.Contains(err.Error(), "ModuleNotFoundError") {
			t.Fatalf("expected stderr tail in error, got %v", err)
		}
	})
}

func TestNewFasterWhisper(t *testing.T) {
	t.Run("missing interpreter", func(t *testing.T) {
		_, err := NewFasterWhisper(Config{PythonBin: "no-such-python-interpreter"})
		if err == nil {
			t.Fatal("expected error for missing interpreter")
		}
	})

	t.Run("script lifecycle", func(t *testing.T) {
		// Any resolvable executable works for construction; "sh" is always
		// on PATH in the test environment.
		f, err := NewFasterWhisper(Config{PythonBin: "sh", ModelSize: "tiny"})
		if err != nil {
			t.Fatalf("NewFasterWhisper() error = %v", err)
		}

		if f.Name() != "faster-whisper" {
			t.Errorf("Name() = %q, want %q", f.Name(), "faster-whisper")
		}
		scriptPath := f.scriptPath
		if scriptPath == "" {
			t.Fatal("expected helper script path")
		}
		if _, err := os.Stat(scriptPath); err != nil {
			t.Fatalf("helper script not materialized: %v", err)
		}

		if err := f.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if _, err := os.Stat(scriptPath); !os.IsNotExist(err) {
			t.Errorf("helper script should be removed on Close, stat err = %v", err)
		}
		// Close is idempotent.
		if err := f.Close(); err != nil {
			t.Fatalf("second Close() error = %v", err)
		}
	})
}
