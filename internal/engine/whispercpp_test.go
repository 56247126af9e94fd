package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCppFixture(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()

	binPath := filepath.Join(dir, "whisper-cli")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\necho test"), 0755); err != nil {
		t.Fatalf("failed to write binary fixture: %v", err)
	}

	modelsDir := filepath.Join(dir, "models")
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		t.Fatalf("failed to create models dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelsDir, "ggml-base.bin"), []byte("fake model"), 0644); err != nil {
		t.Fatalf("failed to write model fixture: %v", err)
	}

	return Config{BinPath: binPath, ModelsDir: modelsDir, ModelSize: "base"}
}

func TestNewWhisperCpp(t *testing.T) {
	t.Run("missing binary path", func(t *testing.T) {
		if _, err := NewWhisperCpp(Config{}); err == nil {
			t.Error("expected error for unconfigured binary path")
		}
	})

	t.Run("nonexistent binary", func(t *testing.T) {
		if _, err := NewWhisperCpp(Config{BinPath: "/nonexistent/whisper-cli"}); err == nil {
			t.Error("expected error for nonexistent binary")
		}
	})

	t.Run("binary not executable", func(t *testing.T) {
		dir := t.TempDir()
		binPath := filepath.Join(dir, "whisper-cli")
		os.WriteFile(binPath, []byte("not runnable"), 0644)

		if _, err := NewWhisperCpp(Config{BinPath: binPath}); err == nil {
			t.Error("expected error for non-executable binary")
		}
	})

	t.Run("missing model", func(t *testing.T) {
		cfg := writeCppFixture(t)
		cfg.ModelSize = "medium"
		if _, err := NewWhisperCpp(cfg); err == nil {
			t.Error("expected error for uninstalled model")
		}
	})

	t.Run("valid configuration", func(t *testing.T) {
		w, err := NewWhisperCpp(writeCppFixture(t))
		if err != nil {
			t.Fatalf("NewWhisperCpp() error = %v", err)
		}
		if w.Name() != "whisper-cpp" {
			t.Errorf("Name() = %q, want %q", w.Name(), "whisper-cpp")
		}
	})
}

func TestWhisperCppBuildArgs(t *testing.T) {
	w, err := NewWhisperCpp(writeCppFixture(t))
	if err != nil {
		t.Fatalf("NewWhisperCpp() error = %v", err)
	}

	t.Run("default options", func(t *testing.T) {
		args := w.buildArgs("audio.wav", "/tmp/out", DefaultOptions())

		if got, _ := argValue(args, "-f"); got != "audio.wav" {
			t.Errorf("-f = %q", got)
		}
		if got, _ := argValue(args, "-of"); got != "/tmp/out" {
			t.Errorf("-of = %q", got)
		}
		if !hasArg(args, "-oj") {
			t.Error("expected JSON output flag -oj")
		}
		// Unset language means detection, which whisper.cpp spells "auto".
		if got, _ := argValue(args, "-l"); got != "auto" {
			t.Errorf("-l = %q, want auto", got)
		}
		// Conditioning is off by default, which whisper.cpp spells -nc.
		if !hasArg(args, "-nc") {
			t.Error("expected -nc when conditioning is off")
		}
		if hasArg(args, "-t") {
			t.Error("thread cap must be absent when unconfigured")
		}
	})

	t.Run("pinned language and conditioning", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Language = "de"
		opts.ConditionOnPreviousText = true
		opts.InitialPrompt = "context"
		args := w.buildArgs("audio.wav", "/tmp/out", opts)

		if got, _ := argValue(args, "-l"); got != "de" {
			t.Errorf("-l = %q, want de", got)
		}
		if hasArg(args, "-nc") {
			t.Error("-nc must be absent when conditioning is on")
		}
		if got, _ := argValue(args, "--prompt"); got != "context" {
			t.Errorf("--prompt = %q", got)
		}
	})

	t.Run("thread cap", func(t *testing.T) {
		capped := *w
		capped.threads = 4
		args := capped.buildArgs("audio.wav", "/tmp/out", DefaultOptions())
		if got, _ := argValue(args, "-t"); got != "4" {
			t.Errorf("-t = %q, want 4", got)
		}
	})
}

func TestParseCppOutput(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		data := []byte(`{
			"systeminfo": "AVX = 1",
			"result": {"language": "en"},
			"transcription": [
				{"timestamps": {"from": "00:00:00,000", "to": "00:00:01,200"}, "offsets": {"from": 0, "to": 1200}, "text": " Hello"},
				{"timestamps": {"from": "00:00:01,200", "to": "00:00:02,800"}, "offsets": {"from": 1200, "to": 2800}, "text": " world"}
			]
		}`)

		segments, info, err := parseCppOutput(data)
		if err != nil {
			t.Fatalf("parseCppOutput returned error: %v", err)
		}
		if info.Language != "en" {
			t.Errorf("Language = %q, want en", info.Language)
		}
		if len(segments) != 2 {
			t.Fatalf("expected 2 segments, got %d", len(segments))
		}
		if segments[0].Start != 0 || segments[0].End != 1.2 {
			t.Errorf("offsets must convert ms to seconds: %+v", segments[0])
		}
		if segments[1].Start != 1.2 || segments[1].End != 2.8 {
			t.Errorf("offsets must convert ms to seconds: %+v", segments[1])
		}
		// whisper.cpp scores nothing.
		if segments[0].AvgLogProb != nil || segments[0].NoSpeechProb != 0 {
			t.Errorf("expected unscored segment, got %+v", segments[0])
		}
	})

	t.Run("empty transcription", func(t *testing.T) {
		segments, _, err := parseCppOutput([]byte(`{"result":{"language":""},"transcription":[]}`))
		if err != nil {
			t.Fatalf("parseCppOutput returned error: %v", err)
		}
		if segments == nil || len(segments) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", segments)
		}
	})

	t.Run("malformed document", func(t *testing.T) {
		if _, _, err := parseCppOutput([]byte("not json")); err == nil {
			t.Error("expected parse error")
		}
	})
}
