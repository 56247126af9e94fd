package engine

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

//go:embed assets/faster_whisper_stream.py
var fasterWhisperScript string

// FasterWhisper implements Engine by driving the Python faster-whisper
// library in a child process. The bundled helper script loads the model,
// decodes the audio and writes newline-delimited JSON records to stdout;
// this implementation relays those records as a lazy Stream, so segments
// reach the caller while the model is still decoding later audio.
//
// This is the primary backend: faster-whisper's CTranslate2 runtime is
// considerably faster than openai-whisper on CPU and supports int8
// quantization for small-footprint deployments.
type FasterWhisper struct {
	pythonBin   string // Python interpreter (e.g. "python3" or a venv path)
	scriptPath  string // Helper script materialized to a temp file at startup
	modelSize   string // Whisper model identifier (e.g. "base", "large-v3")
	device      string // Compute device ("cpu", "cuda", "auto")
	computeType string // CTranslate2 quantization ("int8", "float16", ...)
}

// NewFasterWhisper creates a FasterWhisper backend with startup validation.
//
// Parameters:
//   - cfg: Backend configuration; ModelSize, Device and ComputeType select
//     the model handle, PythonBin overrides the interpreter (default "python3")
//
// Returns:
//   - *FasterWhisper: Configured instance if the interpreter is resolvable
//   - error: Non-nil if the interpreter is not on PATH or the helper script
//     cannot be written
//
// Startup validation:
//   - Resolves the interpreter with exec.LookPath
//   - Materializes the embedded helper script into a temp file; the file is
//     removed by Close
func NewFasterWhisper(cfg Config) (*FasterWhisper, error) {
	pythonBin := cfg.PythonBin
	if pythonBin == "" {
		pythonBin = "python3"
	}
	if _, err := exec.LookPath(pythonBin); err != nil {
		return nil, fmt.Errorf("python interpreter not found: %w", err)
	}

	script, err := os.CreateTemp("", "faster-whisper-*.py")
	if err != nil {
		return nil, fmt.Errorf("failed to create helper script: %w", err)
	}
	if _, err := script.WriteString(fasterWhisperScript); err != nil {
		script.Close()
		os.Remove(script.Name())
		return nil, fmt.Errorf("failed to write helper script: %w", err)
	}
	if err := script.Close(); err != nil {
		os.Remove(script.Name())
		return nil, fmt.Errorf("failed to close helper script: %w", err)
	}

	modelSize := cfg.ModelSize
	if modelSize == "" {
		modelSize = "base"
	}
	device := cfg.Device
	if device == "" {
		device = "cpu"
	}
	computeType := cfg.ComputeType
	if computeType == "" {
		computeType = "int8"
	}

	return &FasterWhisper{
		pythonBin:   pythonBin,
		scriptPath:  script.Name(),
		modelSize:   modelSize,
		device:      device,
		computeType: computeType,
	}, nil
}

// buildArgs assembles the helper script's command line from the decoding
// options. Boolean options are store_true flags on the Python side, so they
// are only emitted when enabled; language is only forwarded when the caller
// pinned one, otherwise the model auto-detects.
func (f *FasterWhisper) buildArgs(audioPath string, opts Options) []string {
	args := []string{
		f.scriptPath,
		"--audio", audioPath,
		"--model", f.modelSize,
		"--device", f.device,
		"--compute-type", f.computeType,
		"--beam-size", strconv.Itoa(opts.BeamSize),
		"--best-of", strconv.Itoa(opts.BestOf),
		"--temperature", formatFloat(opts.Temperature),
		"--compression-ratio-threshold", formatFloat(opts.CompressionRatioThreshold),
		"--log-prob-threshold", formatFloat(opts.LogProbThreshold),
		"--no-speech-threshold", formatFloat(opts.NoSpeechThreshold),
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.InitialPrompt != "" {
		args = append(args, "--initial-prompt", opts.InitialPrompt)
	}
	if opts.WordTimestamps {
		args = append(args, "--word-timestamps")
	}
	if opts.VADFilter {
		args = append(args, "--vad-filter")
	}
	if opts.ConditionOnPreviousText {
		args = append(args, "--condition-on-previous-text")
	}
	return args
}

// formatFloat renders a float argument without trailing zeros ("0", "-1", "2.4").
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Transcribe starts the helper process and returns a Stream over its output.
//
// Implementation details:
//   - Uses exec.CommandContext for timeout control via context
//   - Reads stdout with a json.Decoder; each NDJSON record is one event
//   - Captures stderr separately so Python tracebacks end up in errors
//     instead of corrupting the record stream
//   - The first record is either run metadata ("info") or a startup error
//     ("error": bad model, unreadable audio); reading it here lets
//     Transcribe fail fast before the caller starts consuming segments
func (f *FasterWhisper) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, Info, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, Info{}, fmt.Errorf("audio file not accessible: %w", err)
	}

	cmd := exec.CommandContext(ctx, f.pythonBin, f.buildArgs(audioPath, opts)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, Info{}, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Printf("[FasterWhisper] Executing: %s %s", f.pythonBin, strings.Join(cmd.Args[1:], " "))
	if err := cmd.Start(); err != nil {
		return nil, Info{}, fmt.Errorf("failed to start helper process: %w", err)
	}

	stream := &fwStream{
		cmd:     cmd,
		decoder: json.NewDecoder(stdout),
		stderr:  &stderr,
	}

	info, err := stream.readInfo()
	if err != nil {
		return nil, Info{}, err
	}
	return stream, info, nil
}

// HealthCheck verifies the interpreter can import faster_whisper.
//
// Implementation:
//   - Executes: python -c "import faster_whisper"
//   - Returns true when the import succeeds (exit code 0)
//   - Returns false with the import error otherwise
//
// This catches the common misconfiguration (missing pip package) without
// paying the cost of loading a model.
func (f *FasterWhisper) HealthCheck(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, f.pythonBin, "-c", "import faster_whisper")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("faster_whisper import failed: %w, output: %s", err, truncate(string(output), 200))
	}
	return true, nil
}

// Name returns the identifier of this backend implementation.
func (f *FasterWhisper) Name() string {
	return "faster-whisper"
}

// Close removes the materialized helper script.
func (f *FasterWhisper) Close() error {
	if f.scriptPath == "" {
		return nil
	}
	err := os.Remove(f.scriptPath)
	f.scriptPath = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// fwRecord is one NDJSON line from the helper script.
type fwRecord struct {
	Type                string   `json:"type"`
	Language            string   `json:"language"`
	LanguageProbability float64  `json:"language_probability"`
	Duration            float64  `json:"duration"`
	Start               float64  `json:"start"`
	End                 float64  `json:"end"`
	Text                string   `json:"text"`
	NoSpeechProb        float64  `json:"no_speech_prob"`
	AvgLogProb          *float64 `json:"avg_logprob"`
	Message             string   `json:"message"`
}

// fwStream relays the helper process's NDJSON records as Stream segments.
// cmd is nil in tests that feed the decoder from a fixed buffer.
type fwStream struct {
	cmd     *exec.Cmd
	decoder *json.Decoder
	stderr  *bytes.Buffer
	done    bool
	reaped  bool
}

// readInfo consumes the mandatory first record of a run.
func (s *fwStream) readInfo() (Info, error) {
	var rec fwRecord
	if err := s.decoder.Decode(&rec); err != nil {
		s.reap(true)
		return Info{}, fmt.Errorf("helper process produced no output: %v%s", err, s.stderrTail())
	}
	switch rec.Type {
	case "info":
		return Info{
			Language:            rec.Language,
			LanguageProbability: rec.LanguageProbability,
			Duration:            rec.Duration,
		}, nil
	case "error":
		s.reap(false)
		return Info{}, fmt.Errorf("transcription failed: %s", rec.Message)
	default:
		s.reap(true)
		return Info{}, fmt.Errorf("unexpected first record type %q", rec.Type)
	}
}

// Next returns the next decoded segment. It returns io.EOF once the helper
// reports completion, and a descriptive error when the helper dies or
// reports a failure mid-run.
func (s *fwStream) Next() (Segment, error) {
	if s.done {
		return Segment{}, io.EOF
	}

	var rec fwRecord
	if err := s.decoder.Decode(&rec); err != nil {
		s.done = true
		s.reap(true)
		return Segment{}, fmt.Errorf("helper process died mid-run: %v%s", err, s.stderrTail())
	}

	switch rec.Type {
	case "segment":
		return Segment{
			Start:        rec.Start,
			End:          rec.End,
			Text:         rec.Text,
			NoSpeechProb: rec.NoSpeechProb,
			AvgLogProb:   rec.AvgLogProb,
		}, nil
	case "done":
		s.done = true
		s.reap(false)
		return Segment{}, io.EOF
	case "error":
		s.done = true
		s.reap(false)
		return Segment{}, fmt.Errorf("transcription failed: %s", rec.Message)
	default:
		s.done = true
		s.reap(true)
		return Segment{}, fmt.Errorf("unexpected record type %q in segment stream", rec.Type)
	}
}

// Close terminates the helper process if the stream was not fully drained.
func (s *fwStream) Close() error {
	s.done = true
	s.reap(true)
	return nil
}

// reap waits for the helper process to exit, killing it first when force is
// set. Safe to call more than once; only the first call does anything.
func (s *fwStream) reap(force bool) {
	if s.reaped {
		return
	}
	s.reaped = true
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	if force {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
}

// stderrTail returns the last stderr lines for error reporting; Python puts
// the useful part of a traceback at the end.
func (s *fwStream) stderrTail() string {
	if s.stderr == nil {
		return ""
	}
	out := strings.TrimSpace(s.stderr.String())
	if out == "" {
		return ""
	}
	lines := strings.Split(out, "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return " (stderr: " + strings.Join(lines, " | ") + ")"
}

// truncate caps diagnostic output captured from a subprocess.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
