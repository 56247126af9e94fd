package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/houzhh15/whisper-local/internal/models"
)

// WhisperCpp implements Engine by invoking a whisper.cpp binary compiled
// for the host. The binary decodes the whole file and writes one JSON
// document, so the returned Stream replays a materialized slice.
//
// This backend is the fallback for hosts without a working Python
// environment (e.g. macOS ARM images where the CTranslate2 wheel SIGILLs).
type WhisperCpp struct {
	binPath   string // Path to the whisper.cpp executable
	modelPath string // Resolved GGML model file
	threads   int    // CPU thread cap, 0 keeps the binary default
}

// NewWhisperCpp creates a WhisperCpp backend with startup validation.
//
// Parameters:
//   - cfg: Backend configuration; BinPath locates the executable, ModelSize
//     and ModelsDir select the GGML model file, Threads caps CPU usage
//
// Returns:
//   - *WhisperCpp: Configured instance if binary and model both resolve
//   - error: Non-nil if the binary is missing, not executable, or the model
//     file cannot be found
//
// Startup validation:
//   - Checks binary existence with os.Stat
//   - Verifies executable permission bits (Unix mode 0111: owner/group/other execute)
//   - Resolves the model through the model store so a bad model name fails
//     here instead of mid-request
func NewWhisperCpp(cfg Config) (*WhisperCpp, error) {
	binPath := cfg.BinPath
	if binPath == "" {
		return nil, fmt.Errorf("whisper.cpp binary path not configured")
	}

	info, err := os.Stat(binPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("whisper.cpp binary not found: %s", binPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat whisper.cpp binary: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return nil, fmt.Errorf("whisper.cpp binary is not executable: %s (mode: %s)", binPath, info.Mode())
	}

	modelSize := cfg.ModelSize
	if modelSize == "" {
		modelSize = "base"
	}
	store := models.NewStore(cfg.ModelsDir)
	modelPath, err := store.Resolve(modelSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model %q: %w", modelSize, err)
	}

	return &WhisperCpp{
		binPath:   binPath,
		modelPath: modelPath,
		threads:   cfg.Threads,
	}, nil
}

// buildArgs assembles the whisper.cpp command line. The binary wants "auto"
// for language detection rather than an absent flag, and disables decoder
// context with -nc (the inverse of ConditionOnPreviousText). Word timestamps
// have no whisper.cpp equivalent and are ignored.
func (w *WhisperCpp) buildArgs(audioPath, outBase string, opts Options) []string {
	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-oj",
		"-of", outBase,
		"-bs", strconv.Itoa(opts.BeamSize),
		"-bo", strconv.Itoa(opts.BestOf),
		"-tp", formatFloat(opts.Temperature),
	}

	lang := "auto"
	if opts.Language != "" {
		lang = opts.Language
	}
	args = append(args, "-l", lang)

	if w.threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.threads))
	}
	if !opts.ConditionOnPreviousText {
		args = append(args, "-nc")
	}
	if opts.InitialPrompt != "" {
		args = append(args, "--prompt", opts.InitialPrompt)
	}
	return args
}

// Transcribe runs the binary to completion and parses its JSON output file.
//
// Implementation details:
//   - Uses exec.CommandContext for timeout control via context
//   - Passes -oj and a unique -of base so concurrent runs cannot clobber
//     each other's output files
//   - Reads and removes the output file after the run
func (w *WhisperCpp) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, Info, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, Info{}, fmt.Errorf("audio file not accessible: %w", err)
	}

	outBase := filepath.Join(os.TempDir(), "whisper-cpp-"+uuid.NewString())
	args := w.buildArgs(audioPath, outBase, opts)

	cmd := exec.CommandContext(ctx, w.binPath, args...)
	log.Printf("[WhisperCpp] Executing: %s %s", w.binPath, strings.Join(args, " "))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, Info{}, fmt.Errorf("whisper.cpp execution failed: %w, output: %s", err, truncate(string(output), 500))
	}

	jsonPath := outBase + ".json"
	defer os.Remove(jsonPath)
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, Info{}, fmt.Errorf("whisper.cpp produced no JSON output: %w", err)
	}

	segments, info, err := parseCppOutput(data)
	if err != nil {
		return nil, Info{}, err
	}
	return NewSliceStream(segments), info, nil
}

// HealthCheck verifies the binary and model file are still usable.
//
// Implementation:
//   - Stats the model file (volumes can unmount under a running service)
//   - Executes the binary with -h, which exits 0 after printing usage;
//     whisper.cpp has no version subcommand
func (w *WhisperCpp) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := os.Stat(w.modelPath); err != nil {
		return false, fmt.Errorf("model file missing: %w", err)
	}

	cmd := exec.CommandContext(ctx, w.binPath, "-h")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("binary check failed: %w, output: %s", err, truncate(string(output), 200))
	}
	return true, nil
}

// Name returns the identifier of this backend implementation.
func (w *WhisperCpp) Name() string {
	return "whisper-cpp"
}

// Close releases nothing; the binary is invoked per run.
func (w *WhisperCpp) Close() error {
	return nil
}

// cppOutput mirrors the JSON document written by whisper.cpp's -oj flag.
// Offsets are integer milliseconds; the rest of the document (system info,
// model metadata, timing) is ignored.
type cppOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseCppOutput converts the whisper.cpp JSON document into segments.
// whisper.cpp reports neither token log-probabilities nor a silence
// probability, so AvgLogProb stays nil and NoSpeechProb stays 0; downstream
// confidence scoring treats such segments as unscored.
func parseCppOutput(data []byte) ([]Segment, Info, error) {
	var out cppOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, Info{}, fmt.Errorf("failed to parse whisper.cpp output: %w", err)
	}

	segments := make([]Segment, 0, len(out.Transcription))
	for _, t := range out.Transcription {
		segments = append(segments, Segment{
			Start: float64(t.Offsets.From) / 1000.0,
			End:   float64(t.Offsets.To) / 1000.0,
			Text:  t.Text,
		})
	}
	return segments, Info{Language: out.Result.Language}, nil
}
