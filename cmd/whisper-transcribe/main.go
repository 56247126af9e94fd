// Command whisper-transcribe runs one transcription and prints the result
// document as a single JSON line on stdout.
//
// The positional contract is stable so other programs can drive it:
//
//	whisper-transcribe <audio_path> <model_size> <language> <device> \
//	    [compute_type [beam_size [best_of [temperature \
//	    [compression_ratio_threshold [logprob_threshold [no_speech_threshold]]]]]]]
//
// Success writes {"text","confidence","language","segments"} and exits 0.
// Any failure writes {"error","text":"","confidence":0} and exits 1; stdout
// never carries anything but exactly one of those two documents.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/houzhh15/whisper-local/internal/driver"
	"github.com/houzhh15/whisper-local/internal/engine"
	"github.com/houzhh15/whisper-local/pkg/logger"
)

var version = "dev"

// errReported marks errors that were already written to stdout as the
// failure document, so main does not print them a second time.
var errReported = errors.New("error already reported")

// engineFactory is injected so tests can substitute a scripted backend.
type engineFactory func(engine.Config) (engine.Engine, error)

func main() {
	rootCmd := newRootCmd(engine.New, os.Stdout)

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(newEngine engineFactory, stdout io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "whisper-transcribe <audio_path> <model_size> <language> <device> " +
			"[compute_type [beam_size [best_of [temperature [compression_ratio_threshold [logprob_threshold [no_speech_threshold]]]]]]]",
		Short: "One-shot speech transcription driver",
		Long: `Transcribe a single audio file and print the result as one JSON line.

The language argument is forwarded to the model only when it names a
concrete language; "auto" and the empty string leave detection to the
model. Trailing arguments are optional and default to:
compute_type=int8 beam_size=1 best_of=1 temperature=0.0
compression_ratio_threshold=2.4 logprob_threshold=-1.0 no_speech_threshold=0.6

Environment:
  WHISPER_ENGINE       backend: faster-whisper (default), whisper-cpp, remote, mock
  WHISPER_PYTHON       interpreter for the faster-whisper backend
  WHISPER_CPP_BIN      whisper.cpp executable for the whisper-cpp backend
  WHISPER_MODELS_DIR   GGML model directory for the whisper-cpp backend
  WHISPER_REMOTE_URL   base URL for the remote backend
  WHISPER_LOG_LEVEL    debug, info, warn, error (logs go to stderr)`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			// 参数个数校验放在 ParseParams 里做, 保证个数错误同样走失败文档
			return run(cmd.Context(), newEngine, stdout, args)
		},
	}
	// 位置参数可能是负数 (logprob_threshold 常见 -1.0), 遇到首个位置参数后停止解析标志
	rootCmd.Flags().SetInterspersed(false)
	return rootCmd
}

func run(ctx context.Context, newEngine engineFactory, stdout io.Writer, args []string) error {
	logInstance, lerr := logger.Init(logger.Config{
		Level:       os.Getenv("WHISPER_LOG_LEVEL"),
		Environment: os.Getenv("WHISPER_ENV"),
	})
	if lerr != nil {
		// 级别非法时退回默认日志配置
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", lerr)
		logInstance, _ = logger.New(logger.Config{})
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()

	params, err := driver.ParseParams(args)
	if err != nil {
		logger.LogTranscription(logInstance, "", "cli_transcribe", "", 0, "BAD_ARGS")
		return report(stdout, err)
	}

	cfg := params.EngineConfig()
	applyEnvOverrides(&cfg)

	eng, err := newEngine(cfg)
	if err != nil {
		logger.LogTranscription(logInstance, cfg.Backend, "cli_transcribe", params.AudioPath, time.Since(start).Milliseconds(), "ENGINE_INIT")
		return report(stdout, err)
	}
	defer eng.Close()

	stream, info, err := eng.Transcribe(ctx, params.AudioPath, params.Options())
	if err != nil {
		logger.LogTranscription(logInstance, eng.Name(), "cli_transcribe", params.AudioPath, time.Since(start).Milliseconds(), "TRANSCRIBE")
		return report(stdout, err)
	}
	defer stream.Close()

	result, err := driver.Collect(stream, info, params.Language)
	if err != nil {
		logger.LogTranscription(logInstance, eng.Name(), "cli_transcribe", params.AudioPath, time.Since(start).Milliseconds(), "STREAM")
		return report(stdout, err)
	}

	logger.LogTranscription(logInstance, eng.Name(), "cli_transcribe", params.AudioPath, time.Since(start).Milliseconds(), "")

	if err := driver.WriteResult(stdout, result); err != nil {
		return report(stdout, fmt.Errorf("failed to write result document: %w", err))
	}
	return nil
}

// report 把错误写成失败文档并返回 errReported, 保证 stdout 上只出现文档本身
func report(stdout io.Writer, err error) error {
	if werr := driver.WriteError(stdout, err); werr != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to write error document: %v (original error: %v)\n", werr, err)
	}
	return errReported
}

// applyEnvOverrides 应用 WHISPER_* 环境变量, 在不改变位置参数契约的前提下
// 切换后端与本地路径配置
func applyEnvOverrides(cfg *engine.Config) {
	if v := os.Getenv("WHISPER_ENGINE"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("WHISPER_PYTHON"); v != "" {
		cfg.PythonBin = v
	}
	if v := os.Getenv("WHISPER_CPP_BIN"); v != "" {
		cfg.BinPath = v
	}
	if v := os.Getenv("WHISPER_MODELS_DIR"); v != "" {
		cfg.ModelsDir = v
	}
	if v := os.Getenv("WHISPER_REMOTE_URL"); v != "" {
		cfg.RemoteURL = v
	}
	if v := os.Getenv("WHISPER_REMOTE_TOKEN"); v != "" {
		cfg.RemoteToken = v
	}
}
