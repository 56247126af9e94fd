package engine

import (
	"fmt"
)

// Supported backend names for Config.Backend.
const (
	BackendFasterWhisper = "faster-whisper"
	BackendWhisperCpp    = "whisper-cpp"
	BackendRemote        = "remote"
	BackendMock          = "mock"
)

// Config selects and parameterizes a backend. Zero values fall back to the
// defaults documented on each field.
type Config struct {
	// Backend is one of "faster-whisper", "whisper-cpp", "remote", "mock".
	// Default: "faster-whisper".
	Backend string

	// ModelSize names the Whisper model to load (e.g. "base", "small", "large-v3").
	// Default: "base".
	ModelSize string

	// Device is the compute device for local backends ("cpu", "cuda", "auto").
	// Default: "cpu".
	Device string

	// ComputeType is the faster-whisper quantization mode (e.g. "int8", "float16").
	// Default: "int8".
	ComputeType string

	// PythonBin overrides the interpreter used for the faster-whisper backend.
	// Default: "python3".
	PythonBin string

	// BinPath is the whisper.cpp executable path for the whisper-cpp backend.
	BinPath string

	// ModelsDir is the directory holding GGML model files for whisper-cpp.
	ModelsDir string

	// RemoteURL is the base URL of the remote transcription service
	// (e.g. "http://gpu-host:8090").
	RemoteURL string

	// RemoteToken is the bearer token sent to the remote service when its
	// API requires authentication. Empty disables the Authorization header.
	RemoteToken string

	// Threads caps the CPU threads used by whisper.cpp. 0 keeps the
	// binary's own default.
	Threads int
}

// New constructs the backend selected by cfg.Backend.
//
// Returns an error when the backend name is unknown or the backend's own
// startup validation fails (missing interpreter, missing binary, missing
// model file).
func New(cfg Config) (Engine, error) {
	switch cfg.Backend {
	case "", BackendFasterWhisper:
		return NewFasterWhisper(cfg)
	case BackendWhisperCpp:
		return NewWhisperCpp(cfg)
	case BackendRemote:
		return NewRemote(cfg)
	case BackendMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown whisper backend: %q", cfg.Backend)
	}
}
