package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Remote implements Engine as an HTTP client of another whisper-local
// server. It lets a lightweight host delegate transcription to a machine
// with more compute (or a GPU) while keeping the same Engine contract.
//
// The request format matches the transcribe endpoint: multipart/form-data
// with an "audio" file field, and response_format=verbose_json so the
// per-segment quality scores survive the round trip.
type Remote struct {
	apiURL     string       // Base URL of the remote service (e.g. "http://gpu-host:8090")
	model      string       // Model name sent with each request
	authToken  string       // Bearer token, empty when the remote API is open
	httpClient *http.Client // Reusable HTTP client with configured timeout
}

// NewRemote creates a Remote backend from cfg.RemoteURL, cfg.ModelSize and
// cfg.RemoteToken.
//
// The HTTP client is configured with a 10-minute timeout: transcription
// time is roughly proportional to audio duration, and uploaded recordings
// can run several minutes.
func NewRemote(cfg Config) (*Remote, error) {
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("remote backend requires a service URL")
	}

	model := cfg.ModelSize
	if model == "" {
		model = "base"
	}

	return &Remote{
		apiURL:    cfg.RemoteURL,
		model:     model,
		authToken: cfg.RemoteToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}, nil
}

// remoteVerboseResponse mirrors the verbose_json response of the transcribe
// endpoint, which carries the per-segment scores the plain json format drops.
type remoteVerboseResponse struct {
	Task     string  `json:"task"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		ID           int      `json:"id"`
		Start        float64  `json:"start"`
		End          float64  `json:"end"`
		Text         string   `json:"text"`
		NoSpeechProb float64  `json:"no_speech_prob"`
		AvgLogProb   *float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe uploads the audio file and converts the verbose response into
// a Stream.
//
// Implementation details:
//   - Opens the audio file from the provided path
//   - Constructs a multipart request with audio, model, response_format fields
//   - Sends POST request to /api/whisper/transcribe
//   - Parses the verbose_json response into segments
//   - Wraps errors with context for better debugging
func (r *Remote) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, Info, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, Info{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, Info{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, Info{}, fmt.Errorf("failed to copy file data: %w", err)
	}

	if err := writer.WriteField("model", r.model); err != nil {
		return nil, Info{}, fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, Info{}, fmt.Errorf("failed to write response_format field: %w", err)
	}
	if opts.Language != "" {
		if err := writer.WriteField("language", opts.Language); err != nil {
			return nil, Info{}, fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.WriteField("temperature", formatFloat(opts.Temperature)); err != nil {
		return nil, Info{}, fmt.Errorf("failed to write temperature field: %w", err)
	}
	if opts.InitialPrompt != "" {
		if err := writer.WriteField("prompt", opts.InitialPrompt); err != nil {
			return nil, Info{}, fmt.Errorf("failed to write prompt field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, Info{}, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/whisper/transcribe", r.apiURL)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, body)
	if err != nil {
		return nil, Info{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, Info{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, Info{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(bodyBytes), 500))
	}

	var verbose remoteVerboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&verbose); err != nil {
		return nil, Info{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	segments := make([]Segment, 0, len(verbose.Segments))
	for _, s := range verbose.Segments {
		segments = append(segments, Segment{
			Start:        s.Start,
			End:          s.End,
			Text:         s.Text,
			NoSpeechProb: s.NoSpeechProb,
			AvgLogProb:   s.AvgLogProb,
		})
	}

	info := Info{
		Language: verbose.Language,
		Duration: verbose.Duration,
	}
	return NewSliceStream(segments), info, nil
}

// HealthCheck verifies that the remote service is operational.
//
// Implementation:
//   - Sends GET request to /api/whisper/model
//   - Returns true if the service responds with 200 OK
//   - Returns false for network errors or any other status
func (r *Remote) HealthCheck(ctx context.Context) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/whisper/model", r.apiURL)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	return false, fmt.Errorf("health check failed: status %d", resp.StatusCode)
}

// Name returns the identifier of this backend implementation.
func (r *Remote) Name() string {
	return "remote"
}

// Close releases nothing; the HTTP client keeps no per-run state.
func (r *Remote) Close() error {
	return nil
}
