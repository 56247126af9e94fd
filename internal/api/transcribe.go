package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/whisper-local/internal/driver"
	"github.com/houzhh15/whisper-local/internal/engine"
	"github.com/houzhh15/whisper-local/internal/metrics"
	"github.com/houzhh15/whisper-local/internal/models"
	"github.com/houzhh15/whisper-local/internal/repetition"
	"github.com/houzhh15/whisper-local/pkg/logger"
)

// 支持的响应格式
const (
	FormatJSON        = "json"
	FormatVerboseJSON = "verbose_json"
	FormatText        = "text"
)

// repetitionWarnRun 连续重复片段达到该长度时记录告警日志
const repetitionWarnRun = 3

// allowedAudioFormats 支持的音频文件扩展名
var allowedAudioFormats = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".webm": true,
}

// TranscriptionSegment is one segment entry in the plain json response.
type TranscriptionSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResponse is the response_format=json body.
type TranscriptionResponse struct {
	Task     string                 `json:"task"`
	Language string                 `json:"language"`
	Duration float64                `json:"duration"`
	Text     string                 `json:"text"`
	Segments []TranscriptionSegment `json:"segments"`
}

// VerboseSegment adds the per-segment quality scores the plain entry drops.
// AvgLogProb stays a pointer so backends that never score segments serialize
// the field away instead of reporting a fake 0.
type VerboseSegment struct {
	ID           int      `json:"id"`
	Start        float64  `json:"start"`
	End          float64  `json:"end"`
	Text         string   `json:"text"`
	NoSpeechProb float64  `json:"no_speech_prob"`
	AvgLogProb   *float64 `json:"avg_logprob,omitempty"`
}

// VerboseTranscriptionResponse is the response_format=verbose_json body.
type VerboseTranscriptionResponse struct {
	Task       string           `json:"task"`
	Language   string           `json:"language"`
	Duration   float64          `json:"duration"`
	Text       string           `json:"text"`
	Confidence float64          `json:"confidence"`
	Segments   []VerboseSegment `json:"segments"`
}

// HandleTranscribe 处理音频转写请求
// POST /api/whisper/transcribe
//
// multipart 字段:
//
//	audio           音频文件 (必填)
//	model           期望的模型, 与已加载模型不一致时返回400
//	language        语言代码, 留空或"auto"时由引擎自动检测
//	temperature     采样温度
//	prompt          初始提示词
//	response_format json | verbose_json | text, 默认json
func HandleTranscribe(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Engine == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transcription service not initialized"})
			return
		}
		start := time.Now()
		engineName := deps.Engine.Name()

		// 解析 multipart form
		file, err := c.FormFile("audio")
		if err != nil {
			metrics.RecordError(engineName, "BAD_REQUEST")
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("missing audio file: %v", err)})
			return
		}

		// 检查文件大小
		maxBytes := deps.Cfg.Limits.MaxUploadMB * 1024 * 1024
		if file.Size > maxBytes {
			metrics.RecordError(engineName, "FILE_TOO_LARGE")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("audio file exceeds %dMB limit", deps.Cfg.Limits.MaxUploadMB),
			})
			return
		}

		// 验证文件格式
		ext := strings.ToLower(filepath.Ext(file.Filename))
		if !allowedAudioFormats[ext] {
			metrics.RecordError(engineName, "BAD_FORMAT")
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported audio format: %q", ext)})
			return
		}

		// 模型校验: 请求的模型必须与当前加载的模型一致
		if want := c.PostForm("model"); want != "" {
			if models.Normalize(want) != models.Normalize(deps.Cfg.Engine.ModelSize) {
				metrics.RecordError(engineName, "MODEL_MISMATCH")
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("model %q is not loaded (serving %q)", want, deps.Cfg.Engine.ModelSize),
				})
				return
			}
		}

		format := c.DefaultPostForm("response_format", FormatJSON)
		if format != FormatJSON && format != FormatVerboseJSON && format != FormatText {
			metrics.RecordError(engineName, "BAD_REQUEST")
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported response_format: %q", format)})
			return
		}

		opts := engine.DefaultOptions()
		language := strings.TrimSpace(c.PostForm("language"))
		if language != "" && language != "auto" {
			opts.Language = language
		}
		if t := c.PostForm("temperature"); t != "" {
			temp, err := strconv.ParseFloat(t, 64)
			if err != nil {
				metrics.RecordError(engineName, "BAD_REQUEST")
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid temperature: %q", t)})
				return
			}
			opts.Temperature = temp
		}
		opts.InitialPrompt = c.PostForm("prompt")

		// 保存上传文件到临时目录, 转写结束后整体清理
		tmpDir, err := os.MkdirTemp("", "whisper-upload-")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to stage upload: %v", err)})
			return
		}
		defer os.RemoveAll(tmpDir)

		audioPath := filepath.Join(tmpDir, filepath.Base(file.Filename))
		if err := c.SaveUploadedFile(file, audioPath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to save upload: %v", err)})
			return
		}

		stream, info, err := deps.Engine.Transcribe(c.Request.Context(), audioPath, opts)
		if err != nil {
			if errors.Is(err, engine.ErrBusy) {
				metrics.RecordError(engineName, "BUSY")
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transcription capacity exhausted, retry later"})
				return
			}
			metrics.RecordTranscription(engineName, false)
			metrics.RecordError(engineName, "ENGINE_START")
			logger.LogTranscription(logger.L(), engineName, "http_transcribe", file.Filename, time.Since(start).Milliseconds(), "ENGINE_START")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer stream.Close()

		// 转写端点需要逐段的质量分数, 先排空流再做汇总
		segments := make([]engine.Segment, 0)
		var streamErr error
		for {
			seg, err := stream.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				streamErr = err
				break
			}
			segments = append(segments, seg)
		}
		if streamErr != nil {
			metrics.RecordTranscription(engineName, false)
			metrics.RecordError(engineName, "STREAM_FAILED")
			logger.LogTranscription(logger.L(), engineName, "http_transcribe", file.Filename, time.Since(start).Milliseconds(), "STREAM_FAILED")
			c.JSON(http.StatusInternalServerError, gin.H{"error": streamErr.Error()})
			return
		}

		result := driver.FoldSegments(segments, info, language)

		duration := time.Since(start)
		metrics.RecordTranscription(engineName, true)
		metrics.RecordDuration(engineName, duration.Seconds())
		metrics.RecordAudioDuration(info.Duration)
		metrics.RecordSegments(len(segments))
		logger.LogTranscription(logger.L(), engineName, "http_transcribe", file.Filename, duration.Milliseconds(), "")

		warnOnRepetition(engineName, result.Segments)

		switch format {
		case FormatText:
			c.String(http.StatusOK, result.Text)
		case FormatVerboseJSON:
			c.JSON(http.StatusOK, verboseResponse(result, segments, info))
		default:
			c.JSON(http.StatusOK, jsonResponse(result, info))
		}
	}
}

// warnOnRepetition 检测幻觉式的循环输出并记录告警
// 低质量音频上 Whisper 会反复输出同一句话, 记录日志方便排查模型与音频问题
func warnOnRepetition(engineName string, segments []driver.OutputSegment) {
	texts := make([]string, 0, len(segments))
	for _, s := range segments {
		texts = append(texts, s.Text)
	}
	if run := repetition.LongestRun(texts); run >= repetitionWarnRun {
		logger.L().Warn("repetitive transcription output detected",
			"engine", engineName,
			"run_length", run,
			"segments", len(texts),
		)
	}
}

func jsonResponse(res driver.Result, info engine.Info) TranscriptionResponse {
	segments := make([]TranscriptionSegment, 0, len(res.Segments))
	for i, s := range res.Segments {
		segments = append(segments, TranscriptionSegment{
			ID:    i,
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}
	return TranscriptionResponse{
		Task:     "transcribe",
		Language: res.Language,
		Duration: info.Duration,
		Text:     res.Text,
		Segments: segments,
	}
}

func verboseResponse(res driver.Result, raw []engine.Segment, info engine.Info) VerboseTranscriptionResponse {
	segments := make([]VerboseSegment, 0, len(raw))
	for i, s := range raw {
		segments = append(segments, VerboseSegment{
			ID:           i,
			Start:        s.Start,
			End:          s.End,
			Text:         strings.TrimSpace(s.Text),
			NoSpeechProb: s.NoSpeechProb,
			AvgLogProb:   s.AvgLogProb,
		})
	}
	return VerboseTranscriptionResponse{
		Task:       "transcribe",
		Language:   res.Language,
		Duration:   info.Duration,
		Text:       res.Text,
		Confidence: res.Confidence,
		Segments:   segments,
	}
}
