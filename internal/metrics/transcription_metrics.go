package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TranscriptionsTotal 转写请求总数计数器
	// Labels: engine (faster-whisper/whisper-cpp/remote/mock-degraded), status (success/error)
	TranscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisper_transcriptions_total",
			Help: "Total number of transcription runs by engine and status",
		},
		[]string{"engine", "status"},
	)

	// TranscriptionErrorsTotal 转写错误总数计数器
	// Labels: engine, error_code (BAD_REQUEST/ENGINE_START/STREAM_FAILED/BUSY/...)
	TranscriptionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisper_transcription_errors_total",
			Help: "Total number of transcription errors by engine and error code",
		},
		[]string{"engine", "error_code"},
	)

	// TranscriptionDuration 转写耗时直方图（秒）
	// Labels: engine
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s, 300s
	TranscriptionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whisper_transcription_duration_seconds",
			Help:    "Transcription run duration in seconds by engine",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"engine"},
	)

	// AudioDuration 音频时长直方图（秒），按后端上报的时长统计
	AudioDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whisper_audio_duration_seconds",
			Help:    "Duration of transcribed audio in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// SegmentsPerRun 每次转写产出的分段数直方图
	SegmentsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whisper_segments_per_run",
			Help:    "Number of segments produced per transcription run",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// EngineUp 引擎可用状态量规（0=不可用，1=可用）
	// Labels: engine
	EngineUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "whisper_engine_up",
			Help: "Engine availability as seen by health probes (0=down, 1=up)",
		},
		[]string{"engine"},
	)

	// FailoverEventsTotal 主备切换事件计数器
	// Labels: from, to
	FailoverEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisper_failover_events_total",
			Help: "Total number of failover transitions between engines",
		},
		[]string{"from", "to"},
	)
)

// RecordTranscription 记录一次转写完成
func RecordTranscription(engine string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	TranscriptionsTotal.WithLabelValues(engine, status).Inc()
}

// RecordError 记录转写错误
func RecordError(engine, errorCode string) {
	TranscriptionErrorsTotal.WithLabelValues(engine, errorCode).Inc()
}

// RecordDuration 记录转写耗时（秒）
func RecordDuration(engine string, durationSeconds float64) {
	TranscriptionDuration.WithLabelValues(engine).Observe(durationSeconds)
}

// RecordAudioDuration 记录转写音频的时长（秒），0 表示后端未上报，跳过
func RecordAudioDuration(seconds float64) {
	if seconds > 0 {
		AudioDuration.Observe(seconds)
	}
}

// RecordSegments 记录单次转写产出的分段数
func RecordSegments(count int) {
	SegmentsPerRun.Observe(float64(count))
}

// SetEngineUp 设置引擎可用状态
func SetEngineUp(engine string, up bool) {
	if up {
		EngineUp.WithLabelValues(engine).Set(1)
	} else {
		EngineUp.WithLabelValues(engine).Set(0)
	}
}

// RecordFailover 记录一次主备切换
func RecordFailover(from, to string) {
	FailoverEventsTotal.WithLabelValues(from, to).Inc()
}
