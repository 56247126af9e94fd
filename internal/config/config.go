// Package config 负责加载与校验服务端配置。
// 配置来源按优先级依次为: 内置默认值 < YAML 配置文件 < WHISPER_* 环境变量。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/houzhh15/whisper-local/internal/engine"
	"github.com/houzhh15/whisper-local/pkg/logger"
)

// Config 统一配置结构
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Fallback FallbackConfig `yaml:"fallback"`
	Limits   LimitsConfig   `yaml:"limits"`
	Log      LogConfig      `yaml:"log"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Env             string `yaml:"env"`  // dev, development, staging, production
	Port            int    `yaml:"port"` // 监听端口
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// EngineConfig 转写引擎配置
type EngineConfig struct {
	Backend     string `yaml:"backend"`      // faster-whisper, whisper-cpp, remote, mock
	ModelSize   string `yaml:"model_size"`   // tiny, base, small, medium, large-v3 等
	Device      string `yaml:"device"`       // cpu, cuda
	ComputeType string `yaml:"compute_type"` // int8, float16, float32
	PythonBin   string `yaml:"python_bin"`
	BinPath     string `yaml:"bin_path"`
	ModelsDir   string `yaml:"models_dir"`
	RemoteURL   string `yaml:"remote_url"`
	RemoteToken string `yaml:"remote_token"`
	Threads     int    `yaml:"threads"`
}

// FallbackConfig 降级引擎配置。主引擎连续健康检查失败后切换。
type FallbackConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Backend       string `yaml:"backend"`
	CheckInterval string `yaml:"check_interval"`
	FailThreshold int    `yaml:"fail_threshold"`
}

// LimitsConfig 资源限制配置
type LimitsConfig struct {
	MaxConcurrent int64 `yaml:"max_concurrent"` // 同时转写任务上限, 0 表示不限制
	MaxUploadMB   int64 `yaml:"max_upload_mb"`  // 单个音频文件大小上限
}

// LogConfig 日志配置, 与 pkg/logger 的字段一一对应
type LogConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	File       string `yaml:"file"`
	WithSource bool   `yaml:"with_source"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	AuthEnabled bool   `yaml:"auth_enabled"`
	JWTSecret   string `yaml:"jwt_secret"`
	TokenTTL    string `yaml:"token_ttl"`
}

// Default 返回内置默认配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Env:             "dev",
			Port:            8090,
			ReadTimeout:     "30s",
			WriteTimeout:    "10m",
			ShutdownTimeout: "15s",
		},
		Engine: EngineConfig{
			Backend:     engine.BackendFasterWhisper,
			ModelSize:   "base",
			Device:      "cpu",
			ComputeType: "int8",
			ModelsDir:   "models",
		},
		Fallback: FallbackConfig{
			Enabled:       true,
			Backend:       engine.BackendMock,
			CheckInterval: "30s",
			FailThreshold: 3,
		},
		Limits: LimitsConfig{
			MaxConcurrent: 2,
			MaxUploadMB:   200,
		},
		Log: LogConfig{
			Level: "info",
		},
		Security: SecurityConfig{
			TokenTTL: "24h",
		},
	}
}

// Load 加载配置。path 为空时跳过文件读取, 仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 应用 WHISPER_* 环境变量覆盖。数值类变量解析失败时直接报错,
// 避免带着错误配置静默启动。
func (c *Config) applyEnv() error {
	c.Server.Env = getEnv("WHISPER_ENV", c.Server.Env)
	c.Engine.Backend = getEnv("WHISPER_ENGINE", c.Engine.Backend)
	c.Engine.ModelSize = getEnv("WHISPER_MODEL", c.Engine.ModelSize)
	c.Engine.Device = getEnv("WHISPER_DEVICE", c.Engine.Device)
	c.Engine.ComputeType = getEnv("WHISPER_COMPUTE_TYPE", c.Engine.ComputeType)
	c.Engine.PythonBin = getEnv("WHISPER_PYTHON", c.Engine.PythonBin)
	c.Engine.BinPath = getEnv("WHISPER_CPP_BIN", c.Engine.BinPath)
	c.Engine.ModelsDir = getEnv("WHISPER_MODELS_DIR", c.Engine.ModelsDir)
	c.Engine.RemoteURL = getEnv("WHISPER_REMOTE_URL", c.Engine.RemoteURL)
	c.Engine.RemoteToken = getEnv("WHISPER_REMOTE_TOKEN", c.Engine.RemoteToken)
	c.Log.Level = getEnv("WHISPER_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("WHISPER_LOG_FILE", c.Log.File)
	c.Security.JWTSecret = getEnv("WHISPER_JWT_SECRET", c.Security.JWTSecret)

	if v := os.Getenv("WHISPER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WHISPER_PORT value: %q", v)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("WHISPER_MAX_CONCURRENT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid WHISPER_MAX_CONCURRENT value: %q", v)
		}
		c.Limits.MaxConcurrent = n
	}
	if v := os.Getenv("WHISPER_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid WHISPER_AUTH_ENABLED value: %q", v)
		}
		c.Security.AuthEnabled = enabled
	}
	return nil
}

// Validate 验证配置的有效性, 汇总所有问题后一次性返回。
func (c *Config) Validate() error {
	var errors []string

	// 1. 环境验证
	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[c.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid env: %s (must be: dev, development, staging, production)", c.Server.Env))
	}

	// 2. 端口验证
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port: %d (must be 1-65535)", c.Server.Port))
	}

	// 3. 超时时间验证
	durations := []struct {
		name  string
		value string
	}{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"fallback.check_interval", c.Fallback.CheckInterval},
		{"security.token_ttl", c.Security.TokenTTL},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s: %s (must be a duration like 30s)", d.name, d.value))
		}
	}

	// 4. 引擎后端验证
	validBackends := map[string]bool{
		engine.BackendFasterWhisper: true,
		engine.BackendWhisperCpp:    true,
		engine.BackendRemote:        true,
		engine.BackendMock:          true,
	}
	if !validBackends[c.Engine.Backend] {
		errors = append(errors, fmt.Sprintf("invalid engine.backend: %s (must be: faster-whisper, whisper-cpp, remote, mock)", c.Engine.Backend))
	}
	if c.Engine.Backend == engine.BackendRemote && c.Engine.RemoteURL == "" {
		errors = append(errors, "engine.remote_url is required when engine.backend is remote")
	}

	// 5. 降级引擎验证
	if c.Fallback.Enabled {
		if !validBackends[c.Fallback.Backend] {
			errors = append(errors, fmt.Sprintf("invalid fallback.backend: %s", c.Fallback.Backend))
		}
		if c.Fallback.FailThreshold < 1 {
			errors = append(errors, fmt.Sprintf("invalid fallback.fail_threshold: %d (must be >= 1)", c.Fallback.FailThreshold))
		}
	}

	// 6. 限制验证
	if c.Limits.MaxConcurrent < 0 {
		errors = append(errors, fmt.Sprintf("invalid limits.max_concurrent: %d (must be >= 0)", c.Limits.MaxConcurrent))
	}
	if c.Limits.MaxUploadMB < 1 {
		errors = append(errors, fmt.Sprintf("invalid limits.max_upload_mb: %d (must be >= 1)", c.Limits.MaxUploadMB))
	}

	// 7. 日志级别验证
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Log.Level] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error)", c.Log.Level))
	}

	// 8. 鉴权配置验证
	if c.Security.AuthEnabled {
		if c.Security.JWTSecret == "" {
			errors = append(errors, "security.jwt_secret is required when auth is enabled")
		} else if len(c.Security.JWTSecret) < 32 {
			errors = append(errors, "security.jwt_secret must be at least 32 characters long")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Addr 获取服务器监听地址
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// PrimaryEngine 返回主引擎的构造配置。
func (c *Config) PrimaryEngine() engine.Config {
	return engine.Config{
		Backend:     c.Engine.Backend,
		ModelSize:   c.Engine.ModelSize,
		Device:      c.Engine.Device,
		ComputeType: c.Engine.ComputeType,
		PythonBin:   c.Engine.PythonBin,
		BinPath:     c.Engine.BinPath,
		ModelsDir:   c.Engine.ModelsDir,
		RemoteURL:   c.Engine.RemoteURL,
		RemoteToken: c.Engine.RemoteToken,
		Threads:     c.Engine.Threads,
	}
}

// FallbackEngine 返回降级引擎的构造配置。除后端类型外沿用主引擎参数,
// 降级到 whisper-cpp 或 remote 时无需重复配置模型目录等字段。
func (c *Config) FallbackEngine() engine.Config {
	cfg := c.PrimaryEngine()
	cfg.Backend = c.Fallback.Backend
	return cfg
}

// LoggerConfig 返回日志组件配置。
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Environment: c.Server.Env,
		WithSource:  c.Log.WithSource,
		File:        c.Log.File,
		MaxSizeMB:   c.Log.MaxSizeMB,
		MaxBackups:  c.Log.MaxBackups,
		MaxAgeDays:  c.Log.MaxAgeDays,
	}
}

// CheckInterval 返回降级健康检查间隔。
func (c *Config) CheckInterval() time.Duration {
	return durationOr(c.Fallback.CheckInterval, 30*time.Second)
}

// ShutdownTimeout 返回优雅关闭超时。
func (c *Config) ShutdownTimeout() time.Duration {
	return durationOr(c.Server.ShutdownTimeout, 15*time.Second)
}

// ReadTimeout 返回 HTTP 读超时。
func (c *Config) ReadTimeout() time.Duration {
	return durationOr(c.Server.ReadTimeout, 30*time.Second)
}

// WriteTimeout 返回 HTTP 写超时。转写大文件耗时较长, 默认值放宽到分钟级。
func (c *Config) WriteTimeout() time.Duration {
	return durationOr(c.Server.WriteTimeout, 10*time.Minute)
}

// TokenTTL 返回签发 JWT 的有效期。
func (c *Config) TokenTTL() time.Duration {
	return durationOr(c.Security.TokenTTL, 24*time.Hour)
}

// PrintConfig 打印配置（脱敏）
func (c *Config) PrintConfig() string {
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Server Port: %d
  Engine:
    - Backend: %s
    - Model: %s
    - Device: %s
    - Compute Type: %s
  Fallback:
    - Enabled: %t
    - Backend: %s
    - Fail Threshold: %d
  Limits:
    - Max Concurrent: %d
    - Max Upload MB: %d
  Logging:
    - Level: %s
    - File: %s
  Security:
    - Auth Enabled: %t
    - JWT Secret: %s`,
		c.Server.Env,
		c.Server.Port,
		c.Engine.Backend,
		c.Engine.ModelSize,
		c.Engine.Device,
		c.Engine.ComputeType,
		c.Fallback.Enabled,
		c.Fallback.Backend,
		c.Fallback.FailThreshold,
		c.Limits.MaxConcurrent,
		c.Limits.MaxUploadMB,
		c.Log.Level,
		c.Log.File,
		c.Security.AuthEnabled,
		maskSecret(c.Security.JWTSecret),
	)
}

// 辅助函数

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// durationOr 解析时间字符串, 为空或非法时返回默认值。
// 非法值在 Validate 阶段已经拦截, 这里兜底即可。
func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// maskSecret 对敏感信息进行脱敏
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}
