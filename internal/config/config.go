package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

const (
	BackendLocal = "local"
	BackendAsynq = "asynq"
)

type Config struct {
	Server    ServerConfig
	Upload    UploadConfig
	Storage   StorageConfig
	Render    RenderConfig
	Worker    WorkerConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	R2        R2Config
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string
}

type UploadConfig struct {
	MaxSizeMB int
}

// MaxBytes is the per-file upload limit.
func (u UploadConfig) MaxBytes() int64 {
	return int64(u.MaxSizeMB) << 20
}

type StorageConfig struct {
	UploadDir string
	OutputDir string
}

type RenderConfig struct {
	FFmpegPath  string
	Concurrency int
	ErrorMaxLen int
}

type WorkerConfig struct {
	Backend string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled       bool
	UploadPerHour int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Enabled reports whether enough is configured to publish artifacts.
func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.SecretAccessKey != "" && r.BucketName != ""
}

// Load reads config.yaml (optional) and the environment.
func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return LoadFrom(v)
}

// LoadFrom applies env bindings and defaults to v and decodes the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	for key, env := range map[string]string{
		"server.port":               "SERVER_PORT",
		"server.env":                "SERVER_ENV",
		"server.log_level":          "LOG_LEVEL",
		"server.log_format":         "LOG_FORMAT",
		"upload.max_size_mb":        "MAX_UPLOAD_SIZE_MB",
		"storage.upload_dir":        "UPLOAD_DIR",
		"storage.output_dir":        "OUTPUT_DIR",
		"render.ffmpeg_path":        "FFMPEG_PATH",
		"render.concurrency":        "RENDER_CONCURRENCY",
		"render.error_max_len":      "RENDER_ERROR_MAX_LEN",
		"worker.backend":            "WORKER_BACKEND",
		"redis.addr":                "REDIS_ADDR",
		"redis.password":            "REDIS_PASSWORD",
		"redis.db":                  "REDIS_DB",
		"ratelimit.enabled":         "RATELIMIT_ENABLED",
		"ratelimit.upload_per_hour": "RATELIMIT_UPLOAD_PER_HOUR",
		"r2.account_id":             "R2_ACCOUNT_ID",
		"r2.access_key_id":          "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":      "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":            "R2_BUCKET_NAME",
		"r2.public_url":             "R2_PUBLIC_URL",
	} {
		_ = v.BindEnv(key, env)
	}

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "text")
	v.SetDefault("upload.max_size_mb", 50)
	v.SetDefault("storage.upload_dir", "data/uploads")
	v.SetDefault("storage.output_dir", "data/outputs")
	v.SetDefault("render.ffmpeg_path", "ffmpeg")
	v.SetDefault("render.concurrency", 2)
	v.SetDefault("render.error_max_len", 2000)
	v.SetDefault("worker.backend", BackendLocal)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.upload_per_hour", 30)

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			LogFormat: v.GetString("server.log_format"),
		},
		Upload: UploadConfig{
			MaxSizeMB: v.GetInt("upload.max_size_mb"),
		},
		Storage: StorageConfig{
			UploadDir: v.GetString("storage.upload_dir"),
			OutputDir: v.GetString("storage.output_dir"),
		},
		Render: RenderConfig{
			FFmpegPath:  v.GetString("render.ffmpeg_path"),
			Concurrency: v.GetInt("render.concurrency"),
			ErrorMaxLen: v.GetInt("render.error_max_len"),
		},
		Worker: WorkerConfig{
			Backend: strings.ToLower(v.GetString("worker.backend")),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("ratelimit.enabled"),
			UploadPerHour: v.GetInt("ratelimit.upload_per_hour"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Upload.MaxSizeMB <= 0 {
		return fmt.Errorf("upload.max_size_mb must be positive, got %d", c.Upload.MaxSizeMB)
	}
	if c.Render.Concurrency <= 0 {
		return fmt.Errorf("render.concurrency must be positive, got %d", c.Render.Concurrency)
	}
	if c.Render.ErrorMaxLen <= 0 {
		return fmt.Errorf("render.error_max_len must be positive, got %d", c.Render.ErrorMaxLen)
	}
	if c.Storage.UploadDir == "" || c.Storage.OutputDir == "" {
		return errors.New("storage.upload_dir and storage.output_dir are required")
	}
	switch c.Worker.Backend {
	case BackendLocal, BackendAsynq:
	default:
		return fmt.Errorf("worker.backend must be %q or %q, got %q", BackendLocal, BackendAsynq, c.Worker.Backend)
	}
	return nil
}
