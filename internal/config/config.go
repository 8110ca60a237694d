package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Recognition backend identifiers.
const (
	BackendNone   = "none"
	BackendText   = "text"
	BackendClaude = "claude"
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
)

// KnownBackends lists every recognition backend identifier accepted in configuration.
var KnownBackends = []string{BackendNone, BackendText, BackendClaude, BackendGemini, BackendOpenAI}

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	DB          DBConfig
	S3          S3Config
	Log         LogConfig
	Recognition RecognitionConfig
	Pipeline    PipelineConfig
	CORS        CORSConfig
	Queue       QueueConfig
}

// QueueConfig holds extraction queue worker settings.
type QueueConfig struct {
	PollIntervalSecs int `mapstructure:"poll_interval_secs"`
	MaxRetries       int `mapstructure:"max_retries"`
	Concurrency      int `mapstructure:"concurrency"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// BackendProviderConfig holds settings for a single recognition backend.
type BackendProviderConfig struct {
	Provider     string `mapstructure:"provider"`
	APIKey       string `mapstructure:"api_key"`
	DefaultModel string `mapstructure:"default_model"`
	MaxRetries   int    `mapstructure:"max_retries"`
	TimeoutSecs  int    `mapstructure:"timeout_secs"`
}

// RecognitionConfig selects the OCR/LLM backends that turn images into text lines.
// Secondary and Tertiary are fallbacks; with DualPass the secondary also runs as an
// independent agreement pass.
type RecognitionConfig struct {
	Primary   BackendProviderConfig `mapstructure:"primary"`
	Secondary BackendProviderConfig `mapstructure:"secondary"`
	Tertiary  BackendProviderConfig `mapstructure:"tertiary"`
	DualPass  bool                  `mapstructure:"dual_pass"`
}

// SecondaryConfig returns the secondary backend config, or nil if not configured.
func (r *RecognitionConfig) SecondaryConfig() *BackendProviderConfig {
	if r.Secondary.Provider != "" {
		return &r.Secondary
	}
	return nil
}

// TertiaryConfig returns the tertiary backend config, or nil if not configured.
func (r *RecognitionConfig) TertiaryConfig() *BackendProviderConfig {
	if r.Tertiary.Provider != "" {
		return &r.Tertiary
	}
	return nil
}

// PipelineConfig holds extraction pipeline settings.
type PipelineConfig struct {
	TimeoutSecs     int     `mapstructure:"timeout_secs"`
	ToleranceMinor  int64   `mapstructure:"tolerance_minor"`
	AlignmentSource string  `mapstructure:"alignment_source"`
	MatchThreshold  float64 `mapstructure:"match_threshold"`
}

// Timeout returns the per-call pipeline timeout.
func (p *PipelineConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// S3Config holds AWS S3 settings.
type S3Config struct {
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	MaxFileSizeMB int64  `mapstructure:"max_file_size_mb"`
	PresignExpiry int64  `mapstructure:"presign_expiry"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	// Output is "stdout" or "stderr".
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from environment variables with the LEDGERLINE_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEDGERLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.environment", "development")

	// DB defaults
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "ledgerline")
	v.SetDefault("db.password", "ledgerline_secret")
	v.SetDefault("db.name", "ledgerline_db")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open", 25)
	v.SetDefault("db.max_idle", 10)

	// S3 defaults
	v.SetDefault("s3.region", "eu-west-2")
	v.SetDefault("s3.bucket", "ledgerline-invoices")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.max_file_size_mb", 25)
	v.SetDefault("s3.presign_expiry", 3600)

	// Log defaults
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	// CORS defaults (localhost origins for development)
	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	// Queue defaults
	v.SetDefault("queue.poll_interval_secs", 10)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.concurrency", 5)

	// Recognition defaults
	v.SetDefault("recognition.dual_pass", false)
	for _, tier := range []string{"primary", "secondary", "tertiary"} {
		v.SetDefault("recognition."+tier+".provider", "")
		v.SetDefault("recognition."+tier+".api_key", "")
		v.SetDefault("recognition."+tier+".default_model", "")
		v.SetDefault("recognition."+tier+".max_retries", 2)
		v.SetDefault("recognition."+tier+".timeout_secs", 120)
	}
	v.SetDefault("recognition.primary.provider", BackendText)

	// Pipeline defaults
	v.SetDefault("pipeline.timeout_secs", 30)
	v.SetDefault("pipeline.tolerance_minor", 1)
	v.SetDefault("pipeline.alignment_source", "prior")
	v.SetDefault("pipeline.match_threshold", 0.6)

	// Bind environment variables explicitly for nested keys
	envBindings := map[string]string{
		"server.port":                "LEDGERLINE_SERVER_PORT",
		"server.read_timeout":        "LEDGERLINE_SERVER_READ_TIMEOUT",
		"server.write_timeout":       "LEDGERLINE_SERVER_WRITE_TIMEOUT",
		"server.environment":         "LEDGERLINE_SERVER_ENVIRONMENT",
		"db.host":                    "LEDGERLINE_DB_HOST",
		"db.port":                    "LEDGERLINE_DB_PORT",
		"db.user":                    "LEDGERLINE_DB_USER",
		"db.password":                "LEDGERLINE_DB_PASSWORD",
		"db.name":                    "LEDGERLINE_DB_NAME",
		"db.sslmode":                 "LEDGERLINE_DB_SSLMODE",
		"db.max_open":                "LEDGERLINE_DB_MAX_OPEN",
		"db.max_idle":                "LEDGERLINE_DB_MAX_IDLE",
		"s3.region":                  "LEDGERLINE_S3_REGION",
		"s3.bucket":                  "LEDGERLINE_S3_BUCKET",
		"s3.endpoint":                "LEDGERLINE_S3_ENDPOINT",
		"s3.access_key":              "LEDGERLINE_S3_ACCESS_KEY",
		"s3.secret_key":              "LEDGERLINE_S3_SECRET_KEY",
		"s3.max_file_size_mb":        "LEDGERLINE_S3_MAX_FILE_SIZE_MB",
		"s3.presign_expiry":          "LEDGERLINE_S3_PRESIGN_EXPIRY",
		"log.level":                  "LEDGERLINE_LOG_LEVEL",
		"log.format":                 "LEDGERLINE_LOG_FORMAT",
		"log.output":                 "LEDGERLINE_LOG_OUTPUT",
		"log.file_path":              "LEDGERLINE_LOG_FILE_PATH",
		"log.max_size_mb":            "LEDGERLINE_LOG_MAX_SIZE_MB",
		"log.max_backups":            "LEDGERLINE_LOG_MAX_BACKUPS",
		"log.max_age_days":           "LEDGERLINE_LOG_MAX_AGE_DAYS",
		"cors.allowed_origins":       "LEDGERLINE_CORS_ALLOWED_ORIGINS",
		"queue.poll_interval_secs":   "LEDGERLINE_QUEUE_POLL_INTERVAL_SECS",
		"queue.max_retries":          "LEDGERLINE_QUEUE_MAX_RETRIES",
		"queue.concurrency":          "LEDGERLINE_QUEUE_CONCURRENCY",
		"recognition.dual_pass":      "LEDGERLINE_RECOGNITION_DUAL_PASS",
		"pipeline.timeout_secs":      "LEDGERLINE_PIPELINE_TIMEOUT_SECS",
		"pipeline.tolerance_minor":   "LEDGERLINE_PIPELINE_TOLERANCE_MINOR",
		"pipeline.alignment_source":  "LEDGERLINE_PIPELINE_ALIGNMENT_SOURCE",
		"pipeline.match_threshold":   "LEDGERLINE_PIPELINE_MATCH_THRESHOLD",
	}
	for _, tier := range []string{"primary", "secondary", "tertiary"} {
		for _, field := range []string{"provider", "api_key", "default_model", "max_retries", "timeout_secs"} {
			key := "recognition." + tier + "." + field
			envBindings[key] = "LEDGERLINE_RECOGNITION_" + strings.ToUpper(tier) + "_" + strings.ToUpper(field)
		}
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	cfg := &Config{}

	// Platforms that set PORT win unless LEDGERLINE_SERVER_PORT is explicit.
	serverPort := v.GetString("server.port")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("LEDGERLINE_SERVER_PORT") == "" {
		serverPort = ":" + port
	}

	cfg.Server = ServerConfig{
		Port:         serverPort,
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
		Environment:  v.GetString("server.environment"),
	}
	cfg.DB = DBConfig{
		Host:     v.GetString("db.host"),
		Port:     v.GetInt("db.port"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		Name:     v.GetString("db.name"),
		SSLMode:  v.GetString("db.sslmode"),
		MaxOpen:  v.GetInt("db.max_open"),
		MaxIdle:  v.GetInt("db.max_idle"),
	}
	cfg.S3 = S3Config{
		Region:        v.GetString("s3.region"),
		Bucket:        v.GetString("s3.bucket"),
		Endpoint:      v.GetString("s3.endpoint"),
		AccessKey:     v.GetString("s3.access_key"),
		SecretKey:     v.GetString("s3.secret_key"),
		MaxFileSizeMB: v.GetInt64("s3.max_file_size_mb"),
		PresignExpiry: v.GetInt64("s3.presign_expiry"),
	}
	cfg.Log = LogConfig{
		Level:      v.GetString("log.level"),
		Format:     v.GetString("log.format"),
		Output:     v.GetString("log.output"),
		FilePath:   v.GetString("log.file_path"),
		MaxSizeMB:  v.GetInt("log.max_size_mb"),
		MaxBackups: v.GetInt("log.max_backups"),
		MaxAgeDays: v.GetInt("log.max_age_days"),
	}

	var corsOrigins []string
	for _, o := range strings.Split(v.GetString("cors.allowed_origins"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	cfg.CORS = CORSConfig{AllowedOrigins: corsOrigins}

	provider := func(tier string) BackendProviderConfig {
		prefix := "recognition." + tier + "."
		return BackendProviderConfig{
			Provider:     v.GetString(prefix + "provider"),
			APIKey:       v.GetString(prefix + "api_key"),
			DefaultModel: v.GetString(prefix + "default_model"),
			MaxRetries:   v.GetInt(prefix + "max_retries"),
			TimeoutSecs:  v.GetInt(prefix + "timeout_secs"),
		}
	}
	cfg.Recognition = RecognitionConfig{
		Primary:   provider("primary"),
		Secondary: provider("secondary"),
		Tertiary:  provider("tertiary"),
		DualPass:  v.GetBool("recognition.dual_pass"),
	}

	cfg.Pipeline = PipelineConfig{
		TimeoutSecs:     v.GetInt("pipeline.timeout_secs"),
		ToleranceMinor:  v.GetInt64("pipeline.tolerance_minor"),
		AlignmentSource: v.GetString("pipeline.alignment_source"),
		MatchThreshold:  v.GetFloat64("pipeline.match_threshold"),
	}

	cfg.Queue = QueueConfig{
		PollIntervalSecs: v.GetInt("queue.poll_interval_secs"),
		MaxRetries:       v.GetInt("queue.max_retries"),
		Concurrency:      v.GetInt("queue.concurrency"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values.
func (c *Config) Validate() error {
	for _, p := range []BackendProviderConfig{c.Recognition.Primary, c.Recognition.Secondary, c.Recognition.Tertiary} {
		if p.Provider != "" && !isKnownBackend(p.Provider) {
			return fmt.Errorf("config: unknown recognition backend %q (valid: %s)", p.Provider, strings.Join(KnownBackends, ", "))
		}
	}
	switch c.Pipeline.AlignmentSource {
	case "none", "layout", "prior":
	default:
		return fmt.Errorf("config: unknown alignment source %q (valid: none, layout, prior)", c.Pipeline.AlignmentSource)
	}
	if c.Pipeline.ToleranceMinor < 0 {
		return fmt.Errorf("config: pipeline tolerance must not be negative")
	}
	return nil
}

func isKnownBackend(name string) bool {
	for _, b := range KnownBackends {
		if b == name {
			return true
		}
	}
	return false
}
