package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

type FusionConfig struct {
	DetectionWeight float64 `mapstructure:"detection_weight"`
	OCRWeight       float64 `mapstructure:"ocr_weight"`
}

type ValidationConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	Patterns            []string `mapstructure:"patterns"`
	MinLength           int      `mapstructure:"min_length"`
	MaxLength           int      `mapstructure:"max_length"`
	MinAcceptConfidence float64  `mapstructure:"min_accept_confidence"`
	AllowedSeparators   string   `mapstructure:"allowed_separators"`
}

type DedupeConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	TimeWindow          time.Duration `mapstructure:"time_window"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	PruneInterval       time.Duration `mapstructure:"prune_interval"`
}

type StoreConfig struct {
	MaxRecords     int           `mapstructure:"max_records"`
	RetentionDays  int           `mapstructure:"retention_days"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	StorageTimeout time.Duration `mapstructure:"storage_timeout"`
}

type BackupConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Dir        string        `mapstructure:"dir"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxBackups int           `mapstructure:"max_backups"`
}

type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
}

type VisionConfig struct {
	DetectorURL     string        `mapstructure:"detector_url"`
	DetectorTimeout time.Duration `mapstructure:"detector_timeout"`
	OCRURL          string        `mapstructure:"ocr_url"`
	OCRTimeout      time.Duration `mapstructure:"ocr_timeout"`
}

type ExportConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxRecords int    `mapstructure:"max_records"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Fusion     FusionConfig     `mapstructure:"fusion"`
	Validation ValidationConfig `mapstructure:"validation"`
	Dedupe     DedupeConfig     `mapstructure:"dedupe"`
	Store      StoreConfig      `mapstructure:"store"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Vision     VisionConfig     `mapstructure:"vision"`
	Export     ExportConfig     `mapstructure:"export"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

// DefaultPatterns is the ordered plate pattern list tried by the
// validator; first match wins.
var DefaultPatterns = []string{
	`^[A-Z]{3}-\d{4}$`,
	`^[A-Z]{2}\d{2}-\d{3}$`,
	`^[A-Z]\d{3}-[A-Z]{3}$`,
	`^[A-Z]{2}-\d{2}-[A-Z]{2}$`,
	`^[A-Z]{3}\d{3}$`,
	`^[A-Z]{2}\d{4}$`,
	`^\d{3}[A-Z]{3}$`,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "lpr")
	v.SetDefault("database.password", "lpr")
	v.SetDefault("database.name", "lpr")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.console", true)

	v.SetDefault("fusion.detection_weight", 0.6)
	v.SetDefault("fusion.ocr_weight", 0.4)

	v.SetDefault("validation.enabled", true)
	v.SetDefault("validation.patterns", DefaultPatterns)
	v.SetDefault("validation.min_length", 3)
	v.SetDefault("validation.max_length", 10)
	v.SetDefault("validation.min_accept_confidence", 0.3)
	v.SetDefault("validation.allowed_separators", "- ")

	v.SetDefault("dedupe.enabled", true)
	v.SetDefault("dedupe.time_window", "5s")
	v.SetDefault("dedupe.similarity_threshold", 0.9)
	v.SetDefault("dedupe.prune_interval", "1m")

	v.SetDefault("store.max_records", 10000)
	v.SetDefault("store.retention_days", 30)
	v.SetDefault("store.sweep_interval", "24h")
	v.SetDefault("store.batch_size", 100)
	v.SetDefault("store.storage_timeout", "30s")

	v.SetDefault("backup.enabled", true)
	v.SetDefault("backup.dir", "data/backups")
	v.SetDefault("backup.interval", "1h")
	v.SetDefault("backup.max_backups", 10)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 10)
	v.SetDefault("pipeline.submit_timeout", "5s")

	v.SetDefault("vision.detector_url", "")
	v.SetDefault("vision.detector_timeout", "3s")
	v.SetDefault("vision.ocr_url", "")
	v.SetDefault("vision.ocr_timeout", "2s")

	v.SetDefault("export.dir", "data/exports")
	v.SetDefault("export.max_records", 10000)

	v.SetDefault("auth.jwt_secret", "")
}

// Load reads configuration from the optional file at path and the
// environment (LPR_ prefix). Missing keys fall back to defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("LPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks numeric ranges before the configuration is applied.
func (c *Config) Validate() error {
	if err := inUnit("fusion.detection_weight", c.Fusion.DetectionWeight); err != nil {
		return err
	}
	if err := inUnit("fusion.ocr_weight", c.Fusion.OCRWeight); err != nil {
		return err
	}
	if sum := c.Fusion.DetectionWeight + c.Fusion.OCRWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("%w: fusion weights must sum to 1, got %.3f", ErrInvalidConfig, sum)
	}
	if err := inUnit("validation.min_accept_confidence", c.Validation.MinAcceptConfidence); err != nil {
		return err
	}
	if err := inUnit("dedupe.similarity_threshold", c.Dedupe.SimilarityThreshold); err != nil {
		return err
	}
	for _, p := range c.Validation.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidConfig, p, err)
		}
	}
	if c.Validation.MinLength < 1 {
		return fmt.Errorf("%w: validation.min_length must be positive", ErrInvalidConfig)
	}
	if c.Validation.MaxLength < c.Validation.MinLength {
		return fmt.Errorf("%w: validation.max_length below min_length", ErrInvalidConfig)
	}
	if c.Dedupe.TimeWindow < 0 {
		return fmt.Errorf("%w: dedupe.time_window must be non-negative", ErrInvalidConfig)
	}
	if c.Store.MaxRecords < 1 {
		return fmt.Errorf("%w: store.max_records must be positive", ErrInvalidConfig)
	}
	if c.Store.RetentionDays < 0 {
		return fmt.Errorf("%w: store.retention_days must be non-negative", ErrInvalidConfig)
	}
	if c.Store.BatchSize < 1 {
		return fmt.Errorf("%w: store.batch_size must be positive", ErrInvalidConfig)
	}
	if c.Backup.MaxBackups < 1 {
		return fmt.Errorf("%w: backup.max_backups must be positive", ErrInvalidConfig)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("%w: pipeline.workers must be positive", ErrInvalidConfig)
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("%w: pipeline.queue_size must be positive", ErrInvalidConfig)
	}
	return nil
}

func inUnit(key string, val float64) error {
	if val != val || val < 0 || val > 1 {
		return fmt.Errorf("%w: %s must be in [0,1], got %v", ErrInvalidConfig, key, val)
	}
	return nil
}

// Manager holds the live configuration and applies validated updates,
// keeping the last-known-good config when an update is rejected.
type Manager struct {
	mu      sync.RWMutex
	current *Config
}

func NewManager(cfg *Config) *Manager {
	return &Manager{current: cfg}
}

func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Apply mutates a copy of the current config through fn, validates it
// and swaps it in. On validation failure the previous config stays
// active and the error is returned.
func (m *Manager) Apply(fn func(*Config)) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *m.current
	fn(&next)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	m.current = &next
	return &next, nil
}
