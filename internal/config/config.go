package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	EventLog   EventLogConfig   `mapstructure:"eventlog"`
	Evidence   EvidenceConfig   `mapstructure:"evidence"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Verifier   VerifierConfig   `mapstructure:"verifier"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type PipelineConfig struct {
	FrameRate          float64       `mapstructure:"frame_rate"`
	ConfidenceFloor    float64       `mapstructure:"confidence_floor"`
	ParkingThreshold   time.Duration `mapstructure:"parking_threshold"`
	MinParkingDuration time.Duration `mapstructure:"min_parking_duration"`
	LostTolerance      time.Duration `mapstructure:"lost_tolerance"`
	StabilityMaxShift  int           `mapstructure:"stability_max_shift"`
	IoUThreshold       float64       `mapstructure:"iou_threshold"`
	QueueSize          int           `mapstructure:"queue_size"`
}

type EventLogConfig struct {
	Path           string        `mapstructure:"path"`
	OffsetPath     string        `mapstructure:"offset_path"`
	CoalesceWindow time.Duration `mapstructure:"coalesce_window"`
}

type EvidenceConfig struct {
	Dir    string        `mapstructure:"dir"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

type ReconcilerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type VerifierConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	DeleteConfirmed bool          `mapstructure:"delete_confirmed"`
}

// Load reads parkwatch.yaml (from path if given, otherwise the working
// directory and /etc/parkwatch) with PARKWATCH_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("parkwatch")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/parkwatch")
	}

	v.SetEnvPrefix("PARKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "parkwatch")
	v.SetDefault("database.name", "parkwatch")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("pipeline.frame_rate", 30.0)
	v.SetDefault("pipeline.confidence_floor", 0.5)
	v.SetDefault("pipeline.parking_threshold", 2*time.Second)
	v.SetDefault("pipeline.min_parking_duration", 5*time.Second)
	v.SetDefault("pipeline.lost_tolerance", time.Second)
	v.SetDefault("pipeline.stability_max_shift", 50)
	v.SetDefault("pipeline.iou_threshold", 0.5)
	v.SetDefault("pipeline.queue_size", 20)

	v.SetDefault("eventlog.path", "logs/events.log")
	v.SetDefault("eventlog.offset_path", "logs/events.offset")
	v.SetDefault("eventlog.coalesce_window", 5*time.Second)

	v.SetDefault("evidence.dir", "pictures")
	v.SetDefault("evidence.max_age", 7*24*time.Hour)

	v.SetDefault("reconciler.interval", time.Second)

	v.SetDefault("verifier.interval", 5*time.Second)
	v.SetDefault("verifier.timeout", 30*time.Second)
	v.SetDefault("verifier.model", "gemini-1.5-flash")
	v.SetDefault("verifier.delete_confirmed", false)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.FrameRate <= 0 {
		return fmt.Errorf("pipeline.frame_rate must be positive, got %v", c.Pipeline.FrameRate)
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline.queue_size must be positive, got %d", c.Pipeline.QueueSize)
	}
	if c.Pipeline.IoUThreshold <= 0 || c.Pipeline.IoUThreshold >= 1 {
		return fmt.Errorf("pipeline.iou_threshold must be in (0,1), got %v", c.Pipeline.IoUThreshold)
	}
	if c.EventLog.Path == "" {
		return fmt.Errorf("eventlog.path is required")
	}
	if c.Evidence.Dir == "" {
		return fmt.Errorf("evidence.dir is required")
	}
	return nil
}
