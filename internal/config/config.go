package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Vision      VisionConfig      `yaml:"vision"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// Enabled reports whether an event bus is configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether uploads are staged in object storage.
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	ORTLibrary         string  `yaml:"ort_library"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	EmbeddingDim       int     `yaml:"embedding_dim"`
}

type RecognitionConfig struct {
	Tolerance      float64       `yaml:"tolerance"`
	MaxFrameWidth  int           `yaml:"max_frame_width"`
	CameraID       string        `yaml:"camera_id"`
	Source         string        `yaml:"source"`
	FPS            int           `yaml:"fps"`
	MaxRestarts    int           `yaml:"max_restarts"`
	RestartBackoff time.Duration `yaml:"restart_backoff"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

type AttendanceConfig struct {
	AutoMark          string        `yaml:"auto_mark"`
	SummaryWindowDays int           `yaml:"summary_window_days"`
	Timezone          string        `yaml:"timezone"`
	Cooldown          time.Duration `yaml:"cooldown"`
}

// Location resolves Timezone, falling back to the process zone.
func (a AttendanceConfig) Location() (*time.Location, error) {
	if a.Timezone == "" || a.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A missing path yields defaults plus environment.
func Load(path string) (*Config, error) {
	// Fields where 0 is a meaningful setting are defaulted before parsing,
	// so an explicit 0 in the file survives.
	cfg := &Config{
		Recognition: RecognitionConfig{
			Tolerance:   0.6,
			MaxRestarts: 5,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	switch c.Attendance.AutoMark {
	case "off", "check_in":
	default:
		return fmt.Errorf("attendance.auto_mark must be off or check_in, got %q", c.Attendance.AutoMark)
	}
	if !(c.Recognition.Tolerance >= 0) {
		return fmt.Errorf("recognition.tolerance must not be negative")
	}
	if c.Recognition.MaxRestarts < 0 {
		return fmt.Errorf("recognition.max_restarts must not be negative")
	}
	if _, err := c.Attendance.Location(); err != nil {
		return err
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 16 << 20
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "attendance-uploads"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 512
	}
	if cfg.Recognition.MaxFrameWidth == 0 {
		cfg.Recognition.MaxFrameWidth = 1024
	}
	if cfg.Recognition.CameraID == "" {
		cfg.Recognition.CameraID = "default"
	}
	if cfg.Recognition.Source == "" {
		cfg.Recognition.Source = "/dev/video0"
	}
	if cfg.Recognition.FPS == 0 {
		cfg.Recognition.FPS = 5
	}
	if cfg.Recognition.RestartBackoff == 0 {
		cfg.Recognition.RestartBackoff = 2 * time.Second
	}
	if cfg.Recognition.ReloadInterval == 0 {
		cfg.Recognition.ReloadInterval = time.Minute
	}
	if cfg.Attendance.AutoMark == "" {
		cfg.Attendance.AutoMark = "off"
	}
	if cfg.Attendance.SummaryWindowDays == 0 {
		cfg.Attendance.SummaryWindowDays = 7
	}
	if cfg.Attendance.Cooldown == 0 {
		cfg.Attendance.Cooldown = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ATT_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ATT_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ATT_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ATT_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ATT_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ATT_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ATT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ATT_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ATT_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ATT_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ATT_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ATT_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("ATT_ORT_LIBRARY"); v != "" {
		cfg.Vision.ORTLibrary = v
	}
	if v := os.Getenv("ATT_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.Tolerance = f
		}
	}
	if v := os.Getenv("ATT_CAMERA_SOURCE"); v != "" {
		cfg.Recognition.Source = v
	}
	if v := os.Getenv("ATT_CAMERA_ID"); v != "" {
		cfg.Recognition.CameraID = v
	}
	if v := os.Getenv("ATT_AUTO_MARK"); v != "" {
		cfg.Attendance.AutoMark = v
	}
	if v := os.Getenv("ATT_TIMEZONE"); v != "" {
		cfg.Attendance.Timezone = v
	}
	if v := os.Getenv("ATT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
