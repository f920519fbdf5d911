package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"turfie/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Booking    BookingConfig    `yaml:"booking"`
	AMQP       AMQPConfig       `yaml:"amqp"`
	Worker     WorkerConfig     `yaml:"worker"`
	Exports    ExportConfig     `yaml:"exports"`
	VenuesFile string           `yaml:"venues_file"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
	CORS      APICORSConfig      `yaml:"cors"`
}

type APIHTTPConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type APICORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BookingConfig holds the slot engine policy.
type BookingConfig struct {
	Timezone           string        `yaml:"timezone"`
	HorizonDays        int           `yaml:"horizon_days"`
	SlotMinutes        int           `yaml:"slot_minutes"`
	MinDurationMinutes int           `yaml:"min_duration_minutes"`
	LockTimeout        time.Duration `yaml:"lock_timeout"`
	LockTTL            time.Duration `yaml:"lock_ttl"`
}

// Location resolves Timezone. It is only valid after Validate.
func (b BookingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (b BookingConfig) SlotDuration() time.Duration {
	return time.Duration(b.SlotMinutes) * time.Minute
}

func (b BookingConfig) MinDuration() time.Duration {
	return time.Duration(b.MinDurationMinutes) * time.Minute
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type WorkerConfig struct {
	CompletionInterval time.Duration `yaml:"completion_interval"`
	BatchSize          uint64        `yaml:"batch_size"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML config at configPath, expanding ${VAR} references from
// the environment and an optional .env file.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if len(c.API.Auth.JWTSecret) < 16 {
		return errors.New("api.auth.jwt_secret must be at least 16 characters")
	}
	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("invalid booking timezone %q: %w", c.Booking.Timezone, err)
	}
	if c.Booking.HorizonDays < 0 {
		return errors.New("booking.horizon_days must not be negative")
	}
	if c.Booking.SlotMinutes <= 0 || models.MinutesPerDay%c.Booking.SlotMinutes != 0 {
		return fmt.Errorf("booking.slot_minutes must divide a day, got %d", c.Booking.SlotMinutes)
	}
	if c.Booking.MinDurationMinutes <= 0 {
		return errors.New("booking.min_duration_minutes must be positive")
	}
	if c.Booking.LockTTL < c.Booking.LockTimeout {
		return errors.New("booking.lock_ttl must not be shorter than booking.lock_timeout")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "turfie"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.ReadTimeout == 0 {
		c.API.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.API.HTTP.WriteTimeout == 0 {
		c.API.HTTP.WriteTimeout = 10 * time.Second
	}
	if c.API.Auth.Issuer == "" {
		c.API.Auth.Issuer = c.App.Name
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "UTC"
	}
	if c.Booking.HorizonDays == 0 {
		c.Booking.HorizonDays = models.DefaultHorizonDays
	}
	if c.Booking.SlotMinutes == 0 {
		c.Booking.SlotMinutes = int(models.DefaultSlotDuration / time.Minute)
	}
	if c.Booking.MinDurationMinutes == 0 {
		c.Booking.MinDurationMinutes = int(models.DefaultMinDuration / time.Minute)
	}
	if c.Booking.LockTimeout == 0 {
		c.Booking.LockTimeout = models.DefaultLockTimeout
	}
	if c.Booking.LockTTL == 0 {
		c.Booking.LockTTL = models.DefaultLockTTL
	}

	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "turfie.events"
	}
	if c.Worker.CompletionInterval == 0 {
		c.Worker.CompletionInterval = models.DefaultCompletionInterval
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = models.DefaultCompletionBatchSize
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
}

type venuesFile struct {
	Venues []models.Venue `yaml:"venues"`
}

// LoadVenues reads the venue seed file.
func LoadVenues(path string) ([]models.Venue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file venuesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse venues file: %w", err)
	}

	if err := ValidateVenues(file.Venues); err != nil {
		return nil, err
	}
	return file.Venues, nil
}

func ValidateVenues(venues []models.Venue) error {
	ids := make(map[int64]bool)
	for i := range venues {
		v := &venues[i]
		if v.ID == 0 {
			return fmt.Errorf("venue '%s' has invalid ID 0", v.Name)
		}
		if ids[v.ID] {
			return fmt.Errorf("duplicate venue ID found: %d", v.ID)
		}
		ids[v.ID] = true
		if err := v.Validate(); err != nil {
			return fmt.Errorf("venue %d: %w", v.ID, err)
		}
	}
	return nil
}
