package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when ETL_CONFIG is not set
const DefaultPath = "config/pipeline.yml"

// ErrInvalid marks missing or invalid settings
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Storage   StorageConfig   `yaml:"storage"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Source    SourceConfig    `yaml:"source"`
	Extract   ExtractConfig   `yaml:"extract"`
	Transform TransformConfig `yaml:"transform"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PipelineConfig holds the symbol universe and the default date range
type PipelineConfig struct {
	Symbols   []string `yaml:"symbols" validate:"required,min=1,dive,required"`
	StartDate string   `yaml:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string   `yaml:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

// StorageConfig holds snapshot locations
type StorageConfig struct {
	RawDir    string `yaml:"raw_dir" validate:"required"`
	StagedDir string `yaml:"staged_dir" validate:"required"`
}

// WarehouseConfig holds PostgreSQL configuration. URL wins over the discrete fields.
type WarehouseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// SourceConfig holds primary quote source configuration
type SourceConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0"`
	MaxRetries        int           `yaml:"max_retries" validate:"gte=0"`
	Offline           bool          `yaml:"offline"`
	SyntheticSeed     int64         `yaml:"synthetic_seed"`
}

// ExtractConfig holds extraction tuning
type ExtractConfig struct {
	Concurrency int `yaml:"concurrency" validate:"gte=1"`
}

// TransformConfig holds derived series settings
type TransformConfig struct {
	VolatilityWindow int `yaml:"volatility_window" validate:"gte=2"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Brokers          []string `yaml:"brokers" validate:"required_if=Enabled true"`
	RunEventsTopic   string   `yaml:"run_events_topic" validate:"required_if=Enabled true"`
	RunRequestsTopic string   `yaml:"run_requests_topic"`
	GroupID          string   `yaml:"group_id"`
}

// RedisConfig holds the source response cache configuration
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" validate:"required_if=Enabled true"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	Host string `yaml:"host"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// envOverrides are the environment variables that take precedence over the file
type envOverrides struct {
	Symbols          []string       `envconfig:"SYMBOLS"`
	StartDate        string         `envconfig:"START_DATE"`
	EndDate          string         `envconfig:"END_DATE"`
	RawDir           string         `envconfig:"RAW_DIR"`
	StagedDir        string         `envconfig:"STAGED_DIR"`
	WarehouseURL     string         `envconfig:"WAREHOUSE_URL"`
	DBHost           string         `envconfig:"DB_HOST"`
	DBPort           string         `envconfig:"DB_PORT"`
	DBUser           string         `envconfig:"DB_USER"`
	DBPassword       string         `envconfig:"DB_PASSWORD"`
	DBName           string         `envconfig:"DB_NAME"`
	DBSSLMode        string         `envconfig:"DB_SSLMODE"`
	SourceBaseURL    string         `envconfig:"SOURCE_BASE_URL"`
	SourceOffline    *bool          `envconfig:"SOURCE_OFFLINE"`
	SourceTimeout    *time.Duration `envconfig:"SOURCE_TIMEOUT"`
	Concurrency      *int           `envconfig:"EXTRACT_CONCURRENCY"`
	VolatilityWindow *int           `envconfig:"VOLATILITY_WINDOW"`
	KafkaEnabled     *bool          `envconfig:"KAFKA_ENABLED"`
	KafkaBrokers     []string       `envconfig:"KAFKA_BROKERS"`
	KafkaEventsTopic string         `envconfig:"KAFKA_RUN_EVENTS_TOPIC"`
	KafkaRequests    string         `envconfig:"KAFKA_RUN_REQUESTS_TOPIC"`
	RedisEnabled     *bool          `envconfig:"REDIS_ENABLED"`
	RedisAddr        string         `envconfig:"REDIS_ADDR"`
	RedisPassword    string         `envconfig:"REDIS_PASSWORD"`
	ServerHost       string         `envconfig:"SERVER_HOST"`
	ServerPort       string         `envconfig:"SERVER_PORT"`
	LogLevel         string         `envconfig:"LOG_LEVEL"`
	LogFormat        string         `envconfig:"LOG_FORMAT"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			RawDir:    "data/raw",
			StagedDir: "data/staged",
		},
		Warehouse: WarehouseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			DBName:  "market_data",
			SSLMode: "disable",
		},
		Source: SourceConfig{
			BaseURL:           "https://stooq.com",
			Timeout:           20 * time.Second,
			RequestsPerSecond: 2,
			MaxRetries:        3,
			SyntheticSeed:     42,
		},
		Extract: ExtractConfig{
			Concurrency: 1,
		},
		Transform: TransformConfig{
			VolatilityWindow: 30,
		},
		Kafka: KafkaConfig{
			Brokers:          []string{"localhost:9092"},
			RunEventsTopic:   "etl-run-events",
			RunRequestsTopic: "etl-run-requests",
			GroupID:          "market-data-etl",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  12 * time.Hour,
		},
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies
// environment overrides and validates the result. An empty path means
// ETL_CONFIG or DefaultPath; the default file may be absent.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("ETL_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrInvalid, path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrInvalid, path, err)
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("%w: failed to load config from env: %w", ErrInvalid, err)
	}
	cfg.applyEnv(env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Warehouse.DSN() == "" {
		return fmt.Errorf("%w: warehouse url or host is required", ErrInvalid)
	}
	return nil
}

func (c *Config) applyEnv(env envOverrides) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	if len(env.Symbols) > 0 {
		c.Pipeline.Symbols = env.Symbols
	}
	setString(&c.Pipeline.StartDate, env.StartDate)
	setString(&c.Pipeline.EndDate, env.EndDate)
	setString(&c.Storage.RawDir, env.RawDir)
	setString(&c.Storage.StagedDir, env.StagedDir)
	setString(&c.Warehouse.URL, env.WarehouseURL)
	setString(&c.Warehouse.Host, env.DBHost)
	setString(&c.Warehouse.Port, env.DBPort)
	setString(&c.Warehouse.User, env.DBUser)
	setString(&c.Warehouse.Password, env.DBPassword)
	setString(&c.Warehouse.DBName, env.DBName)
	setString(&c.Warehouse.SSLMode, env.DBSSLMode)
	setString(&c.Source.BaseURL, env.SourceBaseURL)
	if env.SourceOffline != nil {
		c.Source.Offline = *env.SourceOffline
	}
	if env.SourceTimeout != nil {
		c.Source.Timeout = *env.SourceTimeout
	}
	if env.Concurrency != nil {
		c.Extract.Concurrency = *env.Concurrency
	}
	if env.VolatilityWindow != nil {
		c.Transform.VolatilityWindow = *env.VolatilityWindow
	}
	if env.KafkaEnabled != nil {
		c.Kafka.Enabled = *env.KafkaEnabled
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
	}
	setString(&c.Kafka.RunEventsTopic, env.KafkaEventsTopic)
	setString(&c.Kafka.RunRequestsTopic, env.KafkaRequests)
	if env.RedisEnabled != nil {
		c.Redis.Enabled = *env.RedisEnabled
	}
	setString(&c.Redis.Addr, env.RedisAddr)
	setString(&c.Redis.Password, env.RedisPassword)
	setString(&c.Server.Host, env.ServerHost)
	setString(&c.Server.Port, env.ServerPort)
	setString(&c.Logging.Level, env.LogLevel)
	setString(&c.Logging.Format, env.LogFormat)
}

// DSN returns the PostgreSQL connection string
func (w *WarehouseConfig) DSN() string {
	if w.URL != "" {
		return w.URL
	}
	if w.Host == "" {
		return ""
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(w.Host, w.Port),
		Path:   "/" + w.DBName,
	}
	switch {
	case w.Password != "":
		u.User = url.UserPassword(w.User, w.Password)
	case w.User != "":
		u.User = url.User(w.User)
	}
	if w.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {w.SSLMode}}.Encode()
	}
	return u.String()
}

// Addr returns the HTTP listen address
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}
