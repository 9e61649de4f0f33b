package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server           ServerConfig           `mapstructure:"server"`
	Database         DatabaseConfig         `mapstructure:"database"`
	VectorStore      VectorStoreConfig      `mapstructure:"vector_store"`
	Storage          StorageConfig          `mapstructure:"storage"`
	Redis            RedisConfig            `mapstructure:"redis"`
	Events           EventsConfig           `mapstructure:"events"`
	Gemini           GeminiConfig           `mapstructure:"gemini"`
	AIService        AIServiceConfig        `mapstructure:"ai_service"`
	FeatureExtractor FeatureExtractorConfig `mapstructure:"feature_extractor"`
	Verification     VerificationConfig     `mapstructure:"verification"`
	Rewards          RewardsConfig          `mapstructure:"rewards"`
	Purge            PurgeConfig            `mapstructure:"purge"`
	Admin            AdminConfig            `mapstructure:"admin"`
	Verifier         VerifierConfig         `mapstructure:"verifier"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the driver-specific connection string.
// For postgres an explicit URL wins over the discrete fields.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		if c.URL != "" {
			return c.URL
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	if c.URL != "" {
		return c.URL
	}
	return c.Path
}

type VectorStoreConfig struct {
	Backend string       `mapstructure:"backend"` // sql, qdrant
	Qdrant  QdrantConfig `mapstructure:"qdrant"`
}

type QdrantConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	APIKey           string `mapstructure:"api_key"`
	UseTLS           bool   `mapstructure:"use_tls"`
	CollectionPrefix string `mapstructure:"collection_prefix"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type EventsConfig struct {
	Backend string      `mapstructure:"backend"` // none, kafka
	Kafka   KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// AIServiceConfig configures the client of the remote verification microservice.
type AIServiceConfig struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type FeatureExtractorConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	LibraryPath string `mapstructure:"library_path"`
	ModelPath   string `mapstructure:"model_path"`
	InputName   string `mapstructure:"input_name"`
	OutputName  string `mapstructure:"output_name"`
	InputSize   int    `mapstructure:"input_size"`
	OutputDims  int    `mapstructure:"output_dims"`
}

type VerificationConfig struct {
	OfflineMode              bool          `mapstructure:"offline_mode"`
	HashDimensions           int           `mapstructure:"hash_dimensions"`
	DuplicateThreshold       float64       `mapstructure:"duplicate_threshold"`
	LightweightThreshold     float64       `mapstructure:"lightweight_threshold"`
	SerializeDuplicateChecks bool          `mapstructure:"serialize_duplicate_checks"`
	LockTimeout              time.Duration `mapstructure:"lock_timeout"`
	ReverifyWorkers          int           `mapstructure:"reverify_workers"`
}

type RewardsConfig struct {
	PerPost        int `mapstructure:"per_post"`
	PerFoundItem   int `mapstructure:"per_found_item"`
	ApproveDefault int `mapstructure:"approve_default"`
}

type PurgeConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RejectedRetention time.Duration `mapstructure:"rejected_retention"`
	Interval          time.Duration `mapstructure:"interval"`
}

type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// VerifierConfig holds settings of the standalone verification microservice.
type VerifierConfig struct {
	Port           int            `mapstructure:"port"`
	APIKey         string         `mapstructure:"api_key"`
	DefaultCredits int            `mapstructure:"default_credits"`
	Database       DatabaseConfig `mapstructure:"database"`
}

// Load reads configuration from file, .env and environment variables.
// Parameters:
//   - configPath: explicit config file path; empty searches ./configs and . for config.yaml.
//
// Returns:
//   - *Config: loaded and validated configuration.
//   - error: non-nil if the file is unreadable or a value is invalid.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment names shared with the rest of the deployment
	v.BindEnv("verification.offline_mode", "OFFLINE_MODE")
	v.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	v.BindEnv("rewards.per_post", "DEFAULT_REWARD_PER_POST")
	v.BindEnv("rewards.per_found_item", "DEFAULT_REWARD_PER_FOUND_ITEM")
	v.BindEnv("ai_service.url", "AI_SERVICE_URL")
	v.BindEnv("ai_service.api_key", "AI_SERVICE_KEY")
	v.BindEnv("verifier.api_key", "AI_SERVICE_KEY")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("admin.api_key", "ADMIN_API_KEY")
	v.BindEnv("events.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("vector_store.qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Gemini.ResolveEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/ecosync.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("vector_store.backend", "sql")
	v.SetDefault("vector_store.qdrant.host", "localhost")
	v.SetDefault("vector_store.qdrant.port", 6334)
	v.SetDefault("vector_store.qdrant.collection_prefix", "ecosync")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "ecosync-media")
	v.SetDefault("storage.prefix", "posts")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.lock_ttl", 30*time.Second)

	v.SetDefault("events.backend", "none")
	v.SetDefault("events.kafka.brokers", []string{})
	v.SetDefault("events.kafka.topic", "ecosync.post.decided")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.base_url", defaultGeminiBaseURL)
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("gemini.embedding_model", "models/text-embedding-004")
	v.SetDefault("gemini.timeout", 30*time.Second)
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay", time.Second)

	v.SetDefault("ai_service.url", "")
	v.SetDefault("ai_service.api_key", "")
	v.SetDefault("ai_service.timeout", 10*time.Second)
	v.SetDefault("ai_service.max_retries", 3)
	v.SetDefault("ai_service.retry_delay", time.Second)

	v.SetDefault("feature_extractor.enabled", false)
	v.SetDefault("feature_extractor.input_name", "input")
	v.SetDefault("feature_extractor.output_name", "output")
	v.SetDefault("feature_extractor.input_size", 224)
	v.SetDefault("feature_extractor.output_dims", 1280)

	v.SetDefault("verification.offline_mode", false)
	v.SetDefault("verification.hash_dimensions", 64)
	v.SetDefault("verification.duplicate_threshold", 0.80)
	v.SetDefault("verification.lightweight_threshold", 0.90)
	v.SetDefault("verification.serialize_duplicate_checks", true)
	v.SetDefault("verification.lock_timeout", 30*time.Second)
	v.SetDefault("verification.reverify_workers", 4)

	v.SetDefault("rewards.per_post", 10)
	v.SetDefault("rewards.per_found_item", 8)
	v.SetDefault("rewards.approve_default", 10)

	v.SetDefault("purge.enabled", true)
	v.SetDefault("purge.rejected_retention", 24*time.Hour)
	v.SetDefault("purge.interval", time.Hour)

	v.SetDefault("admin.api_key", "")

	v.SetDefault("verifier.port", 8090)
	v.SetDefault("verifier.default_credits", 1)
	v.SetDefault("verifier.database.driver", "sqlite")
	v.SetDefault("verifier.database.path", "./data/verifier.db")
	v.SetDefault("verifier.database.max_idle_conns", 2)
	v.SetDefault("verifier.database.max_open_conns", 4)
	v.SetDefault("verifier.database.conn_max_lifetime", time.Hour)
	v.SetDefault("verifier.database.auto_migrate", true)
	v.SetDefault("verifier.database.log_level", "warn")
}

// Validate checks value ranges that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	if err := validateThreshold("verification.duplicate_threshold", c.Verification.DuplicateThreshold); err != nil {
		return err
	}
	if err := validateThreshold("verification.lightweight_threshold", c.Verification.LightweightThreshold); err != nil {
		return err
	}
	if c.Verification.HashDimensions <= 0 {
		return fmt.Errorf("verification.hash_dimensions must be positive, got %d", c.Verification.HashDimensions)
	}
	if c.Rewards.PerPost < 0 || c.Rewards.PerFoundItem < 0 || c.Rewards.ApproveDefault < 0 {
		return fmt.Errorf("rewards must not be negative")
	}
	if c.AIService.MaxRetries < 0 || c.Gemini.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	switch c.VectorStore.Backend {
	case "sql", "qdrant":
	default:
		return fmt.Errorf("unknown vector_store.backend %q", c.VectorStore.Backend)
	}
	switch c.Events.Backend {
	case "none", "kafka":
	default:
		return fmt.Errorf("unknown events.backend %q", c.Events.Backend)
	}
	if c.Events.Backend == "kafka" && len(c.Events.Kafka.Brokers) == 0 {
		return fmt.Errorf("events.kafka.brokers is required when events.backend is kafka")
	}
	if c.FeatureExtractor.Enabled && c.FeatureExtractor.InputSize <= 0 {
		return fmt.Errorf("feature_extractor.input_size must be positive")
	}
	return nil
}

func validateThreshold(name string, v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%s must be in (0, 1], got %v", name, v)
	}
	return nil
}
