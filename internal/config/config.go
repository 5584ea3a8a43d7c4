package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Steam    SteamConfig    `mapstructure:"steam"`
	Governor GovernorConfig `mapstructure:"governor"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

type ServerConfig struct {
	Port       int        `mapstructure:"port"`
	Mode       string     `mapstructure:"mode"`
	AdminToken string     `mapstructure:"admin_token"`
	CORS       CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Environment string `mapstructure:"environment"`
	File        string `mapstructure:"file"`
	FileOnly    bool   `mapstructure:"file_only"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// DatabaseConfig selects the replay store backend. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogSQL          bool          `mapstructure:"log_sql"`
}

// DSN builds the driver connection string. An explicit URL always wins.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Driver != "postgres" {
		return c.Path
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig names the two worker queues and bounds every queue write.
type QueueConfig struct {
	MetadataQueue string        `mapstructure:"metadata_queue"`
	DownloadQueue string        `mapstructure:"download_queue"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	PopTimeout    time.Duration `mapstructure:"pop_timeout"`

	// LeaseTimeout is how long a popped message may go unacked before it is redelivered.
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`

	// ReclaimInterval is how often expired leases are requeued.
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // s3, r2, s3compatible, minio
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type SteamConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GovernorConfig holds the per-worker daily limits advertised by the game network.
type GovernorConfig struct {
	Window               time.Duration `mapstructure:"window"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl"`
	MatchRequestLimit    int           `mapstructure:"match_request_limit"`
	ProfileRequestLimit  int           `mapstructure:"profile_request_limit"`
	DownloadRequestLimit int           `mapstructure:"download_request_limit"`
}

type SweeperConfig struct {
	MaxFixAttempts     int           `mapstructure:"max_fix_attempts"`
	MinReplayBytes     int64         `mapstructure:"min_replay_bytes"`
	StuckDownloadAfter time.Duration `mapstructure:"stuck_download_after"`
	Interval           time.Duration `mapstructure:"interval"`
	BatchSize          int           `mapstructure:"batch_size"`

	// StaleAfter bounds how long a replay may sit in WAITING_GC or
	// DOWNLOAD_IN_PROGRESS before it is re-driven.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type WorkersConfig struct {
	// SecretKey is a hex encoded 32 byte key sealing worker credentials at rest.
	SecretKey string `mapstructure:"secret_key"`
}

type AlertConfig struct {
	SentryDSN   string `mapstructure:"sentry_dsn"`
	Environment string `mapstructure:"environment"`
}

type CacheConfig struct {
	HeroTTL time.Duration `mapstructure:"hero_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "local")
	v.SetDefault("log.file", "/var/log/dotabank/app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/dotabank.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dotabank")
	v.SetDefault("database.name", "dotabank")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.metadata_queue", "dotabank:gc")
	v.SetDefault("queue.download_queue", "dotabank:dl")
	v.SetDefault("queue.write_timeout", 5*time.Second)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.pop_timeout", 20*time.Second)
	v.SetDefault("queue.lease_timeout", 30*time.Minute)
	v.SetDefault("queue.reclaim_interval", time.Minute)

	v.SetDefault("storage.type", "")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.bucket", "dotabank")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("steam.base_url", "https://api.steampowered.com")
	v.SetDefault("steam.timeout", 30*time.Second)

	v.SetDefault("governor.window", 24*time.Hour)
	v.SetDefault("governor.cache_ttl", 5*time.Minute)
	v.SetDefault("governor.match_request_limit", 100)
	v.SetDefault("governor.profile_request_limit", 250)
	v.SetDefault("governor.download_request_limit", 500)

	v.SetDefault("sweeper.max_fix_attempts", 5)
	v.SetDefault("sweeper.min_replay_bytes", 1024*1024)
	v.SetDefault("sweeper.stuck_download_after", 24*time.Hour)
	v.SetDefault("sweeper.stale_after", 48*time.Hour)
	v.SetDefault("sweeper.interval", 15*time.Minute)
	v.SetDefault("sweeper.batch_size", 500)

	v.SetDefault("alert.environment", "development")
	v.SetDefault("cache.hero_ttl", time.Hour)
}

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

	// Secrets are usually injected by the deployment, not the YAML file.
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("steam.api_key", "STEAM_API_KEY")
	_ = v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	_ = v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("workers.secret_key", "WORKER_SECRET_KEY")
	_ = v.BindEnv("server.admin_token", "ADMIN_TOKEN")
	_ = v.BindEnv("alert.sentry_dsn", "SENTRY_DSN")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.environment", "APP_ENV")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
