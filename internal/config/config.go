package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Campaign CampaignConfig `mapstructure:"campaign"`
	Log      LogConfig      `mapstructure:"log"`
}

// HTTPConfig holds the control API settings
type HTTPConfig struct {
	Port            string        `mapstructure:"port"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second per client
	RateBurst       int           `mapstructure:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds the SQLite DSN shared by campaign state and the
// WhatsApp device store
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// StorageConfig holds upload directories
type StorageConfig struct {
	UploadDir   string `mapstructure:"upload_dir"`
	ContactsDir string `mapstructure:"contacts_dir"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
}

// CampaignConfig tunes engine timing
type CampaignConfig struct {
	Tick              time.Duration `mapstructure:"tick"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	PauseGrace        time.Duration `mapstructure:"pause_grace"`
	MinPause          time.Duration `mapstructure:"min_pause"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
	WatchdogInterval  time.Duration `mapstructure:"watchdog_interval"`
	ResumeOnBoot      bool          `mapstructure:"resume_on_boot"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads .env, an optional config.yaml and BROADCASTER_* environment
// variables, in increasing precedence.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("BROADCASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// Variable names used by earlier deployments.
	_ = v.BindEnv("http.port", "BROADCASTER_HTTP_PORT", "PORT")
	_ = v.BindEnv("database.dsn", "BROADCASTER_DATABASE_DSN", "DB_DSN")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "9724")
	v.SetDefault("http.rate_limit", 20.0)
	v.SetDefault("http.rate_burst", 40)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.dsn", "file:broadcaster.db?_foreign_keys=on")
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.contacts_dir", "uploads/contacts")
	v.SetDefault("storage.max_upload_mb", 50)
	v.SetDefault("campaign.tick", time.Second)
	v.SetDefault("campaign.retry_delay", 3*time.Second)
	v.SetDefault("campaign.pause_grace", 2*time.Second)
	v.SetDefault("campaign.min_pause", 2*time.Second)
	v.SetDefault("campaign.default_timeout", 60*time.Second)
	v.SetDefault("campaign.default_max_retries", 3)
	v.SetDefault("campaign.watchdog_interval", 30*time.Second)
	v.SetDefault("campaign.resume_on_boot", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}
