package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/02loveslollipop/aws-rainfall/internal/failover"
	"github.com/02loveslollipop/aws-rainfall/internal/logging"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/db"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/mirror"
)

const (
	defaultIntervalMinutes = 5
	defaultRequestTimeout  = 30 * time.Second
	defaultDBPort          = "5432"
	defaultConnectTimeout  = 10 * time.Second
	defaultBreakerTrips    = 3
)

// Config holds runtime configuration for the worker service.
type Config struct {
	WeatherLink WeatherLinkConfig   `yaml:"weatherlink"`
	Database    DatabaseConfig      `yaml:"database"`
	Worker      WorkerConfig        `yaml:"worker"`
	Logging     logging.Config      `yaml:"logging"`
	Influx      mirror.InfluxConfig `yaml:"influx"`
	MQTT        mirror.MQTTConfig   `yaml:"mqtt"`
}

// WeatherLinkConfig identifies the remote station and the sensor to read.
type WeatherLinkConfig struct {
	BaseURL   string `yaml:"base_url" validate:"required,url"`
	APIKey    string `yaml:"api_key" validate:"required"`
	APISecret string `yaml:"api_secret" validate:"required"`
	StationID string `yaml:"station_id" validate:"required"`
	// TargetLSID is nil until set; zero is a valid sensor id.
	TargetLSID *int `yaml:"target_lsid" validate:"required"`
}

// DatabaseConfig contains Postgres connection settings.
type DatabaseConfig struct {
	Host           string        `yaml:"host" validate:"required"`
	Port           string        `yaml:"port" validate:"required,numeric"`
	Name           string        `yaml:"name" validate:"required"`
	User           string        `yaml:"user" validate:"required"`
	Password       string        `yaml:"password" validate:"required"`
	SSLMode        string        `yaml:"ssl_mode"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// WorkerConfig controls the polling loop.
type WorkerConfig struct {
	IntervalMinutes int           `yaml:"interval_minutes" validate:"min=1,max=60"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`
	StrictFetch     bool          `yaml:"strict_fetch"`
	FailoverDir     string        `yaml:"failover_dir" validate:"required"`

	// BreakerTimeout is how long the fetch breaker stays open. It must be
	// shorter than the interval so an open breaker never eats a cycle; zero
	// means half the interval.
	BreakerFailures uint32        `yaml:"breaker_failures" validate:"min=1"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" validate:"gte=0"`
}

// Credentials converts the database section for the persistence gateway.
func (c Config) Credentials() db.Credentials {
	return db.Credentials{
		Host:           c.Database.Host,
		Port:           c.Database.Port,
		Name:           c.Database.Name,
		User:           c.Database.User,
		Password:       c.Database.Password,
		SSLMode:        c.Database.SSLMode,
		ConnectTimeout: c.Database.ConnectTimeout,
	}
}

// SensorID returns the target sensor, or zero when it is not configured.
func (c Config) SensorID() int {
	if c.WeatherLink.TargetLSID == nil {
		return 0
	}
	return *c.WeatherLink.TargetLSID
}

// Interval returns the polling interval as a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Worker.IntervalMinutes) * time.Minute
}

// BreakerOpenTimeout returns the effective open-state duration of the fetch
// breaker.
func (c Config) BreakerOpenTimeout() time.Duration {
	if c.Worker.BreakerTimeout > 0 {
		return c.Worker.BreakerTimeout
	}
	return c.Interval() / 2
}

// Defaults returns a Config with every optional value filled in.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Port:           defaultDBPort,
			ConnectTimeout: defaultConnectTimeout,
		},
		Worker: WorkerConfig{
			IntervalMinutes: defaultIntervalMinutes,
			RequestTimeout:  defaultRequestTimeout,
			FailoverDir:     failover.DefaultDir,
			BreakerFailures: defaultBreakerTrips,
		},
		Logging: logging.Config{Level: "info", Format: "text"},
		MQTT:    mirror.MQTTConfig{ClientID: "aws-rainfall-worker", TopicPrefix: "aws-rainfall"},
	}
}

// Load builds the configuration from an optional YAML file, then .env, then
// the process environment. Later sources win. The result is not validated;
// call Validate once any command-line overrides have been applied.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	_ = godotenv.Load(".env")

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envString("BASE_URL", &cfg.WeatherLink.BaseURL)
	envString("API_KEY", &cfg.WeatherLink.APIKey)
	envString("X_API_SECRET", &cfg.WeatherLink.APISecret)
	envString("STATION_ID", &cfg.WeatherLink.StationID)

	envString("DB_HOST", &cfg.Database.Host)
	envString("DB_PORT", &cfg.Database.Port)
	envString("DB_NAME", &cfg.Database.Name)
	envString("DB_USER", &cfg.Database.User)
	envString("DB_PASSWORD", &cfg.Database.Password)
	envString("DB_SSLMODE", &cfg.Database.SSLMode)

	envString("FAILOVER_DIR", &cfg.Worker.FailoverDir)
	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("LOG_FORMAT", &cfg.Logging.Format)

	envString("INFLUX_URL", &cfg.Influx.URL)
	envString("INFLUX_TOKEN", &cfg.Influx.Token)
	envString("INFLUX_ORG", &cfg.Influx.Org)
	envString("INFLUX_BUCKET", &cfg.Influx.Bucket)

	envString("MQTT_BROKER", &cfg.MQTT.Broker)
	envString("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	envString("MQTT_USERNAME", &cfg.MQTT.Username)
	envString("MQTT_PASSWORD", &cfg.MQTT.Password)
	envString("MQTT_TOPIC_PREFIX", &cfg.MQTT.TopicPrefix)

	return errors.Join(
		envIntPtr("TARGET_LSID", &cfg.WeatherLink.TargetLSID),
		envInt("WORKER_INTERVAL_MINUTES", &cfg.Worker.IntervalMinutes),
		envDuration("WORKER_REQUEST_TIMEOUT", &cfg.Worker.RequestTimeout),
		envDuration("DB_CONNECT_TIMEOUT", &cfg.Database.ConnectTimeout),
		envUint32("WORKER_BREAKER_FAILURES", &cfg.Worker.BreakerFailures),
		envDuration("WORKER_BREAKER_TIMEOUT", &cfg.Worker.BreakerTimeout),
		envBool("WORKER_STRICT_FETCH", &cfg.Worker.StrictFetch),
		envBool("INFLUX_ENABLED", &cfg.Influx.Enabled),
		envBool("MQTT_ENABLED", &cfg.MQTT.Enabled),
		envInt("MQTT_QOS", &cfg.MQTT.QoS),
	)
}

// Validate checks every required value and range.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Worker.BreakerTimeout >= c.Interval() {
		return fmt.Errorf("invalid configuration: breaker_timeout %v must be shorter than the %v interval",
			c.Worker.BreakerTimeout, c.Interval())
	}
	return nil
}

func envString(name string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

func envIntPtr(name string, dst **int) error {
	var n int
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	if err := envInt(name, &n); err != nil {
		return err
	}
	*dst = &n
	return nil
}

func envUint32(name string, dst *uint32) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = uint32(n)
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

func envBool(name string, dst *bool) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = b
	return nil
}
