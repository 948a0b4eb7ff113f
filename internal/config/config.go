package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	ItemStore  ItemStoreConfig
	SMTP       SMTPConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Database   DatabaseConfig
	Submission SubmissionConfig
	Reconcile  ReconcileConfig
	Sitemap    SitemapConfig
	Features   FeatureFlags
}

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ItemStoreConfig points at the headless CMS that holds products and orders.
type ItemStoreConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Operator string
	// TLSPolicy is one of mandatory, opportunistic, none.
	TLSPolicy string
	Timeout   time.Duration
}

// Enabled reports whether enough is configured to deliver mail.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.Operator != ""
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	OrdersTopic   string
	ConsumerGroup string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

type SubmissionConfig struct {
	MaxConcurrentWrites int
	CurrencySymbol      string
	NotificationTimeout time.Duration
}

type ReconcileConfig struct {
	Interval    time.Duration
	GracePeriod time.Duration
	BatchSize   int
}

type SitemapConfig struct {
	BaseURL    string
	OutputPath string
}

type FeatureFlags struct {
	EnableOrderEvents    bool
	EnableLedger         bool
	EnableCart           bool
	EnableReconciliation bool
}

const defaultReconcileInterval = 5 * time.Minute

// ErrMissingItemStoreToken is returned when no item store credential is supplied.
var ErrMissingItemStoreToken = errors.New("ITEM_STORE_TOKEN is required")

// Load reads configuration from the environment, seeding it from envFile when present.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// A missing file is fine; real deployments use the process environment.
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			AllowedOrigins: getEnvList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		ItemStore: ItemStoreConfig{
			BaseURL: strings.TrimRight(getEnvString("ITEM_STORE_URL", "http://localhost:8055"), "/"),
			Token:   getEnvString("ITEM_STORE_TOKEN", ""),
			Timeout: getEnvDuration("ITEM_STORE_TIMEOUT", 15*time.Second),
		},
		SMTP: SMTPConfig{
			Host:      getEnvString("SMTP_HOST", ""),
			Port:      getEnvInt("SMTP_PORT", 587),
			Username:  getEnvString("SMTP_USERNAME", ""),
			Password:  getEnvString("SMTP_PASSWORD", ""),
			From:      getEnvString("SMTP_FROM", ""),
			Operator:  getEnvString("SMTP_OPERATOR", ""),
			TLSPolicy: getEnvString("SMTP_TLS_POLICY", "opportunistic"),
			Timeout:   getEnvDuration("SMTP_TIMEOUT", 20*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("CART_TTL", 30*24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			OrdersTopic:   getEnvString("KAFKA_ORDERS_TOPIC", "storefront.orders"),
			ConsumerGroup: getEnvString("KAFKA_CONSUMER_GROUP", "storefront-reconciler"),
		},
		Database: DatabaseConfig{
			Host:         getEnvString("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnvString("DB_USER", "storefront"),
			Password:     getEnvString("DB_PASSWORD", ""),
			Name:         getEnvString("DB_NAME", "storefront"),
			SSLMode:      getEnvString("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Submission: SubmissionConfig{
			MaxConcurrentWrites: getEnvInt("SUBMISSION_MAX_CONCURRENT_WRITES", 8),
			CurrencySymbol:      getEnvString("SUBMISSION_CURRENCY_SYMBOL", "₽"),
			NotificationTimeout: getEnvDuration("SUBMISSION_NOTIFICATION_TIMEOUT", 30*time.Second),
		},
		Reconcile: ReconcileConfig{
			Interval:    getEnvDuration("RECONCILE_INTERVAL", defaultReconcileInterval),
			GracePeriod: getEnvDuration("RECONCILE_GRACE_PERIOD", 10*time.Minute),
			BatchSize:   getEnvInt("RECONCILE_BATCH_SIZE", 50),
		},
		Sitemap: SitemapConfig{
			BaseURL:    strings.TrimRight(getEnvString("SITEMAP_BASE_URL", "http://localhost:3000"), "/"),
			OutputPath: getEnvString("SITEMAP_OUTPUT", "public/sitemap.xml"),
		},
		Features: FeatureFlags{
			EnableOrderEvents:    getEnvBool("FEATURE_ORDER_EVENTS", false),
			EnableLedger:         getEnvBool("FEATURE_SUBMISSION_LEDGER", false),
			EnableCart:           getEnvBool("FEATURE_CART", true),
			EnableReconciliation: getEnvBool("FEATURE_RECONCILIATION", false),
		},
	}

	if cfg.Submission.MaxConcurrentWrites < 1 {
		cfg.Submission.MaxConcurrentWrites = 1
	}
	if cfg.Reconcile.Interval <= 0 {
		cfg.Reconcile.Interval = defaultReconcileInterval
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	if cfg.ItemStore.Token == "" {
		return nil, ErrMissingItemStoreToken
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
