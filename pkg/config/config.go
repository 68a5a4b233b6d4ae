package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Gateway      GatewayConfig
	PaymentsAPI  PaymentsAPIConfig
	Sync         SyncConfig
	Reconcile    ReconcileConfig
	Video        VideoConfig
	Notify       NotifyConfig
	Certificates CertificatesConfig
	Catalog      CatalogConfig
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
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GatewayConfig configures the hosted checkout provider.
type GatewayConfig struct {
	ServerKey      string
	Production     bool
	SignatureKey   string
	Currency       string
	CheckoutExpiry time.Duration
}

// PaymentsAPIConfig lists the candidate bases for the payment verification backend.
type PaymentsAPIConfig struct {
	Override      string
	ProxyPath     string
	ProxyOrigin   string
	Remote        string
	Timeout       time.Duration
	ServiceSecret string
	ServiceTTL    time.Duration
}

// SyncConfig controls the change feed used by realtime subscriptions.
type SyncConfig struct {
	RedisFeed bool
	Channel   string
	Heartbeat time.Duration
}

// ReconcileConfig tunes enrollment reconciliation retries.
type ReconcileConfig struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	Workers       int
	SweepSchedule string
	SweepBatch    int
	SweepMinAge   time.Duration
}

// VideoConfig selects how secure video keys become signed URLs.
type VideoConfig struct {
	Provider      string
	SigningSecret string
	URLTTL        time.Duration
	CDNBase       string
	GCSBucket     string
	GCSAccessID   string
	GCSPrivateKey string
	// MediaDir backs the /media route when Provider is hmac.
	MediaDir      string
}

// NotifyConfig configures transactional email.
type NotifyConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
}

type CertificatesConfig struct {
	StorageDir string
	IssuerName string
}

type CatalogConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Gateway = GatewayConfig{
		ServerKey:      v.GetString("MIDTRANS_SERVER_KEY"),
		Production:     v.GetBool("MIDTRANS_PRODUCTION"),
		SignatureKey:   v.GetString("GATEWAY_SIGNATURE_KEY"),
		Currency:       strings.ToUpper(v.GetString("GATEWAY_CURRENCY")),
		CheckoutExpiry: parseDuration(v.GetString("GATEWAY_CHECKOUT_EXPIRY"), 30*time.Minute),
	}

	cfg.PaymentsAPI = PaymentsAPIConfig{
		Override:      v.GetString("PAYMENTS_API_BASE"),
		ProxyPath:     v.GetString("PAYMENTS_API_PROXY_PATH"),
		ProxyOrigin:   v.GetString("PAYMENTS_API_PROXY_ORIGIN"),
		Remote:        v.GetString("PAYMENTS_API_REMOTE"),
		Timeout:       parseDuration(v.GetString("PAYMENTS_API_TIMEOUT"), 10*time.Second),
		ServiceSecret: v.GetString("PAYMENTS_API_SERVICE_SECRET"),
		ServiceTTL:    parseDuration(v.GetString("PAYMENTS_API_SERVICE_TTL"), 5*time.Minute),
	}

	cfg.Sync = SyncConfig{
		RedisFeed: v.GetBool("SYNC_REDIS_FEED"),
		Channel:   v.GetString("SYNC_CHANNEL"),
		Heartbeat: parseDuration(v.GetString("SYNC_HEARTBEAT"), 15*time.Second),
	}

	cfg.Reconcile = ReconcileConfig{
		MaxAttempts:   v.GetInt("RECONCILE_MAX_ATTEMPTS"),
		RetryDelay:    parseDuration(v.GetString("RECONCILE_RETRY_DELAY"), 5*time.Second),
		Workers:       v.GetInt("RECONCILE_WORKERS"),
		SweepSchedule: v.GetString("RECONCILE_SWEEP_SCHEDULE"),
		SweepBatch:    v.GetInt("RECONCILE_SWEEP_BATCH"),
		SweepMinAge:   parseDuration(v.GetString("RECONCILE_SWEEP_MIN_AGE"), 2*time.Minute),
	}

	cfg.Video = VideoConfig{
		Provider:      strings.ToLower(v.GetString("VIDEO_URL_PROVIDER")),
		SigningSecret: v.GetString("VIDEO_SIGNING_SECRET"),
		URLTTL:        parseDuration(v.GetString("VIDEO_URL_TTL"), 2*time.Hour),
		CDNBase:       v.GetString("VIDEO_CDN_BASE"),
		GCSBucket:     v.GetString("VIDEO_GCS_BUCKET"),
		GCSAccessID:   v.GetString("VIDEO_GCS_ACCESS_ID"),
		GCSPrivateKey: v.GetString("VIDEO_GCS_PRIVATE_KEY"),
		MediaDir:      v.GetString("VIDEO_MEDIA_DIR"),
	}

	cfg.Notify = NotifyConfig{
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromEmail:      v.GetString("NOTIFY_FROM_EMAIL"),
		FromName:       v.GetString("NOTIFY_FROM_NAME"),
	}

	cfg.Certificates = CertificatesConfig{
		StorageDir: v.GetString("CERTIFICATES_STORAGE_DIR"),
		IssuerName: v.GetString("CERTIFICATES_ISSUER_NAME"),
	}

	cfg.Catalog = CatalogConfig{
		CacheEnabled: v.GetBool("ENABLE_CATALOG_CACHE"),
		CacheTTL:     parseDuration(v.GetString("CATALOG_CACHE_TTL"), 5*time.Minute),
	}

	return cfg, nil
}

// Development reports whether the service runs outside production.
func (c *Config) Development() bool {
	return c != nil && c.Env != EnvProduction
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "course_commerce")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MIDTRANS_SERVER_KEY", "")
	v.SetDefault("MIDTRANS_PRODUCTION", false)
	v.SetDefault("GATEWAY_SIGNATURE_KEY", "dev_gateway_secret")
	v.SetDefault("GATEWAY_CURRENCY", "IDR")
	v.SetDefault("GATEWAY_CHECKOUT_EXPIRY", "30m")

	v.SetDefault("PAYMENTS_API_BASE", "")
	v.SetDefault("PAYMENTS_API_PROXY_PATH", "/api")
	v.SetDefault("PAYMENTS_API_PROXY_ORIGIN", "http://localhost:3000")
	v.SetDefault("PAYMENTS_API_REMOTE", "")
	v.SetDefault("PAYMENTS_API_TIMEOUT", "10s")
	v.SetDefault("PAYMENTS_API_SERVICE_SECRET", "dev_payments_secret")
	v.SetDefault("PAYMENTS_API_SERVICE_TTL", "5m")

	v.SetDefault("SYNC_REDIS_FEED", false)
	v.SetDefault("SYNC_CHANNEL", "commerce:changes")
	v.SetDefault("SYNC_HEARTBEAT", "15s")

	v.SetDefault("RECONCILE_MAX_ATTEMPTS", 5)
	v.SetDefault("RECONCILE_RETRY_DELAY", "5s")
	v.SetDefault("RECONCILE_WORKERS", 2)
	v.SetDefault("RECONCILE_SWEEP_SCHEDULE", "@every 5m")
	v.SetDefault("RECONCILE_SWEEP_BATCH", 50)
	v.SetDefault("RECONCILE_SWEEP_MIN_AGE", "2m")

	v.SetDefault("VIDEO_URL_PROVIDER", "hmac")
	v.SetDefault("VIDEO_SIGNING_SECRET", "dev_video_secret")
	v.SetDefault("VIDEO_URL_TTL", "2h")
	v.SetDefault("VIDEO_CDN_BASE", "http://localhost:8080/media")
	v.SetDefault("VIDEO_GCS_BUCKET", "")
	v.SetDefault("VIDEO_GCS_ACCESS_ID", "")
	v.SetDefault("VIDEO_GCS_PRIVATE_KEY", "")
	v.SetDefault("VIDEO_MEDIA_DIR", "./media")

	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("NOTIFY_FROM_EMAIL", "no-reply@localhost")
	v.SetDefault("NOTIFY_FROM_NAME", "Course Store")

	v.SetDefault("CERTIFICATES_STORAGE_DIR", "./certificates")
	v.SetDefault("CERTIFICATES_ISSUER_NAME", "Course Store Academy")

	v.SetDefault("ENABLE_CATALOG_CACHE", false)
	v.SetDefault("CATALOG_CACHE_TTL", "5m")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
