/**
 * @description
 * This package handles the configuration management for the core service. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), normalizing values so the rest of the service can rely on sane defaults.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultServerPort                  = "8080"
	defaultEventsExchange              = "parivartan.events"
	defaultPaymentStatusQueue          = "core_service.payment_status"
	defaultRedisRateLimitPrefix        = "parivartan:rate_limit"
	defaultAllowedEmailDomain          = "miet.ac.in"
	defaultAuthAudience                = "authenticated"
	defaultTOTPIssuer                  = "PARIVARTAN"
	defaultTwoFactorRateLimitPerMinute = 5
	defaultPaymentInitRateLimitPerMin  = 20
	defaultStalePaymentSchedule        = "0 * * * *"
	defaultStalePaymentAgeMinutes      = 60
	defaultDBMaxConns                  = 20
	defaultDBMinConns                  = 2
)

// Config holds all the configuration variables for the core service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                    string `mapstructure:"SERVER_PORT"`
	DatabaseURL                   string `mapstructure:"DATABASE_URL"`
	DBMaxConns                    int    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                    int    `mapstructure:"DB_MIN_CONNS"`
	RunMigrations                 bool   `mapstructure:"RUN_MIGRATIONS"`
	AuthProviderURL               string `mapstructure:"AUTH_PROVIDER_URL"`
	AuthProviderServiceKey        string `mapstructure:"AUTH_PROVIDER_SERVICE_KEY"`
	AuthJWTSecret                 string `mapstructure:"AUTH_JWT_SECRET"`
	AuthJWKSURL                   string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience                  string `mapstructure:"AUTH_AUDIENCE"`
	AuthIssuer                    string `mapstructure:"AUTH_ISSUER"`
	AllowedEmailDomain            string `mapstructure:"ALLOWED_EMAIL_DOMAIN"`
	RabbitMQURL                   string `mapstructure:"RABBITMQ_URL"`
	EventsExchange                string `mapstructure:"EVENTS_EXCHANGE"`
	PaymentStatusQueue            string `mapstructure:"PAYMENT_STATUS_QUEUE"`
	RedisURL                      string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix          string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	TwoFactorRateLimitPerMinute   int    `mapstructure:"TWO_FACTOR_RATE_LIMIT_PER_MINUTE"`
	PaymentInitRateLimitPerMinute int    `mapstructure:"PAYMENT_INIT_RATE_LIMIT_PER_MINUTE"`
	PaymentWebhookSecret          string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	TOTPIssuer                    string `mapstructure:"TOTP_ISSUER"`
	StalePaymentReportSchedule    string `mapstructure:"STALE_PAYMENT_REPORT_SCHEDULE"`
	StalePaymentAgeMinutes        int    `mapstructure:"STALE_PAYMENT_AGE_MINUTES"`
	CORSAllowedOrigins            string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables from the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("DB_MAX_CONNS", defaultDBMaxConns)
	viper.SetDefault("DB_MIN_CONNS", defaultDBMinConns)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("AUTH_AUDIENCE", defaultAuthAudience)
	viper.SetDefault("ALLOWED_EMAIL_DOMAIN", defaultAllowedEmailDomain)
	viper.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("PAYMENT_STATUS_QUEUE", defaultPaymentStatusQueue)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRedisRateLimitPrefix)
	viper.SetDefault("TWO_FACTOR_RATE_LIMIT_PER_MINUTE", defaultTwoFactorRateLimitPerMinute)
	viper.SetDefault("PAYMENT_INIT_RATE_LIMIT_PER_MINUTE", defaultPaymentInitRateLimitPerMin)
	viper.SetDefault("TOTP_ISSUER", defaultTOTPIssuer)
	viper.SetDefault("STALE_PAYMENT_REPORT_SCHEDULE", defaultStalePaymentSchedule)
	viper.SetDefault("STALE_PAYMENT_AGE_MINUTES", defaultStalePaymentAgeMinutes)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("AUTH_PROVIDER_URL")
	_ = viper.BindEnv("AUTH_PROVIDER_SERVICE_KEY", "AUTH_PROVIDER_SERVICE_KEY", "SERVICE_ROLE_KEY")
	_ = viper.BindEnv("AUTH_JWT_SECRET", "AUTH_JWT_SECRET", "JWT_SECRET")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("AUTH_AUDIENCE")
	_ = viper.BindEnv("AUTH_ISSUER")
	_ = viper.BindEnv("ALLOWED_EMAIL_DOMAIN")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("PAYMENT_STATUS_QUEUE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "CORE_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("TWO_FACTOR_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PAYMENT_INIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PAYMENT_WEBHOOK_SECRET")
	_ = viper.BindEnv("TOTP_ISSUER")
	_ = viper.BindEnv("STALE_PAYMENT_REPORT_SCHEDULE")
	_ = viper.BindEnv("STALE_PAYMENT_AGE_MINUTES")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.normalize()
	return
}

func (c *Config) normalize() {
	c.AuthProviderURL = strings.TrimRight(strings.TrimSpace(c.AuthProviderURL), "/")
	c.AuthProviderServiceKey = strings.TrimSpace(c.AuthProviderServiceKey)
	c.AuthJWTSecret = strings.TrimSpace(c.AuthJWTSecret)
	c.AuthJWKSURL = strings.TrimSpace(c.AuthJWKSURL)
	c.PaymentWebhookSecret = strings.TrimSpace(c.PaymentWebhookSecret)
	c.RedisURL = strings.TrimSpace(c.RedisURL)

	c.AllowedEmailDomain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.AllowedEmailDomain), "@"))
	if c.AllowedEmailDomain == "" {
		c.AllowedEmailDomain = defaultAllowedEmailDomain
	}
	c.RedisRateLimitPrefix = strings.TrimSpace(c.RedisRateLimitPrefix)
	if c.RedisRateLimitPrefix == "" {
		c.RedisRateLimitPrefix = defaultRedisRateLimitPrefix
	}
	c.EventsExchange = strings.TrimSpace(c.EventsExchange)
	if c.EventsExchange == "" {
		c.EventsExchange = defaultEventsExchange
	}
	c.PaymentStatusQueue = strings.TrimSpace(c.PaymentStatusQueue)
	if c.PaymentStatusQueue == "" {
		c.PaymentStatusQueue = defaultPaymentStatusQueue
	}
	if strings.TrimSpace(c.TOTPIssuer) == "" {
		c.TOTPIssuer = defaultTOTPIssuer
	}
	if strings.TrimSpace(c.StalePaymentReportSchedule) == "" {
		c.StalePaymentReportSchedule = defaultStalePaymentSchedule
	}
	if strings.TrimSpace(c.CORSAllowedOrigins) == "" {
		c.CORSAllowedOrigins = "*"
	}

	if c.DBMaxConns <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive DB_MAX_CONNS; using default\" value=%d", c.DBMaxConns)
		c.DBMaxConns = defaultDBMaxConns
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		log.Printf("level=warn component=config msg=\"invalid DB_MIN_CONNS; using default\" value=%d", c.DBMinConns)
		c.DBMinConns = defaultDBMinConns
		if c.DBMinConns > c.DBMaxConns {
			c.DBMinConns = c.DBMaxConns
		}
	}
	if c.TwoFactorRateLimitPerMinute <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive TWO_FACTOR_RATE_LIMIT_PER_MINUTE; using default\" value=%d", c.TwoFactorRateLimitPerMinute)
		c.TwoFactorRateLimitPerMinute = defaultTwoFactorRateLimitPerMinute
	}
	if c.PaymentInitRateLimitPerMinute <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive PAYMENT_INIT_RATE_LIMIT_PER_MINUTE; using default\" value=%d", c.PaymentInitRateLimitPerMinute)
		c.PaymentInitRateLimitPerMinute = defaultPaymentInitRateLimitPerMin
	}
	if c.StalePaymentAgeMinutes <= 0 {
		c.StalePaymentAgeMinutes = defaultStalePaymentAgeMinutes
	}
}

// AllowedOrigins splits the configured CORS origin list.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
