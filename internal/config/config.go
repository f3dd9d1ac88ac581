package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Admin    AdminConfig
	Codes    CodeConfig
	Invite   InviteConfig
	Email    EmailConfig
	SMS      SMSConfig
	Redis    RedisConfig
	AMQP     AMQPConfig
	External ExternalTokenConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	AuthRateLimit  int // requests per minute per IP on public /auth routes
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret           string
	TokenIssuer         string
	TokenExpiry         time.Duration
	MaxLoginAttempts    int
	LockoutDuration     time.Duration
	CleanupInterval     time.Duration
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
	BcryptCost          int
}

// AdminConfig is the bootstrap administrator identity. Either email or phone
// identifies the admin; the password is compared directly on first run.
type AdminConfig struct {
	Email    string
	Phone    string
	Password string
}

// Enabled reports whether an administrator identity is configured
func (a AdminConfig) Enabled() bool {
	return a.Email != "" || a.Phone != ""
}

type CodeConfig struct {
	TTL   time.Duration
	Store string // "memory" or "redis"
}

type InviteConfig struct {
	ExpiryDays int
	MaxUses    int
}

type EmailConfig struct {
	Provider     string // "ses", "smtp" or "log"
	FromAddress  string
	AWSRegion    string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	PreviewURL   string // log provider only
}

type SMSConfig struct {
	Provider  string // "sns" or "log"
	AWSRegion string
	SenderID  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

// ExternalTokenConfig configures the non-internal bearer token strategies.
// Each strategy is only enabled when its key setting is present.
type ExternalTokenConfig struct {
	TokenPrefix        string
	ServiceKey         string
	ServiceRole        string
	GoogleClientID     string
	IntrospectionURL   string
	IntrospectionID    string
	IntrospectionToken string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: loadDatabaseConfig(),
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			AuthRateLimit:  getEnvAsInt("AUTH_RATE_LIMIT_PER_MINUTE", 10),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			TokenIssuer:         getEnv("TOKEN_ISSUER", "gatekeeper"),
			TokenExpiry:         getEnvAsDuration("TOKEN_TTL", 24*time.Hour),
			MaxLoginAttempts:    getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration:     time.Duration(getEnvAsInt("LOCKOUT_DURATION_MINUTES", 15)) * time.Minute,
			CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 200),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			BcryptCost:          getEnvAsInt("BCRYPT_COST", 12),
		},
		Admin: AdminConfig{
			Email:    strings.ToLower(strings.TrimSpace(getEnv("ADMIN_EMAIL", ""))),
			Phone:    normalizePhone(getEnv("ADMIN_PHONE", "")),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
		Codes: CodeConfig{
			TTL:   time.Duration(getEnvAsInt("CODE_TTL_MINUTES", 15)) * time.Minute,
			Store: strings.ToLower(getEnv("CODE_STORE", "memory")),
		},
		Invite: InviteConfig{
			ExpiryDays: getEnvAsInt("INVITE_EXPIRY_DAYS", 7),
			MaxUses:    getEnvAsInt("INVITE_MAX_USES", 1),
		},
		Email: EmailConfig{
			Provider:     strings.ToLower(getEnv("EMAIL_PROVIDER", "log")),
			FromAddress:  getEnv("EMAIL_FROM", "no-reply@localhost"),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			PreviewURL:   strings.TrimRight(getEnv("EMAIL_PREVIEW_URL", ""), "/"),
		},
		SMS: SMSConfig{
			Provider:  strings.ToLower(getEnv("SMS_PROVIDER", "log")),
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
			SenderID:  getEnv("SMS_SENDER_ID", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "gatekeeper.events"),
		},
		External: ExternalTokenConfig{
			TokenPrefix:        getEnv("EXTERNAL_TOKEN_PREFIX", ""),
			ServiceKey:         getEnv("SERVICE_TOKEN_KEY", ""),
			ServiceRole:        strings.ToUpper(getEnv("SERVICE_TOKEN_ROLE", "ADMIN")),
			GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			IntrospectionURL:   getEnv("INTROSPECTION_URL", ""),
			IntrospectionID:    getEnv("INTROSPECTION_CLIENT_ID", ""),
			IntrospectionToken: getEnv("INTROSPECTION_CLIENT_SECRET", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase reads only the database settings, for tools such as the
// migrator that must not require the API's secrets
func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	cfg := loadDatabaseConfig()
	if cfg.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	return &cfg, nil
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:              getEnv("DB_HOST", "localhost"),
		Port:              getEnvAsInt("DB_PORT", 5432),
		User:              getEnv("DB_USER", "postgres"),
		Password:          getEnv("DB_PASSWORD", ""),
		Name:              getEnv("DB_NAME", "gatekeeper"),
		SSLMode:           getEnv("DB_SSLMODE", "disable"),
		MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
		MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
		MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
		HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
	}
}

// validate checks cross-field settings once all values are loaded
func (c *Config) validate() error {
	if c.Admin.Enabled() && c.Admin.Password == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required when ADMIN_EMAIL or ADMIN_PHONE is set")
	}
	if c.Auth.MaxLoginAttempts < 1 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be at least 1")
	}
	if c.Auth.BcryptCost < 10 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 10 and 31")
	}
	if c.Auth.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.Auth.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}
	if c.Codes.TTL <= 0 {
		return fmt.Errorf("CODE_TTL_MINUTES must be positive")
	}
	switch c.Codes.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("CODE_STORE must be memory or redis, got %q", c.Codes.Store)
	}
	switch c.Email.Provider {
	case "ses", "log":
	case "smtp":
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER=smtp")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be ses, smtp or log, got %q", c.Email.Provider)
	}
	switch c.SMS.Provider {
	case "sns", "log":
	default:
		return fmt.Errorf("SMS_PROVIDER must be sns or log, got %q", c.SMS.Provider)
	}
	if c.External.ServiceKey != "" && len(c.External.ServiceKey) < 32 {
		return fmt.Errorf("SERVICE_TOKEN_KEY must be at least 32 characters")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// normalizePhone matches the phone form login requests are compared in:
// ASCII digits and a leading "+"
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if (r == '+' && i == 0) || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if out := b.String(); out != "+" {
		return out
	}
	return ""
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	originsStr := getEnv("ALLOWED_ORIGINS", "")
	if originsStr == "" {
		if env == "production" {
			return []string{}
		}
		return []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		}
	}

	origins := strings.Split(originsStr, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	return origins
}
