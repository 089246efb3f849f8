package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	pkgauth "github.com/quickstack/pos-auth/pkg/auth"
)

// Config is built once at startup and never mutated afterwards.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	JWT      JWTConfig
	Password PasswordConfig
	Breach   BreachConfig
	Lockout  LockoutConfig
	Session  SessionConfig
	Email    EmailConfig
	Timing   TimingConfig
	Cleanup  CleanupConfig
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
	RunMigrations     bool
}

type ServerConfig struct {
	Port                  string
	Env                   string
	LogLevel              string
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	IdleTimeout           time.Duration
	TrustedProxies        []string
	AllowedOrigins        []string
	AuthRequestsPerMinute int
	UserRequestsPerMinute int
}

// JWTConfig holds access-token settings. Keys are given either inline
// (base64 DER or PEM) or as a file path; the inline value wins.
type JWTConfig struct {
	Issuer             string
	AccessTokenTTL     time.Duration
	ClockSkew          time.Duration
	PrivateKey         string
	PrivateKeyPath     string
	PublicKey          string
	PublicKeyPath      string
	PreviousPublicKeys []string
}

type PasswordConfig struct {
	Policy  pkgauth.PasswordPolicy
	Hash    pkgauth.HashConfig
	Peppers *pkgauth.PepperRegistry
}

type BreachConfig struct {
	Enabled    bool
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// FailOpen lets registrations through when the breach API is unreachable.
	FailOpen bool
}

type LockoutConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	Duration    time.Duration
}

type SessionConfig struct {
	RefreshTokenTTL time.Duration
	CookieSecure    bool
	CookieDomain    string
}

type EmailConfig struct {
	Enabled      bool
	AWSRegion    string
	FromAddress  string
	ResetURLBase string
}

type TimingConfig struct {
	BaseDelayMs   int
	RandomDelayMs int
}

type CleanupConfig struct {
	Schedule              string
	RefreshTokenRetention time.Duration
	LoginAttemptRetention time.Duration
}

const maxBreachRetries = 5

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	peppers, err := loadPeppers()
	if err != nil {
		return nil, err
	}

	previousKeys, err := splitStrict(os.Getenv("JWT_PREVIOUS_PUBLIC_KEYS"))
	if err != nil {
		return nil, fmt.Errorf("JWT_PREVIOUS_PUBLIC_KEYS: %w", err)
	}

	hash := pkgauth.DefaultHashConfig()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "quickstack"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			RunMigrations:     getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Server: ServerConfig{
			Port:                  getEnv("PORT", "8080"),
			Env:                   env,
			LogLevel:              getEnv("LOG_LEVEL", "info"),
			ReadTimeout:           getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:          getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:           getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies:        splitList(os.Getenv("TRUSTED_PROXIES")),
			AllowedOrigins:        splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
			AuthRequestsPerMinute: getEnvAsInt("AUTH_RATE_LIMIT_PER_MINUTE", 10),
			UserRequestsPerMinute: getEnvAsInt("USER_RATE_LIMIT_PER_MINUTE", 60),
		},
		JWT: JWTConfig{
			Issuer:             getEnv("JWT_ISSUER", "quickstack-pos"),
			AccessTokenTTL:     getEnvAsDuration("JWT_ACCESS_TOKEN_TTL", 15*time.Minute),
			ClockSkew:          getEnvAsDuration("JWT_CLOCK_SKEW", 30*time.Second),
			PrivateKey:         os.Getenv("JWT_PRIVATE_KEY"),
			PrivateKeyPath:     os.Getenv("JWT_PRIVATE_KEY_PATH"),
			PublicKey:          os.Getenv("JWT_PUBLIC_KEY"),
			PublicKeyPath:      os.Getenv("JWT_PUBLIC_KEY_PATH"),
			PreviousPublicKeys: previousKeys,
		},
		Password: PasswordConfig{
			Policy: pkgauth.PasswordPolicy{
				MinLength: getEnvAsInt("PASSWORD_MIN_LENGTH", pkgauth.DefaultMinPasswordLen),
				MaxLength: getEnvAsInt("PASSWORD_MAX_LENGTH", pkgauth.DefaultMaxPasswordLen),
			},
			Hash: pkgauth.HashConfig{
				MemoryKiB:   uint32(getEnvAsInt("ARGON2_MEMORY_KIB", int(hash.MemoryKiB))),
				Iterations:  uint32(getEnvAsInt("ARGON2_ITERATIONS", int(hash.Iterations))),
				Parallelism: uint8(getEnvAsInt("ARGON2_PARALLELISM", int(hash.Parallelism))),
				SaltLength:  uint32(getEnvAsInt("ARGON2_SALT_LENGTH", int(hash.SaltLength))),
				KeyLength:   uint32(getEnvAsInt("ARGON2_HASH_LENGTH", int(hash.KeyLength))),
			},
			Peppers: peppers,
		},
		Breach: BreachConfig{
			Enabled:    getEnvAsBool("HIBP_ENABLED", true),
			BaseURL:    getEnv("HIBP_API_URL", "https://api.pwnedpasswords.com/range/"),
			Timeout:    getEnvAsDuration("HIBP_TIMEOUT", 3*time.Second),
			MaxRetries: getEnvAsInt("HIBP_MAX_RETRIES", 2),
			FailOpen:   getEnvAsBool("HIBP_FAIL_OPEN", false),
		},
		Lockout: LockoutConfig{
			Enabled:     getEnvAsBool("LOCKOUT_ENABLED", true),
			MaxAttempts: getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			Window:      getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			Duration:    getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
		},
		Session: SessionConfig{
			RefreshTokenTTL: getEnvAsDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
			CookieSecure:    getEnvAsBool("COOKIE_SECURE", true),
			CookieDomain:    getEnv("COOKIE_DOMAIN", ""),
		},
		Email: EmailConfig{
			Enabled:      getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("EMAIL_FROM_ADDRESS", ""),
			ResetURLBase: getEnv("PASSWORD_RESET_URL_BASE", "http://localhost:5173"),
		},
		Timing: TimingConfig{
			BaseDelayMs:   getEnvAsInt("AUTH_TIMING_BASE_MS", 250),
			RandomDelayMs: getEnvAsInt("AUTH_TIMING_RANDOM_MS", 100),
		},
		Cleanup: CleanupConfig{
			Schedule:              getEnv("CLEANUP_SCHEDULE", "@every 1h"),
			RefreshTokenRetention: getEnvAsDuration("REFRESH_TOKEN_RETENTION", 30*24*time.Hour),
			LoginAttemptRetention: getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 30*24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.Database.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required"))
	}
	if c.JWT.PrivateKey == "" && c.JWT.PrivateKeyPath == "" {
		errs = append(errs, errors.New("JWT_PRIVATE_KEY or JWT_PRIVATE_KEY_PATH is required"))
	}
	if c.JWT.PublicKey == "" && c.JWT.PublicKeyPath == "" {
		errs = append(errs, errors.New("JWT_PUBLIC_KEY or JWT_PUBLIC_KEY_PATH is required"))
	}
	if c.JWT.AccessTokenTTL <= 0 || c.Session.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.JWT.ClockSkew < 0 || c.JWT.ClockSkew > 5*time.Minute {
		errs = append(errs, fmt.Errorf("JWT_CLOCK_SKEW must be between 0 and 5m, got %s", c.JWT.ClockSkew))
	}
	if c.Breach.MaxRetries < 0 || c.Breach.MaxRetries > maxBreachRetries {
		errs = append(errs, fmt.Errorf("HIBP_MAX_RETRIES must be between 0 and %d", maxBreachRetries))
	}
	if c.Breach.Timeout <= 0 {
		errs = append(errs, errors.New("HIBP_TIMEOUT must be positive"))
	}
	if c.Server.AuthRequestsPerMinute < 1 || c.Server.UserRequestsPerMinute < 1 {
		errs = append(errs, errors.New("rate limits must be at least 1 request per minute"))
	}
	if c.Lockout.MaxAttempts < 1 || c.Lockout.Window <= 0 || c.Lockout.Duration <= 0 {
		errs = append(errs, errors.New("lockout settings must be positive"))
	}
	if c.Email.Enabled && c.Email.FromAddress == "" {
		errs = append(errs, errors.New("EMAIL_FROM_ADDRESS is required when EMAIL_ENABLED is set"))
	}

	if c.Server.Env == "production" {
		if os.Getenv("PASSWORD_PEPPER") == "" {
			errs = append(errs, errors.New("PASSWORD_PEPPER is required in production"))
		}
		if !c.Session.CookieSecure {
			errs = append(errs, errors.New("COOKIE_SECURE cannot be disabled in production"))
		}
	}

	return errors.Join(errs...)
}

func loadPeppers() (*pkgauth.PepperRegistry, error) {
	previous, err := pkgauth.ParsePepperVersions(os.Getenv("PASSWORD_PEPPER_PREVIOUS"))
	if err != nil {
		return nil, fmt.Errorf("PASSWORD_PEPPER_PREVIOUS: %w", err)
	}

	version := 0
	if raw := os.Getenv("PASSWORD_PEPPER_VERSION"); raw != "" {
		version, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("PASSWORD_PEPPER_VERSION must be an integer")
		}
	} else if os.Getenv("PASSWORD_PEPPER") != "" {
		version = 1
	}

	registry, err := pkgauth.NewPepperRegistry(version, os.Getenv("PASSWORD_PEPPER"), previous)
	if err != nil {
		return nil, fmt.Errorf("password pepper: %w", err)
	}
	return registry, nil
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// splitStrict splits a comma list and rejects empty entries.
func splitStrict(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for i, item := range parts {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, fmt.Errorf("entry %d is empty", i+1)
		}
		out = append(out, item)
	}
	return out, nil
}
