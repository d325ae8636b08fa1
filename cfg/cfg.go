package cfg

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port                   string
	Environment            string
	LogLevel               string
	StoreBackend           string
	DatabasePath           string
	DBMaxOpenConns         int
	DBMaxIdleConns         int
	DBQueryTimeout         time.Duration
	MongoURI               Secret
	MongoDatabase          string
	MongoTimeout           time.Duration
	RedisURL               string
	RedisTLS               bool
	RedisUsername          string
	RedisPassword          Secret
	RedisTimeout           time.Duration
	RateLimit              RateLimitCfg
	TrustedProxies         []string
	AllowedOrigins         []string
	ContextTimeout         time.Duration
	ReaperInterval         time.Duration
	ReaperBatchSize        int
	RecentDefaultLimit     int
	ListEndpointEnabled    bool
	MetricsUser            string
	MetricsPass            Secret
	IPHashPepper           Secret
	IPHashPepperSecrets    bool
	IPHashRotationInterval time.Duration
}

// RateLimitCfg holds the two fixed windows: one for paste creation and one
// for every API request.
type RateLimitCfg struct {
	CreateMax    int
	CreateWindow time.Duration
	APIMax       int
	APIWindow    time.Duration
	MaxKeys      int
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "3001")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite))
	c.DatabasePath = getEnv("DATABASE_PATH", "ctrlv.db")
	c.MongoURI = NewSecret(getEnv("MONGODB_URI", "mongodb://localhost/ctrlv"))
	c.MongoDatabase = getEnv("MONGODB_DATABASE", "ctrlv")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{"*"})
	c.ListEndpointEnabled = getEnv("LIST_ENDPOINT_ENABLED", "true") == "true"
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.IPHashPepper = NewSecret(getEnv("IP_HASH_PEPPER", ""))
	c.IPHashPepperSecrets = getEnv("IP_HASH_PEPPER_FROM_SECRETS", "false") == "true"

	var err error
	if c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 25); err != nil {
		return nil, err
	}
	if c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10); err != nil {
		return nil, err
	}
	if c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.MongoTimeout, err = getDuration("MONGODB_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if c.RateLimit.CreateMax, err = getInt("RATE_LIMIT_CREATE_MAX", 30); err != nil {
		return nil, err
	}
	if c.RateLimit.CreateWindow, err = getDuration("RATE_LIMIT_CREATE_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if c.RateLimit.APIMax, err = getInt("RATE_LIMIT_API_MAX", 100); err != nil {
		return nil, err
	}
	if c.RateLimit.APIWindow, err = getDuration("RATE_LIMIT_API_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}
	if c.RateLimit.MaxKeys, err = getInt("RATE_LIMIT_MAX_KEYS", 10000); err != nil {
		return nil, err
	}
	if c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.ReaperInterval, err = getDuration("REAPER_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if c.ReaperBatchSize, err = getInt("REAPER_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if c.RecentDefaultLimit, err = getInt("RECENT_DEFAULT_LIMIT", 10); err != nil {
		return nil, err
	}
	if c.IPHashRotationInterval, err = getDuration("IP_HASH_ROTATION_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	switch c.StoreBackend {
	case BackendSQLite:
		if c.DatabasePath == "" {
			return errors.New("DATABASE_PATH is required for the sqlite backend")
		}
	case BackendMongo:
		uri := c.MongoURI.Value()
		if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
			return errors.New("MONGODB_URI must start with mongodb:// or mongodb+srv://")
		}
		if c.MongoDatabase == "" {
			return errors.New("MONGODB_DATABASE is required for the mongo backend")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendSQLite, BackendMongo, c.StoreBackend)
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.RateLimit.CreateMax <= 0 || c.RateLimit.APIMax <= 0 {
		return errors.New("RATE_LIMIT_CREATE_MAX and RATE_LIMIT_API_MAX must be positive")
	}
	if c.RateLimit.CreateWindow <= 0 || c.RateLimit.APIWindow <= 0 {
		return errors.New("rate limit windows must be positive")
	}
	if c.RateLimit.MaxKeys <= 0 {
		return errors.New("RATE_LIMIT_MAX_KEYS must be positive")
	}
	if c.ReaperInterval < time.Minute {
		return errors.New("REAPER_INTERVAL must be at least 1 minute")
	}
	if c.ReaperBatchSize <= 0 {
		return errors.New("REAPER_BATCH_SIZE must be positive")
	}
	if c.RecentDefaultLimit <= 0 {
		return errors.New("RECENT_DEFAULT_LIMIT must be positive")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else if net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
		}
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	if !c.IPHashPepperSecrets && c.IPHashPepper.Value() != "" && len(c.IPHashPepper.Value()) < 32 {
		return errors.New("IP_HASH_PEPPER must be at least 32 bytes")
	}
	if c.IPHashRotationInterval < 15*time.Minute {
		return errors.New("IP_HASH_ROTATION_INTERVAL must be at least 15 minutes")
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.MongoURI.Wipe()
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.IPHashPepper.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	var result []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
