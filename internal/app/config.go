package app

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/payment"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL; empty runs on in-memory stores" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (STORE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	CatalogFile  string `usage:"Catalog JSON (or .json.gz) loaded in memory mode; empty uses the bundled demo catalog" flag:"catalog-file"`
	Memory       MemoryConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Payment      PaymentConfig
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// MemoryConfig seeds API keys when running without a database.
type MemoryConfig struct {
	APIKeys      []string `usage:"Shopper keys as key:userID" flag:"memory-api-keys"`
	OperatorKeys []string `usage:"Operator keys as key:userID" flag:"memory-operator-keys"`
}

// RedisConfig enables the cart cache.
type RedisConfig struct {
	URL string        `usage:"Redis URL for the cart cache; empty disables it" flag:"redis-url"`
	TTL time.Duration `default:"10m" usage:"Cart cache entry lifetime" flag:"redis-ttl"`
}

// KafkaConfig enables the outbox relay.
type KafkaConfig struct {
	Brokers   []string      `usage:"Kafka brokers for order events; empty disables the relay" flag:"kafka-brokers"`
	Interval  time.Duration `default:"1s" usage:"Outbox poll interval" flag:"kafka-interval"`
	BatchSize int           `default:"100" usage:"Outbox messages per publish" flag:"kafka-batch-size"`
}

// PaymentConfig configures the stub gateway and the confirmer around it.
type PaymentConfig struct {
	Mode            string        `default:"accept" usage:"Stub gateway mode: accept, reject or limit" flag:"payment-mode"`
	Limit           string        `default:"100000" usage:"Largest accepted amount in limit mode" flag:"payment-limit"`
	Delay           time.Duration `default:"0s" usage:"Simulated gateway latency" flag:"payment-delay"`
	Timeout         time.Duration `default:"5s" usage:"Gateway call timeout" flag:"payment-timeout"`
	BreakerFailures uint32        `default:"5" usage:"Consecutive failures that open the breaker" flag:"payment-breaker-failures"`
	BreakerCooldown time.Duration `default:"30s" usage:"How long the breaker stays open" flag:"payment-breaker-cooldown"`
}

// CheckoutConfig tunes the checkout pipeline.
type CheckoutConfig struct {
	CommitMaxElapsed time.Duration `default:"10s" usage:"Retry budget for transient commit failures" flag:"checkout-commit-max-elapsed"`
	ReleaseTimeout   time.Duration `default:"5s" usage:"Timeout for releasing reservations" flag:"checkout-release-timeout"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML
// config files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that would only fail later at wiring time.
func (c *Config) Validate() error {
	if _, err := payment.ParseStubMode(c.Payment.Mode); err != nil {
		return errors.Wrap(err, "payment mode")
	}
	if _, err := c.Payment.limit(); err != nil {
		return err
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	if c.Kafka.BatchSize <= 0 {
		return errors.New("kafka batch size must be positive")
	}
	for _, k := range slices.Concat(c.Memory.APIKeys, c.Memory.OperatorKeys) {
		if _, _, err := parseMemoryKey(k); err != nil {
			return err
		}
	}
	return nil
}

func (p PaymentConfig) limit() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(p.Limit)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "payment limit %q", p.Limit)
	}
	return d, nil
}

// parseMemoryKey splits "key:userID".
func parseMemoryKey(s string) (key, userID string, err error) {
	key, userID, ok := strings.Cut(s, ":")
	if !ok || key == "" || userID == "" {
		return "", "", errors.Errorf("memory api key %q: want key:userID", s)
	}
	return key, userID, nil
}

// applyPlatformDefaults maps the standard variables set by hosting platforms
// (DATABASE_URL, REDIS_URL, PORT) onto the STORE_ configuration.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	if c.DatabaseURL == "" {
		c.DatabaseURL = getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = getenv("REDIS_URL")
	}
	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
