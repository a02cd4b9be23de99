package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config carries every tunable of the verification engine. All values
// come from the environment (optionally via a .env file) with the
// defaults below.
type Config struct {
	APIAddr   string
	DBURL     string
	RedisAddr string

	// HeloDomain is the hostname presented in HELO.
	HeloDomain string
	// ProbeEmail is the envelope sender used as MAIL FROM. It never
	// receives actual mail.
	ProbeEmail string

	// MaxConcurrencyPerMX bounds in-flight verifications per domain.
	MaxConcurrencyPerMX int

	SMTPPort         int
	SMTPTimeout      time.Duration // per MX attempt
	DNSTimeout       time.Duration // per DoH request
	BlocklistTimeout time.Duration // per KV lookup
	VerifyTimeout    time.Duration // inside the coordinator
	PipelineTimeout  time.Duration // around the whole pipeline

	DNSCacheTTL     time.Duration
	CacheMaxEntries int

	// GrayRetryAfter is advisory: surfaced as a Retry-After on
	// admission rejections and consumed by the upstream retry policy.
	GrayRetryAfter time.Duration

	DoHEndpoint       string
	DisposableListURL string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("could not load .env file")
	}

	return &Config{
		APIAddr:   getEnv("API_ADDR", ":8080"),
		DBURL:     getEnv("DB_URL", ""),
		RedisAddr: getEnv("REDIS_ADDR", "127.0.0.1:6379"),

		HeloDomain: getEnv("SMTP_HELO_DOMAIN", "mta1.mailprobe.io"),
		ProbeEmail: getEnv("PROBE_EMAIL", "verify@mailprobe.io"),

		MaxConcurrencyPerMX: getEnvInt("MAX_CONCURRENCY_PER_MX", 5),

		SMTPPort:         getEnvInt("SMTP_PORT", 25),
		SMTPTimeout:      getEnvMillis("SMTP_TIMEOUT_MS", 5000),
		DNSTimeout:       getEnvMillis("DNS_TIMEOUT_MS", 5000),
		BlocklistTimeout: getEnvMillis("BLOCKLIST_TIMEOUT_MS", 2000),
		VerifyTimeout:    getEnvMillis("VERIFY_TIMEOUT_MS", 10000),
		PipelineTimeout:  getEnvMillis("PIPELINE_TIMEOUT_MS", 25000),

		DNSCacheTTL:     getEnvMillis("DNS_CACHE_TTL_MS", 3600000),
		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 1024),

		GrayRetryAfter: time.Duration(getEnvInt("GRAY_RETRY_AFTER_SEC", 3600)) * time.Second,

		DoHEndpoint:       getEnv("DOH_ENDPOINT", "https://cloudflare-dns.com/dns-query"),
		DisposableListURL: getEnv("DISPOSABLE_LIST_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logrus.WithField("key", key).Warnf("invalid value %q, using default %d", v, fallback)
		return fallback
	}
	return n
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}
