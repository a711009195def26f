package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. Values come from the
// environment so main stays lean and deployments stay twelve-factor.
type Server struct {
	Addr          string
	DatabaseURL   string
	Redis         RedisConfig
	JWTSigningKey string

	// NullifierSecret keys the anti-double-vote token derivation. The
	// process refuses to start without it outside dev mode.
	NullifierSecret string
	// NullifierScheme selects the registered keyed-hash strategy.
	NullifierScheme string

	// ReceiptSigningSeed is the base64-encoded Ed25519 seed for receipt
	// signing. Empty means the signer refuses to construct.
	ReceiptSigningSeed string

	NonceTTL             time.Duration
	SettingsTTL          time.Duration
	AnchorEndpoint       string
	AnchorInterval       time.Duration
	KafkaBrokers         []string
	AuditTopic           string
	ShieldBlockThreshold int
}

// RedisConfig captures Redis connection tuning.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:                 envOr("VEILVOTE_ADDR", ":8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		JWTSigningKey:        envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		NullifierSecret:      os.Getenv("NULLIFIER_SECRET"),
		NullifierScheme:      envOr("NULLIFIER_SCHEME", "hmac-sha256"),
		ReceiptSigningSeed:   os.Getenv("RECEIPT_SIGNING_SEED"),
		NonceTTL:             envDurationOr("NONCE_TTL", 2*time.Minute),
		SettingsTTL:          envDurationOr("SETTINGS_TTL", 30*time.Second),
		AnchorEndpoint:       os.Getenv("ANCHOR_ENDPOINT"),
		AnchorInterval:       envDurationOr("ANCHOR_INTERVAL", 5*time.Minute),
		KafkaBrokers:         splitList(os.Getenv("KAFKA_BROKERS")),
		AuditTopic:           envOr("AUDIT_TOPIC", "veilvote.audit"),
		ShieldBlockThreshold: envIntOr("SHIELD_BLOCK_THRESHOLD", 100),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envIntOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
