package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Config is the full runtime configuration, read from the environment.
type Config struct {
	HTTPAddr     string
	DatabaseURL  string
	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string
	RedisPass    string

	// UseLiveCounterSync enables the counter bridge and coordinator.
	UseLiveCounterSync bool
	// AllowNegativeBalance lets SetBalance store negative values
	// instead of clamping them to zero.
	AllowNegativeBalance bool
	// DefaultInitialBalance is the balance an account is materialized
	// with on first access.
	DefaultInitialBalance decimal.Decimal
	// CounterOwnerType is the owner type whose accounts are mirrored
	// into the live counter.
	CounterOwnerType string
}

func Load() Config {
	return Config{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		KafkaBrokers:          getEnvSlice("KAFKA_BROKERS", nil),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "balance_updated"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPass:             os.Getenv("REDIS_PASS"),
		UseLiveCounterSync:    getEnvBool("USE_LIVE_COUNTER_SYNC", true),
		AllowNegativeBalance:  getEnvBool("ALLOW_NEGATIVE_BALANCE", false),
		DefaultInitialBalance: getEnvDecimal("DEFAULT_INITIAL_BALANCE", decimal.Zero),
		CounterOwnerType:      getEnv("COUNTER_OWNER_TYPE", "player"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		return strings.Split(v, ",")
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if parsed, err := decimal.NewFromString(v); err == nil {
			return parsed
		}
	}
	return fallback
}
