package mongobase

import (
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ConfigFromEnv returns a Config populated from environment variables.
//
// Environment variables read (with defaults):
//   - MONGOBASE_URI (default: "mongodb://localhost:27017/mongobase")
//   - MONGOBASE_TRANSACTIONAL (default: false)
//   - MONGOBASE_IDENTITY (default: "")
//
// Logger, Metrics and the other collaborators keep their defaults and can be
// set on the returned value before calling New.
//
// Example usage:
//
//	cfg := mongobase.ConfigFromEnv()
//	cfg.Logger = logger
//	ctx, err := mongobase.New(context.Background(), cfg)
func ConfigFromEnv() Config {
	uri := os.Getenv(EnvConnectionString)
	if uri == "" {
		uri = DefaultConnectionString
	}

	cfg := DefaultConfig(uri)
	cfg.Transactional = getEnvAsBool(EnvTransactional, false)
	cfg.Identity = os.Getenv(EnvIdentity)
	return cfg
}

// RedisOptions returns redis.Options for a RedisDiscoveryStore, populated from
// standard environment variables.
//
// Environment variables read (with defaults):
//   - REDIS_ADDR (default: "localhost:6379")
//   - REDIS_PASSWORD (default: "")
//   - REDIS_DB (default: 0)
//
// For Cluster, Sentinel or TLS setups construct redis.Options directly.
func RedisOptions() *redis.Options {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// getEnvAsInt reads an integer environment variable with a default fallback.
func getEnvAsInt(key string, defaultVal int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return value
}

func getEnvAsBool(key string, defaultVal bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return value
}
