package mongobase

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Configuration constants for mongobase contexts
const (
	// Environment variables read by ConfigFromEnv
	EnvConnectionString = "MONGOBASE_URI"
	EnvTransactional    = "MONGOBASE_TRANSACTIONAL"
	EnvIdentity         = "MONGOBASE_IDENTITY"

	// DefaultConnectionString is used by ConfigFromEnv when MONGOBASE_URI is unset
	DefaultConnectionString = "mongodb://localhost:27017/mongobase"

	// Commands slower than this are reported by the command profiler
	DefaultSlowCommandThreshold = 100 * time.Millisecond

	// Discovery results held in a DiscoveryStore expire after this long
	DefaultDiscoveryTTL = 5 * time.Minute
)

// Config describes how a Context connects and what it reports to.
type Config struct {
	// ConnectionString is a mongodb:// or mongodb+srv:// URI whose path names the database.
	ConnectionString string

	// Transactional contexts start a session and transaction at construction.
	Transactional bool

	// Identity distinguishes context kinds in the collection-name cache.
	// Open fills it from the type parameter.
	Identity string

	Logger  Logger
	Metrics Metrics

	// Dialer builds the driver client. Defaults to DialMongo.
	Dialer Dialer

	// ConfigureClient may adjust driver options before the client is built.
	// It runs once per connection string, when the shared client is created.
	ConfigureClient func(*options.ClientOptions)

	// DiscoveryStore, when set, is consulted before listing collections.
	DiscoveryStore DiscoveryStore

	// Profiler receives every driver command of clients created with this config.
	Profiler *CommandProfiler
}

// DefaultConfig returns a non-transactional config for connectionString
func DefaultConfig(connectionString string) Config {
	return Config{
		ConnectionString: connectionString,
		Logger:           &NoOpLogger{},
		Metrics:          &NoOpMetrics{},
		Dialer:           DialMongo,
	}
}

// Validate checks if the Config is usable
func (c Config) Validate() error {
	if c.ConnectionString == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "ConnectionString",
			"reason": "must not be empty",
		})
	}
	if _, err := ParseDatabaseName(c.ConnectionString); err != nil {
		return WithContext(err, map[string]interface{}{
			"field":  "ConnectionString",
			"value":  redactConnectionString(c.ConnectionString),
			"reason": "must name a database",
		})
	}
	return nil
}

// withDefaults fills unset collaborators
func (c Config) withDefaults() Config {
	c.Logger = loggerOrNoOp(c.Logger)
	if c.Metrics == nil {
		c.Metrics = &NoOpMetrics{}
	}
	if c.Dialer == nil {
		c.Dialer = DialMongo
	}
	return c
}
