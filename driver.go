package mongobase

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/event"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Client is the part of the driver client a Context depends on.
// It must be safe for concurrent use.
type Client interface {
	StartSession(ctx context.Context) (Session, error)
	ListCollectionNames(ctx context.Context, database string) ([]string, error)
	Collection(database, name string) DriverCollection
	Disconnect(ctx context.Context) error
}

// Session is a server session that can scope a transaction.
type Session interface {
	StartTransaction() error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)

	// Bind returns a context that makes driver calls run inside the session.
	Bind(ctx context.Context) context.Context
}

// DriverCollection mirrors the subset of *mongo.Collection used by Collection[D].
type DriverCollection interface {
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
	Aggregate(ctx context.Context, pipeline any, opts ...options.Lister[options.AggregateOptions]) (*mongo.Cursor, error)
	CountDocuments(ctx context.Context, filter any, opts ...options.Lister[options.CountOptions]) (int64, error)
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
	UpdateMany(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateManyOptions]) (*mongo.UpdateResult, error)
	DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongo.DeleteResult, error)
	CreateIndexes(ctx context.Context, models []mongo.IndexModel) ([]string, error)
}

// ClientSettings are the resolved options a shared client was built from.
type ClientSettings struct {
	ConnectionString string
	Options          *options.ClientOptions
}

// Dialer builds a Client from settings.
type Dialer func(ctx context.Context, settings *ClientSettings) (Client, error)

// DialMongo connects with the official driver. The driver connects lazily, so
// an unreachable server surfaces on the first operation rather than here.
func DialMongo(_ context.Context, settings *ClientSettings) (Client, error) {
	client, err := mongo.Connect(settings.Options)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &mongoClient{client: client}, nil
}

// newClientSettings applies the user hook, pins the server API version and
// installs the command monitor in front of any monitor the hook configured.
func newClientSettings(cfg Config, monitor *event.CommandMonitor) *ClientSettings {
	opts := options.Client().ApplyURI(cfg.ConnectionString)
	if cfg.ConfigureClient != nil {
		cfg.ConfigureClient(opts)
	}
	opts.SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))
	opts.SetMonitor(chainMonitors(opts.Monitor, monitor))

	return &ClientSettings{
		ConnectionString: cfg.ConnectionString,
		Options:          opts,
	}
}

func chainMonitors(prev, next *event.CommandMonitor) *event.CommandMonitor {
	if prev == nil {
		return next
	}
	if next == nil {
		return prev
	}
	return &event.CommandMonitor{
		Started: func(ctx context.Context, e *event.CommandStartedEvent) {
			if prev.Started != nil {
				prev.Started(ctx, e)
			}
			if next.Started != nil {
				next.Started(ctx, e)
			}
		},
		Succeeded: func(ctx context.Context, e *event.CommandSucceededEvent) {
			if prev.Succeeded != nil {
				prev.Succeeded(ctx, e)
			}
			if next.Succeeded != nil {
				next.Succeeded(ctx, e)
			}
		},
		Failed: func(ctx context.Context, e *event.CommandFailedEvent) {
			if prev.Failed != nil {
				prev.Failed(ctx, e)
			}
			if next.Failed != nil {
				next.Failed(ctx, e)
			}
		},
	}
}

// newCommandMonitor reports driver commands to the logger, metrics and profiler of cfg
func newCommandMonitor(cfg Config) *event.CommandMonitor {
	logger, metrics, profiler := cfg.Logger, cfg.Metrics, cfg.Profiler
	return &event.CommandMonitor{
		Started: func(_ context.Context, e *event.CommandStartedEvent) {
			logger.Debug("command started",
				"command", e.CommandName,
				"database", e.DatabaseName,
				"request_id", e.RequestID)
			if profiler != nil {
				profiler.started(e.RequestID, e.CommandName, e.DatabaseName, e.Command)
			}
		},
		Succeeded: func(_ context.Context, e *event.CommandSucceededEvent) {
			metrics.Increment(MetricCommandSucceeded, "command", e.CommandName)
			metrics.Timing(MetricCommandDuration, e.Duration, "command", e.CommandName)
			if profiler != nil {
				profiler.finished(e.RequestID, e.CommandName, e.Duration, nil)
			}
		},
		Failed: func(_ context.Context, e *event.CommandFailedEvent) {
			metrics.Increment(MetricCommandFailed, "command", e.CommandName)
			metrics.Timing(MetricCommandDuration, e.Duration, "command", e.CommandName)
			logger.Warn("command failed",
				"command", e.CommandName,
				"database", e.DatabaseName,
				"duration", e.Duration,
				"error", e.Failure)
			if profiler != nil {
				profiler.finished(e.RequestID, e.CommandName, e.Duration, e.Failure)
			}
		},
	}
}

type mongoClient struct {
	client *mongo.Client
}

func (c *mongoClient) StartSession(_ context.Context) (Session, error) {
	s, err := c.client.StartSession()
	if err != nil {
		return nil, err
	}
	return &mongoSession{session: s}, nil
}

func (c *mongoClient) ListCollectionNames(ctx context.Context, database string) ([]string, error) {
	return c.client.Database(database).ListCollectionNames(ctx, bson.D{})
}

func (c *mongoClient) Collection(database, name string) DriverCollection {
	return &mongoCollection{Collection: c.client.Database(database).Collection(name)}
}

func (c *mongoClient) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

type mongoSession struct {
	session *mongo.Session
}

func (s *mongoSession) StartTransaction() error {
	return s.session.StartTransaction()
}

func (s *mongoSession) CommitTransaction(ctx context.Context) error {
	return s.session.CommitTransaction(ctx)
}

func (s *mongoSession) AbortTransaction(ctx context.Context) error {
	return s.session.AbortTransaction(ctx)
}

func (s *mongoSession) EndSession(ctx context.Context) {
	s.session.EndSession(ctx)
}

func (s *mongoSession) Bind(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, s.session)
}

type mongoCollection struct {
	*mongo.Collection
}

func (c *mongoCollection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) ([]string, error) {
	if len(models) == 0 {
		return nil, nil
	}
	return c.Collection.Indexes().CreateMany(ctx, models)
}

// disconnectTimeout bounds CloseSharedClients when the caller passes no deadline
const disconnectTimeout = 10 * time.Second
