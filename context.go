package mongobase

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"
)

// Context is a handle on one database of a MongoDB deployment. Contexts
// created with the same connection string share one driver client and, for
// the same identity, one cached list of collection names. Each Context owns
// at most one session, whose transitions are serialised by the Context.
//
// Operations issued through the session are not ordered by the Context;
// callers that need ordering inside a transaction serialise their own calls.
type Context struct {
	id            string
	identity      string
	fingerprint   string
	database      string
	transactional bool

	shared          *sharedClient
	collectionNames []string

	logger  Logger
	metrics Metrics

	// sessionMu guards session, inTransaction, txStarted and closed.
	sessionMu     sync.Mutex
	session       Session
	inTransaction bool
	txStarted     time.Time
	closed        bool
}

// defaultIdentity is used by New when Config.Identity is empty
var defaultIdentity = typeName(reflect.TypeOf((*Context)(nil)).Elem())

// New creates a Context for cfg.
//
// Construction fingerprints the connection string, parses the database name,
// reuses or creates the shared client, starts a session and transaction when
// cfg.Transactional is set, and resolves the collection names for
// (identity, fingerprint, database), listing them only if no earlier Context
// with the same key has done so.
func New(ctx context.Context, cfg Config) (*Context, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Identity == "" {
		cfg.Identity = defaultIdentity
	}

	c := &Context{
		id:            newContextID(),
		identity:      cfg.Identity,
		fingerprint:   Fingerprint(cfg.ConnectionString),
		transactional: cfg.Transactional,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}

	database, err := ParseDatabaseName(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}
	c.database = database

	shared, err := acquireClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("acquire client: %w", err)
	}
	c.shared = shared

	if c.transactional {
		if err := c.StartTransaction(ctx); err != nil {
			c.Close(ctx)
			return nil, err
		}
	}

	key := DiscoveryKey{Identity: c.identity, Fingerprint: c.fingerprint, Database: c.database}
	names, err := resolveCollectionNames(ctx, key, shared.client, cfg)
	if err != nil {
		if c.transactional {
			c.Close(ctx)
		}
		return nil, err
	}
	c.collectionNames = names

	c.logger.Debug("context created",
		"context_id", c.id,
		"identity", c.identity,
		"database", c.database,
		"transactional", c.transactional,
		"collections", len(names))
	return c, nil
}

// Open creates a Context whose identity is the full name of T. Use a
// distinct T per logical data model so that each keeps its own cached
// collection names even when they share a connection string.
//
// Example:
//
//	type Catalog struct{}
//	ctx, err := mongobase.Open[Catalog](context.Background(), cfg)
func Open[T any](ctx context.Context, cfg Config) (*Context, error) {
	cfg.Identity = typeName(reflect.TypeOf((*T)(nil)).Elem())
	return New(ctx, cfg)
}

func typeName(t reflect.Type) string {
	prefix := ""
	for t.Kind() == reflect.Pointer {
		prefix += "*"
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return prefix + t.String()
	}
	return prefix + t.PkgPath() + "." + t.Name()
}

// StartSession creates the session of this Context if it has none and
// returns the current session.
func (c *Context) StartSession(ctx context.Context) (Session, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.startSessionLocked(ctx)
}

func (c *Context) startSessionLocked(ctx context.Context) (Session, error) {
	if c.closed {
		return nil, WithContext(ErrContextClosed, map[string]interface{}{"context_id": c.id})
	}
	if c.session != nil {
		return c.session, nil
	}

	session, err := c.shared.client.StartSession(ctx)
	if err != nil {
		c.metrics.Increment(MetricSessionErrors, "operation", "start")
		return nil, fmt.Errorf("start session: %w", err)
	}
	c.session = session
	c.inTransaction = false
	c.metrics.Increment(MetricSessionStarted)
	c.logger.Debug("session started", "context_id", c.id)
	return session, nil
}

// StartTransaction starts a transaction on the session of this Context,
// creating the session first if needed. It does nothing when a transaction
// is already active.
func (c *Context) StartTransaction(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	session, err := c.startSessionLocked(ctx)
	if err != nil {
		return err
	}
	if c.inTransaction {
		return nil
	}

	if err := session.StartTransaction(); err != nil {
		c.metrics.Increment(MetricTransactionErrors, "operation", "start")
		return fmt.Errorf("start transaction: %w", err)
	}
	c.inTransaction = true
	c.txStarted = time.Now()
	c.metrics.Increment(MetricTransactionStarted)
	c.logger.Debug("transaction started", "context_id", c.id)
	return nil
}

// CommitTransaction commits the active transaction, ends its session and
// opens a fresh session that is not in a transaction.
func (c *Context) CommitTransaction(ctx context.Context) error {
	return c.settleTransaction(ctx, "commit")
}

// AbortTransaction aborts the active transaction, ends its session and
// opens a fresh session that is not in a transaction.
func (c *Context) AbortTransaction(ctx context.Context) error {
	return c.settleTransaction(ctx, "abort")
}

func (c *Context) settleTransaction(ctx context.Context, outcome string) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.closed {
		return WithContext(ErrContextClosed, map[string]interface{}{"context_id": c.id})
	}
	if c.session == nil || !c.inTransaction {
		return WithContext(ErrTransactionNotStarted, map[string]interface{}{
			"context_id": c.id,
			"operation":  outcome,
		})
	}

	var err error
	if outcome == "commit" {
		err = c.session.CommitTransaction(ctx)
	} else {
		err = c.session.AbortTransaction(ctx)
	}
	if err != nil {
		c.metrics.Increment(MetricTransactionErrors, "operation", outcome)
		return fmt.Errorf("%s transaction: %w", outcome, err)
	}

	c.metrics.Timing(MetricTransactionDuration, time.Since(c.txStarted), "outcome", outcome)
	if outcome == "commit" {
		c.metrics.Increment(MetricTransactionCommitted)
	} else {
		c.metrics.Increment(MetricTransactionAborted)
	}
	c.logger.Debug("transaction settled",
		"context_id", c.id,
		"outcome", outcome,
		"duration", time.Since(c.txStarted))

	c.endSessionLocked(ctx)

	// The transaction is settled; a failed replacement is retried by the
	// next StartSession or StartTransaction.
	if _, err := c.startSessionLocked(ctx); err != nil {
		c.logger.Error("replacement session could not be started",
			"context_id", c.id,
			"error", err)
	}
	return nil
}

func (c *Context) endSessionLocked(ctx context.Context) {
	if c.session == nil {
		return
	}
	c.session.EndSession(ctx)
	c.session = nil
	c.inTransaction = false
	c.metrics.Increment(MetricSessionEnded)
}

// WithTransaction runs fn inside a transaction, committing if fn returns nil
// and aborting otherwise. The fn context carries the session.
//
// Example:
//
//	err := c.WithTransaction(ctx, func(ctx context.Context) error {
//	    _, err := orders.Insert(ctx, order)
//	    return err
//	})
func (c *Context) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.StartTransaction(ctx); err != nil {
		return err
	}

	if err := fn(c.SessionContext(ctx)); err != nil {
		if abortErr := c.AbortTransaction(ctx); abortErr != nil {
			c.logger.Error("abort after failed transaction body",
				"context_id", c.id,
				"error", abortErr)
		}
		return err
	}
	return c.CommitTransaction(ctx)
}

// Session returns the current session, or nil if none is open.
func (c *Context) Session() Session {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.session
}

// InTransaction reports whether a transaction is active.
func (c *Context) InTransaction() bool {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.inTransaction
}

// SessionContext binds the current session, if any, to ctx so driver calls
// made with the result run inside it.
func (c *Context) SessionContext(ctx context.Context) context.Context {
	if session := c.Session(); session != nil {
		return session.Bind(ctx)
	}
	return ctx
}

// Transactional reports whether the Context was created transactional.
func (c *Context) Transactional() bool { return c.transactional }

// Database returns the database name parsed from the connection string.
func (c *Context) Database() string { return c.database }

// Fingerprint returns the connection fingerprint.
func (c *Context) Fingerprint() string { return c.fingerprint }

// Identity returns the identity used to key the collection-name cache.
func (c *Context) Identity() string { return c.identity }

// ID returns the unique identifier of this Context.
func (c *Context) ID() string { return c.id }

// Client returns the shared driver client.
func (c *Context) Client() Client { return c.shared.client }

// CollectionNames returns the collection names discovered for this Context's key.
func (c *Context) CollectionNames() []string {
	return slices.Clone(c.collectionNames)
}

// HasCollection reports whether name was among the discovered collections.
func (c *Context) HasCollection(name string) bool {
	return slices.Contains(c.collectionNames, name)
}

// Close ends the session of this Context. The shared client and the cached
// collection names stay available to other Contexts. Close is idempotent.
func (c *Context) Close(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.closed {
		return nil
	}
	if c.inTransaction && c.session != nil {
		if err := c.session.AbortTransaction(ctx); err != nil {
			c.logger.Warn("abort on close failed", "context_id", c.id, "error", err)
		} else {
			c.metrics.Increment(MetricTransactionAborted)
		}
	}
	c.endSessionLocked(ctx)
	c.closed = true
	c.logger.Debug("context closed", "context_id", c.id)
	return nil
}
