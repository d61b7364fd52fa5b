// Package mongobase provides typed query specifications and a shared,
// session-aware context for MongoDB, built on the official Go driver.
//
// # Overview
//
// mongobase sits between application code and go.mongodb.org/mongo-driver/v2.
// It provides:
//
//   - QuerySpec: one query in one of several forms (predicate, template,
//     Extended JSON text, $text search, stage pipeline, built filter) with a
//     deterministic conversion to a filter document or a pipeline
//   - Predicate templates: two-parameter predicates ("documents related to
//     this one") completed with a constant at call time, see package expr
//   - UpdateSpec and IndexBuilder: fluent builders for update documents and
//     index batches
//   - Context: one database handle whose driver client is shared per
//     connection string and whose collection names are discovered once per
//     process
//   - Session and transaction lifecycle with commit/abort that leaves the
//     Context ready for the next transaction
//   - Observability through zap logging, Prometheus metrics and a driver
//     command profiler
//
// # Quick Start
//
//	cfg := mongobase.DefaultConfig("mongodb://localhost:27017/shop")
//	db, err := mongobase.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close(ctx)
//
//	orders := mongobase.CollectionOf[Order](db, "orders")
//	open, err := orders.Find(ctx, mongobase.Raw[Order](`{"status": "open"}`).Limit(50))
//
// # Query Specifications
//
// A QuerySpec holds exactly one source, chosen by its constructor:
//
//	mongobase.Raw[Order](`{"total": {"$gt": 100}}`)
//	mongobase.Where(expr.NewPredicate[Order]("o", expr.Gt(expr.F("o", "total"), 100)))
//	mongobase.TextSearch[Order]("espresso", mongobase.TextSearchOptions{Language: "en"})
//	mongobase.FromPipeline[Order](bson.D{{Key: "$match", Value: bson.D{{Key: "status", Value: "open"}}}})
//	mongobase.FromFilter[Order](bson.M{"status": "open"})
//	mongobase.All[Order]()
//
// Filter and Pipeline apply fixed precedence rules. A built filter has no
// pipeline form and yields nil from Pipeline, while a stage pipeline yields
// the empty filter from Filter. Two specifications are equal when they render
// to the same canonical Extended JSON and carry equal updates.
//
// # Templates
//
// A template is written once over two documents and bound per call:
//
//	sameCustomer, err := mongobase.TemplateOf(expr.NewPredicate2[Order]("self", "other", expr.And(
//	    expr.Eq(expr.F("self", "customer"), expr.F("other", "customer")),
//	    expr.Ne(expr.F("self", "_id"), expr.F("other", "_id")),
//	)))
//	related, err := sameCustomer.Complete(current)
//	others, err := orders.Find(ctx, related)
//
// Rendering a template that was never completed fails with
// ErrIncompleteExpression.
//
// # Contexts and Sessions
//
// Contexts created with the same connection string share one driver client.
// Contexts with the same identity, connection and database share one list of
// collection names, discovered by whichever is constructed first. Closing a
// Context ends only its own session.
//
//	err := db.WithTransaction(ctx, func(ctx context.Context) error {
//	    _, err := orders.Insert(ctx, order)
//	    return err
//	})
//
// CommitTransaction and AbortTransaction fail with ErrTransactionNotStarted
// when no transaction is active. After either, the Context holds a fresh
// session that is not in a transaction.
//
// # Observability
//
//	logger, _ := mongobase.NewProductionZapLogger()
//	cfg.Logger = logger
//	cfg.Metrics = mongobase.NewPrometheusMetrics(registry)
//	cfg.Profiler = mongobase.NewCommandProfiler()
//
// Logger, metrics and profiler are bound to the shared client when it is
// created, so the first Context for a connection string decides where driver
// commands are reported.
//
// # Testing
//
// Config.Dialer replaces the driver. Tests supply a fake Client and call
// ResetSharedState between cases.
package mongobase
