package mongobase

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Collection is a typed accessor for one collection of a Context. Every call
// runs inside the Context's current session, so operations issued while a
// transaction is active belong to it.
type Collection[D any] struct {
	owner *Context
	name  string
	coll  DriverCollection
}

// CollectionOf returns the accessor for collection name of c.
//
// Example:
//
//	users := mongobase.CollectionOf[User](db, "users")
//	adults, err := users.Find(ctx, mongobase.Where(expr.NewPredicate[User]("u",
//	    expr.Gte(expr.F("u", "age"), 18))))
func CollectionOf[D any](c *Context, name string) *Collection[D] {
	return &Collection[D]{
		owner: c,
		name:  name,
		coll:  c.Client().Collection(c.Database(), name),
	}
}

// Name returns the collection name
func (c *Collection[D]) Name() string { return c.name }

// Exists reports whether the collection was present when its Context's
// collection names were first discovered.
func (c *Collection[D]) Exists() bool { return c.owner.HasCollection(c.name) }

func (c *Collection[D]) filter(q *QuerySpec[D]) (bson.D, error) {
	if q == nil {
		return bson.D{}, nil
	}
	return q.Filter()
}

// Find returns every document matching q, honouring its find modifiers.
// A nil q matches everything.
func (c *Collection[D]) Find(ctx context.Context, q *QuerySpec[D]) ([]D, error) {
	if q == nil {
		q = All[D]()
	}
	filter, err := q.Filter()
	if err != nil {
		return nil, err
	}

	sctx := c.owner.SessionContext(ctx)
	cursor, err := c.coll.Find(sctx, filter, q.findOptions())
	if err != nil {
		return nil, c.wrap("find", err)
	}
	defer cursor.Close(sctx)

	results := make([]D, 0)
	if err := cursor.All(sctx, &results); err != nil {
		return nil, c.wrap("decode", err)
	}
	return results, nil
}

// FindOne returns the first document matching q. found is false when no
// document matches.
func (c *Collection[D]) FindOne(ctx context.Context, q *QuerySpec[D]) (doc D, found bool, err error) {
	if q == nil {
		q = All[D]()
	}
	filter, err := q.Filter()
	if err != nil {
		return doc, false, err
	}

	res := c.coll.FindOne(c.owner.SessionContext(ctx), filter, q.findOneOptions())
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return doc, false, nil
		}
		return doc, false, c.wrap("find one", err)
	}
	return doc, true, nil
}

// Aggregate runs the stages of q followed by extra. A built-filter query has
// no stage form of its own and is run as a single $match.
func (c *Collection[D]) Aggregate(ctx context.Context, q *QuerySpec[D], extra ...bson.D) ([]bson.D, error) {
	var pipeline []bson.D
	if q != nil {
		stages, err := q.Pipeline()
		if err != nil {
			return nil, err
		}
		if stages == nil && q.Kind() == KindFilter {
			filter, err := q.Filter()
			if err != nil {
				return nil, err
			}
			stages = []bson.D{matchStage(filter)}
		}
		pipeline = stages
	}
	pipeline = append(pipeline, extra...)
	if pipeline == nil {
		pipeline = []bson.D{}
	}

	sctx := c.owner.SessionContext(ctx)
	cursor, err := c.coll.Aggregate(sctx, pipeline)
	if err != nil {
		return nil, c.wrap("aggregate", err)
	}
	defer cursor.Close(sctx)

	results := make([]bson.D, 0)
	if err := cursor.All(sctx, &results); err != nil {
		return nil, c.wrap("decode", err)
	}
	return results, nil
}

// Count returns the number of documents matching q
func (c *Collection[D]) Count(ctx context.Context, q *QuerySpec[D]) (int64, error) {
	filter, err := c.filter(q)
	if err != nil {
		return 0, err
	}
	n, err := c.coll.CountDocuments(c.owner.SessionContext(ctx), filter)
	if err != nil {
		return 0, c.wrap("count", err)
	}
	return n, nil
}

// Insert stores doc and returns its _id
func (c *Collection[D]) Insert(ctx context.Context, doc D) (any, error) {
	res, err := c.coll.InsertOne(c.owner.SessionContext(ctx), doc)
	if err != nil {
		return nil, c.wrap("insert", err)
	}
	return res.InsertedID, nil
}

// UpdateMatching applies q.Update() to every document matching q and
// returns the number of modified documents. An empty update is rejected.
func (c *Collection[D]) UpdateMatching(ctx context.Context, q *QuerySpec[D]) (int64, error) {
	if q == nil || !q.HasUpdate() || q.Update().IsEmpty() {
		return 0, fmt.Errorf("%w: update is empty", ErrInvalidQuery)
	}
	filter, err := q.Filter()
	if err != nil {
		return 0, err
	}
	update, err := q.Update().Document()
	if err != nil {
		return 0, err
	}

	res, err := c.coll.UpdateMany(c.owner.SessionContext(ctx), filter, update)
	if err != nil {
		return 0, c.wrap("update", err)
	}
	return res.ModifiedCount, nil
}

// DeleteMatching removes every document matching q and returns how many were removed.
// A nil q is rejected rather than treated as match-all.
func (c *Collection[D]) DeleteMatching(ctx context.Context, q *QuerySpec[D]) (int64, error) {
	if q == nil {
		return 0, fmt.Errorf("%w: delete without query", ErrInvalidQuery)
	}
	filter, err := q.Filter()
	if err != nil {
		return 0, err
	}
	res, err := c.coll.DeleteMany(c.owner.SessionContext(ctx), filter)
	if err != nil {
		return 0, c.wrap("delete", err)
	}
	return res.DeletedCount, nil
}

// EnsureIndexes creates the indexes accumulated by b in order and returns their names
func (c *Collection[D]) EnsureIndexes(ctx context.Context, b *IndexBuilder[D]) ([]string, error) {
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	names, err := c.coll.CreateIndexes(c.owner.SessionContext(ctx), b.Models())
	if err != nil {
		return nil, c.wrap("create indexes", err)
	}
	c.owner.logger.Debug("indexes ensured",
		"context_id", c.owner.id,
		"collection", c.name,
		"indexes", names)
	return names, nil
}

func (c *Collection[D]) wrap(op string, err error) error {
	return WithContext(fmt.Errorf("%s %s: %w", op, c.name, err), map[string]interface{}{
		"database":   c.owner.database,
		"collection": c.name,
	})
}
