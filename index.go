package mongobase

import (
	"math"
	"time"

	"github.com/adrianmcphee/mongobase/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// IndexKind is the kind of one index key
type IndexKind string

const (
	IndexAscending   IndexKind = "asc"
	IndexDescending  IndexKind = "desc"
	IndexGeo2D       IndexKind = "2d"
	IndexGeo2DSphere IndexKind = "2dsphere"
	IndexHashed      IndexKind = "hashed"
	IndexText        IndexKind = "text"
	IndexWildcard    IndexKind = "wildcard"
)

// IndexOption adjusts the options of one index definition
type IndexOption func(*options.IndexOptionsBuilder)

// IndexName sets the index name
func IndexName(name string) IndexOption {
	return func(o *options.IndexOptionsBuilder) { o.SetName(name) }
}

// Unique rejects documents that duplicate the indexed key
func Unique() IndexOption {
	return func(o *options.IndexOptionsBuilder) { o.SetUnique(true) }
}

// Sparse skips documents that lack the indexed field
func Sparse() IndexOption {
	return func(o *options.IndexOptionsBuilder) { o.SetSparse(true) }
}

// ExpireAfter makes a TTL index on a date field. d is truncated to whole
// seconds and clamped to the int32 range the server accepts.
func ExpireAfter(d time.Duration) IndexOption {
	secs := int64(d / time.Second)
	switch {
	case secs < 0:
		secs = 0
	case secs > math.MaxInt32:
		secs = math.MaxInt32
	}
	return func(o *options.IndexOptionsBuilder) { o.SetExpireAfterSeconds(int32(secs)) }
}

// PartialFilter only indexes documents matching filter
func PartialFilter(filter any) IndexOption {
	return func(o *options.IndexOptionsBuilder) { o.SetPartialFilterExpression(filter) }
}

// IndexKeys returns the key fragment of kind for path. A wildcard with an
// empty path covers every field.
func IndexKeys(kind IndexKind, path string) bson.D {
	switch kind {
	case IndexAscending:
		return bson.D{{Key: path, Value: 1}}
	case IndexDescending:
		return bson.D{{Key: path, Value: -1}}
	case IndexWildcard:
		if path == "" {
			return bson.D{{Key: "$**", Value: 1}}
		}
		return bson.D{{Key: path + ".$**", Value: 1}}
	}
	return bson.D{{Key: path, Value: string(kind)}}
}

// IndexDefinition is one index: its key pattern and options
type IndexDefinition struct {
	Keys    bson.D
	Options *options.IndexOptionsBuilder
}

// IndexBuilder accumulates index definitions for documents of type D in
// call order. Definitions cannot be removed; build a new builder instead.
//
// Example:
//
//	indexes := mongobase.NewIndexBuilder[User]().
//	    Ascending("email", mongobase.Unique()).
//	    Geo2DSphere("location").
//	    Combine([]bson.D{
//	        mongobase.IndexKeys(mongobase.IndexAscending, "team"),
//	        mongobase.IndexKeys(mongobase.IndexDescending, "score"),
//	    }, mongobase.IndexName("team_score"))
type IndexBuilder[D any] struct {
	defs []IndexDefinition
	err  error
}

// NewIndexBuilder creates an empty builder
func NewIndexBuilder[D any]() *IndexBuilder[D] {
	return &IndexBuilder[D]{}
}

func (b *IndexBuilder[D]) add(keys bson.D, opts []IndexOption) *IndexBuilder[D] {
	o := options.Index()
	for _, opt := range opts {
		opt(o)
	}
	b.defs = append(b.defs, IndexDefinition{Keys: keys, Options: o})
	return b
}

func (b *IndexBuilder[D]) addField(kind IndexKind, goPath string, opts []IndexOption) *IndexBuilder[D] {
	path, err := expr.FieldPath[D](goPath)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	return b.add(IndexKeys(kind, path), opts)
}

// Ascending adds an ascending index on path
func (b *IndexBuilder[D]) Ascending(path string, opts ...IndexOption) *IndexBuilder[D] {
	return b.add(IndexKeys(IndexAscending, path), opts)
}

// AscendingField adds an ascending index on a Go field path of D
func (b *IndexBuilder[D]) AscendingField(goPath string, opts ...IndexOption) *IndexBuilder[D] {
	return b.addField(IndexAscending, goPath, opts)
}

// Descending adds a descending index on path
func (b *IndexBuilder[D]) Descending(path string, opts ...IndexOption) *IndexBuilder[D] {
	return b.add(IndexKeys(IndexDescending, path), opts)
}

// DescendingField adds a descending index on a Go field path of D
func (b *IndexBuilder[D]) DescendingField(goPath string, opts ...IndexOption) *IndexBuilder[D] {
	return b.addField(IndexDescending, goPath, opts)
}

// Geo2D adds a planar geospatial index on path
func (b *IndexBuilder[D]) Geo2D(path string, opts ...IndexOption) *IndexBuilder[D] {
	return b.add(IndexKeys(IndexGeo2D, path), opts)
}

// Geo2DField adds a planar geospatial index on a Go field path of D
func (b *IndexBuilder[D]) Geo2DField(goPath string, opts ...IndexOption) *IndexBuilder[D] {
	return b.addField(IndexGeo2D, goPath, opts)
}

// Geo2DSphere adds a spherical geospatial index on path
func (b *IndexBuilder[D]) Geo2DSphere(path string, opts ...IndexOption) *IndexBuilder[D] {
	return b.add(IndexKeys(IndexGeo2DSphere, path), opts)
}

// Geo2DSphereField adds a spherical geospatial index on a Go field path of D
func (b *IndexBuilder[D]) Geo2DSphereField(goPath string, opts ...IndexOption) *IndexBuilder[D] {
	return b.addField(IndexGeo2DSphere, goPath, opts)
}

// Hashed adds a hashed index on path
func (b *IndexBuilder[D]) Hashed(path string, opts ...IndexOption) *IndexBuilder[D] {
	return b.add(IndexKeys(IndexHashed, path), opts)
}

// HashedField adds a hashed index on a Go field path of D
func (b *IndexBuilder[D]) HashedField(goPath string, opts ...IndexOption) *IndexBuilder[D] {
	return b.addField(IndexHashed, goPath, opts)
}

// Text adds a text index on path
func (b *IndexBuilder[D]) Text(path string, opts ...IndexOption) *IndexBuilder[D] {
	return b.add(IndexKeys(IndexText, path), opts)
}

// TextField adds a text index on a Go field path of D
func (b *IndexBuilder[D]) TextField(goPath string, opts ...IndexOption) *IndexBuilder[D] {
	return b.addField(IndexText, goPath, opts)
}

// Wildcard adds a wildcard index below path, or over the whole document when path is empty
func (b *IndexBuilder[D]) Wildcard(path string, opts ...IndexOption) *IndexBuilder[D] {
	return b.add(IndexKeys(IndexWildcard, path), opts)
}

// WildcardField adds a wildcard index below a Go field path of D
func (b *IndexBuilder[D]) WildcardField(goPath string, opts ...IndexOption) *IndexBuilder[D] {
	return b.addField(IndexWildcard, goPath, opts)
}

// Combine adds one compound index whose key pattern is the concatenation of keys
func (b *IndexBuilder[D]) Combine(keys []bson.D, opts ...IndexOption) *IndexBuilder[D] {
	var combined bson.D
	for _, k := range keys {
		combined = append(combined, k...)
	}
	return b.add(combined, opts)
}

// Len returns the number of accumulated definitions
func (b *IndexBuilder[D]) Len() int {
	return len(b.defs)
}

// Err returns the first field path that could not be resolved
func (b *IndexBuilder[D]) Err() error {
	return b.err
}

// Definitions returns the accumulated definitions in call order
func (b *IndexBuilder[D]) Definitions() []IndexDefinition {
	out := make([]IndexDefinition, len(b.defs))
	copy(out, b.defs)
	return out
}

// Models converts the definitions to driver index models in call order
func (b *IndexBuilder[D]) Models() []mongo.IndexModel {
	models := make([]mongo.IndexModel, 0, len(b.defs))
	for _, def := range b.defs {
		models = append(models, mongo.IndexModel{Keys: def.Keys, Options: def.Options})
	}
	return models
}
