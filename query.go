package mongobase

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/adrianmcphee/mongobase/expr"
	"github.com/cespare/xxhash/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// QueryKind names the variant a QuerySpec holds
type QueryKind string

const (
	KindAll        QueryKind = "all"        // no variant, matches everything
	KindRaw        QueryKind = "raw"        // Extended JSON text
	KindExpression QueryKind = "expression" // one-parameter predicate
	KindTemplate   QueryKind = "template"   // two-parameter predicate awaiting a constant
	KindTextSearch QueryKind = "text"       // $text search
	KindPipeline   QueryKind = "pipeline"   // aggregation stages
	KindFilter     QueryKind = "filter"     // pre-built filter document
)

// TextSearchOptions are the optional fields of a $text query
type TextSearchOptions struct {
	Language           string
	CaseSensitive      bool
	DiacriticSensitive bool
}

// querySource is the variant payload of a QuerySpec. The set of
// implementations is closed; a QuerySpec holds at most one.
type querySource interface {
	kind() QueryKind
}

type rawQuery struct{ text string }

type predicateQuery[D any] struct{ predicate expr.Predicate[D] }

type templateQuery[D any] struct{ template expr.Tagged[D] }

type textSearchQuery struct {
	phrase string
	opts   TextSearchOptions
}

type pipelineQuery struct{ stages []bson.D }

type filterQuery struct{ filter any }

func (rawQuery) kind() QueryKind          { return KindRaw }
func (predicateQuery[D]) kind() QueryKind { return KindExpression }
func (templateQuery[D]) kind() QueryKind  { return KindTemplate }
func (textSearchQuery) kind() QueryKind   { return KindTextSearch }
func (pipelineQuery) kind() QueryKind     { return KindPipeline }
func (filterQuery) kind() QueryKind       { return KindFilter }

// QuerySpec is a query against documents of type D. It holds exactly one
// kind of source, chosen by its constructor, plus an optional update and
// find modifiers.
//
// A QuerySpec is built once per call site. Only its update is created after
// construction, on first access.
type QuerySpec[D any] struct {
	source querySource
	update atomic.Pointer[UpdateSpec[D]]

	// Find modifiers; they do not take part in equality
	sort       bson.D
	projection any
	limit      *int64
	skip       *int64
}

// Raw creates a query from Extended JSON text. The text is a filter document
// for Filter and a stage array for Pipeline.
//
// Example:
//
//	q := mongobase.Raw[User](`{"age": {"$gte": 18}}`)
func Raw[D any](text string) *QuerySpec[D] {
	return &QuerySpec[D]{source: rawQuery{text: text}}
}

// Where creates a query from a one-parameter predicate.
func Where[D any](p expr.Predicate[D]) *QuerySpec[D] {
	return &QuerySpec[D]{source: predicateQuery[D]{predicate: p}}
}

// Template creates a query from a rewritten two-parameter predicate. It must
// be completed with Complete before it can be rendered.
func Template[D any](t expr.Tagged[D]) *QuerySpec[D] {
	return &QuerySpec[D]{source: templateQuery[D]{template: t}}
}

// TemplateOf rewrites p and wraps the result with Template.
//
// Example:
//
//	q, err := mongobase.TemplateOf(expr.NewPredicate2[User]("self", "other",
//	    expr.Eq(expr.F("self", "team"), expr.F("other", "team"))))
//	teammates, err := q.Complete(currentUser)
func TemplateOf[D any](p expr.Predicate2[D]) (*QuerySpec[D], error) {
	t, err := expr.Rewrite(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return Template(t), nil
}

// TextSearch creates a $text query for phrase.
func TextSearch[D any](phrase string, opts TextSearchOptions) *QuerySpec[D] {
	return &QuerySpec[D]{source: textSearchQuery{phrase: phrase, opts: opts}}
}

// FromPipeline creates a query from aggregation stages.
func FromPipeline[D any](stages ...bson.D) *QuerySpec[D] {
	return &QuerySpec[D]{source: pipelineQuery{stages: slices.Clone(stages)}}
}

// FromFilter wraps an already built filter: a bson.D, bson.M, map or struct.
func FromFilter[D any](filter any) *QuerySpec[D] {
	return &QuerySpec[D]{source: filterQuery{filter: filter}}
}

// All creates a query without a source. It matches every document.
func All[D any]() *QuerySpec[D] {
	return &QuerySpec[D]{}
}

// Kind reports which variant q holds.
func (q *QuerySpec[D]) Kind() QueryKind {
	if q.source == nil {
		return KindAll
	}
	return q.source.kind()
}

// Filter renders q as a filter document.
//
// Raw text is parsed as Extended JSON, predicates are rendered, text searches
// become a $text filter and built filters are normalised. An uncompleted
// template fails with ErrIncompleteExpression. A query without a source, or
// one holding only a pipeline, yields the empty filter.
func (q *QuerySpec[D]) Filter() (bson.D, error) {
	switch src := q.source.(type) {
	case rawQuery:
		return parseRawFilter(src.text)
	case predicateQuery[D]:
		filter, err := src.predicate.Filter()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
		return filter, nil
	case textSearchQuery:
		return src.filter(), nil
	case filterQuery:
		return normalizeFilter(src.filter)
	case templateQuery[D]:
		return nil, WithContext(ErrIncompleteExpression, map[string]interface{}{
			"template": src.template.String(),
		})
	}
	return bson.D{}, nil
}

// Pipeline renders q as aggregation stages.
//
// Raw text is parsed as an Extended JSON stage array; a single document is
// accepted as a $match stage. Predicates and text searches become one $match
// stage and stage pipelines are returned as built. An uncompleted template
// fails with ErrIncompleteExpression. Built filters and queries without a
// source yield nil: they have no stage form of their own.
func (q *QuerySpec[D]) Pipeline() ([]bson.D, error) {
	switch src := q.source.(type) {
	case rawQuery:
		return parseRawPipeline(src.text)
	case predicateQuery[D]:
		filter, err := src.predicate.Filter()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
		return []bson.D{matchStage(filter)}, nil
	case textSearchQuery:
		return []bson.D{matchStage(src.filter())}, nil
	case templateQuery[D]:
		return nil, WithContext(ErrIncompleteExpression, map[string]interface{}{
			"template": src.template.String(),
		})
	case pipelineQuery:
		return slices.Clone(src.stages), nil
	}
	return nil, nil
}

// CompleteExpression binds the second parameter of the template held by q to
// constant. It fails with ErrNoIncompleteExpression for any other variant.
func (q *QuerySpec[D]) CompleteExpression(constant D) (expr.Predicate[D], error) {
	src, ok := q.source.(templateQuery[D])
	if !ok {
		return expr.Predicate[D]{}, WithContext(ErrNoIncompleteExpression, map[string]interface{}{
			"kind": q.Kind(),
		})
	}
	return expr.Complete(src.template, constant), nil
}

// Complete returns a new expression query from the template held by q with
// its second parameter bound to constant. The result shares q's update and
// copies its find modifiers.
func (q *QuerySpec[D]) Complete(constant D) (*QuerySpec[D], error) {
	p, err := q.CompleteExpression(constant)
	if err != nil {
		return nil, err
	}
	completed := q.withSource(predicateQuery[D]{predicate: p})
	completed.update.Store(q.Update())
	return completed, nil
}

// Update returns the update attached to q, creating an empty one on first
// access. Every call returns the same instance.
func (q *QuerySpec[D]) Update() *UpdateSpec[D] {
	if u := q.update.Load(); u != nil {
		return u
	}
	q.update.CompareAndSwap(nil, NewUpdate[D]())
	return q.update.Load()
}

// HasUpdate reports whether an update has been attached, without creating one.
func (q *QuerySpec[D]) HasUpdate() bool {
	return q.update.Load() != nil
}

// Sort sets the sort order applied by Find and FindOne.
func (q *QuerySpec[D]) Sort(keys bson.D) *QuerySpec[D] {
	q.sort = keys
	return q
}

// Limit sets the maximum number of documents returned by Find.
func (q *QuerySpec[D]) Limit(n int64) *QuerySpec[D] {
	q.limit = &n
	return q
}

// Skip sets the number of documents Find and FindOne skip.
func (q *QuerySpec[D]) Skip(n int64) *QuerySpec[D] {
	q.skip = &n
	return q
}

// Project sets the projection applied by Find and FindOne.
func (q *QuerySpec[D]) Project(projection any) *QuerySpec[D] {
	q.projection = projection
	return q
}

func (q *QuerySpec[D]) findOptions() *options.FindOptionsBuilder {
	opts := options.Find()
	if q.sort != nil {
		opts.SetSort(q.sort)
	}
	if q.projection != nil {
		opts.SetProjection(q.projection)
	}
	if q.limit != nil {
		opts.SetLimit(*q.limit)
	}
	if q.skip != nil {
		opts.SetSkip(*q.skip)
	}
	return opts
}

func (q *QuerySpec[D]) findOneOptions() *options.FindOneOptionsBuilder {
	opts := options.FindOne()
	if q.sort != nil {
		opts.SetSort(q.sort)
	}
	if q.projection != nil {
		opts.SetProjection(q.projection)
	}
	if q.skip != nil {
		opts.SetSkip(*q.skip)
	}
	return opts
}

func (q *QuerySpec[D]) withSource(src querySource) *QuerySpec[D] {
	return &QuerySpec[D]{
		source:     src,
		sort:       q.sort,
		projection: q.projection,
		limit:      q.limit,
		skip:       q.skip,
	}
}

// Render returns the canonical text of q: the relaxed Extended JSON of its
// filter, or of its stage array for pipeline queries.
func (q *QuerySpec[D]) Render() (string, error) {
	if src, ok := q.source.(pipelineQuery); ok {
		return renderExtJSON(bson.D{{Key: "pipeline", Value: src.stages}})
	}
	filter, err := q.Filter()
	if err != nil {
		return "", err
	}
	return renderExtJSON(filter)
}

func (q *QuerySpec[D]) String() string {
	s, err := q.Render()
	if err != nil {
		return fmt.Sprintf("<invalid query: %v>", err)
	}
	return s
}

// Hash returns the xxhash of the canonical text of q.
func (q *QuerySpec[D]) Hash() (uint64, error) {
	s, err := q.Render()
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64String(s), nil
}

// Equal reports whether a and b render to the same canonical text and carry
// equal updates. Two nil queries are equal. A query that cannot be rendered
// is equal to nothing, itself included.
func Equal[D any](a, b *QuerySpec[D]) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, err := a.Render()
	if err != nil {
		return false
	}
	rb, err := b.Render()
	if err != nil {
		return false
	}
	if xxhash.Sum64String(ra) != xxhash.Sum64String(rb) || ra != rb {
		return false
	}
	return a.update.Load().Equal(b.update.Load())
}

// Equals compares q with a value of any type. Queries over other document
// types are never equal.
func (q *QuerySpec[D]) Equals(other any) bool {
	o, ok := other.(*QuerySpec[D])
	if !ok {
		return false
	}
	return Equal(q, o)
}

func (t textSearchQuery) filter() bson.D {
	text := bson.D{{Key: "$search", Value: t.phrase}}
	if t.opts.Language != "" {
		text = append(text, bson.E{Key: "$language", Value: t.opts.Language})
	}
	if t.opts.CaseSensitive {
		text = append(text, bson.E{Key: "$caseSensitive", Value: true})
	}
	if t.opts.DiacriticSensitive {
		text = append(text, bson.E{Key: "$diacriticSensitive", Value: true})
	}
	return bson.D{{Key: "$text", Value: text}}
}

func matchStage(filter bson.D) bson.D {
	return bson.D{{Key: "$match", Value: filter}}
}

func parseRawFilter(text string) (bson.D, error) {
	var filter bson.D
	if err := bson.UnmarshalExtJSON([]byte(text), false, &filter); err != nil {
		return nil, WithContext(fmt.Errorf("%w: %w", ErrInvalidQuery, err), map[string]interface{}{
			"raw": text,
		})
	}
	if filter == nil {
		filter = bson.D{}
	}
	return filter, nil
}

func parseRawPipeline(text string) ([]bson.D, error) {
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) > 0 && trimmed[0] == '{' {
		filter, err := parseRawFilter(text)
		if err != nil {
			return nil, err
		}
		return []bson.D{matchStage(filter)}, nil
	}

	invalid := func(err error) error {
		return WithContext(fmt.Errorf("%w: %w", ErrInvalidQuery, err), map[string]interface{}{
			"raw": text,
		})
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, invalid(errors.New("pipeline must be a document or an array of stages"))
	}

	// Extended JSON has no top-level arrays. The wrapper must decode to a
	// single key, otherwise the text closed the array early.
	var wrapper bson.D
	doc := append(append([]byte(`{"pipeline":`), trimmed...), '}')
	if err := bson.UnmarshalExtJSON(doc, false, &wrapper); err != nil {
		return nil, invalid(err)
	}
	if len(wrapper) != 1 || wrapper[0].Key != "pipeline" {
		return nil, invalid(errors.New("trailing content after the stage array"))
	}
	elems, ok := wrapper[0].Value.(bson.A)
	if !ok {
		return nil, invalid(fmt.Errorf("stages decoded as %T", wrapper[0].Value))
	}
	stages := make([]bson.D, 0, len(elems))
	for i, elem := range elems {
		stage, ok := elem.(bson.D)
		if !ok {
			return nil, invalid(fmt.Errorf("stage %d is %T, not a document", i, elem))
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// normalizeFilter converts a built filter to a bson.D whose map-derived
// documents list their keys in sorted order.
func normalizeFilter(filter any) (bson.D, error) {
	if filter == nil {
		return bson.D{}, nil
	}
	if d, ok := normalizeValue(filter).(bson.D); ok {
		return d, nil
	}

	data, err := bson.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %T: %w", ErrInvalidQuery, filter, err)
	}
	var d bson.D
	if err := bson.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: filter %T: %w", ErrInvalidQuery, filter, err)
	}
	return d, nil
}

func normalizeValue(v any) any {
	switch v := v.(type) {
	case bson.D:
		out := make(bson.D, len(v))
		for i, e := range v {
			out[i] = bson.E{Key: e.Key, Value: normalizeValue(e.Value)}
		}
		return out
	case bson.M:
		return sortedDocument(v)
	case map[string]any:
		return sortedDocument(v)
	case bson.A:
		out := make(bson.A, len(v))
		for i, e := range v {
			out[i] = normalizeValue(e)
		}
		return out
	case []any:
		out := make(bson.A, len(v))
		for i, e := range v {
			out[i] = normalizeValue(e)
		}
		return out
	}
	return v
}

func sortedDocument(m map[string]any) bson.D {
	out := make(bson.D, 0, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: normalizeValue(m[k])})
	}
	return out
}

func renderExtJSON(v any) (string, error) {
	data, err := bson.MarshalExtJSON(v, false, false)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return string(data), nil
}
