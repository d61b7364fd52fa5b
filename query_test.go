package mongobase

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/adrianmcphee/mongobase/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type order struct {
	ID       int      `bson:"_id"`
	Customer string   `bson:"customer"`
	Status   string   `bson:"status"`
	Total    float64  `bson:"total"`
	Items    []string `bson:"items,omitempty"`
	Shipping struct {
		City string `bson:"city"`
	} `bson:"shipping"`
}

type invoice struct {
	ID     int    `bson:"_id"`
	Status string `bson:"status"`
}

func extJSON(t *testing.T, v any) string {
	t.Helper()
	out, err := bson.MarshalExtJSON(v, false, false)
	if err != nil {
		t.Fatalf("MarshalExtJSON failed: %v", err)
	}
	return string(out)
}

func sameCustomerTemplate(t *testing.T) *QuerySpec[order] {
	t.Helper()
	q, err := TemplateOf(expr.NewPredicate2[order]("self", "other", expr.And(
		expr.Eq(expr.F("self", "customer"), expr.F("other", "customer")),
		expr.Ne(expr.F("self", "_id"), expr.F("other", "_id")),
	)))
	if err != nil {
		t.Fatalf("TemplateOf failed: %v", err)
	}
	return q
}

// TestQuerySpec_Filter covers the filter form of every variant
func TestQuerySpec_Filter(t *testing.T) {
	tests := []struct {
		name string
		q    *QuerySpec[order]
		kind QueryKind
		want string
	}{
		{"all", All[order](), KindAll, `{}`},
		{"raw", Raw[order](`{"status": "open"}`), KindRaw, `{"status":"open"}`},
		{"raw empty document", Raw[order](`{}`), KindRaw, `{}`},
		{"expression", Where(expr.NewPredicate[order]("o", expr.Gt(expr.F("o", "total"), 100))),
			KindExpression, `{"total":{"$gt":100}}`},
		{"text search", TextSearch[order]("espresso", TextSearchOptions{Language: "en"}),
			KindTextSearch, `{"$text":{"$search":"espresso","$language":"en"}}`},
		{"text search flags", TextSearch[order]("cafe", TextSearchOptions{CaseSensitive: true, DiacriticSensitive: true}),
			KindTextSearch, `{"$text":{"$search":"cafe","$caseSensitive":true,"$diacriticSensitive":true}}`},
		{"built filter", FromFilter[order](bson.D{{Key: "status", Value: "open"}}), KindFilter, `{"status":"open"}`},
		{"built map sorted", FromFilter[order](bson.M{"total": bson.M{"$lt": 5}, "customer": "acme"}),
			KindFilter, `{"customer":"acme","total":{"$lt":5}}`},
		{"built struct", FromFilter[order](struct {
			Status string `bson:"status"`
		}{Status: "open"}), KindFilter, `{"status":"open"}`},
		{"nil built filter", FromFilter[order](nil), KindFilter, `{}`},
		{"pipeline has no filter", FromPipeline[order](bson.D{{Key: "$limit", Value: 1}}), KindPipeline, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.q.Kind() != tt.kind {
				t.Errorf("Kind() = %s, want %s", tt.q.Kind(), tt.kind)
			}
			filter, err := tt.q.Filter()
			if err != nil {
				t.Fatalf("Filter failed: %v", err)
			}
			if got := extJSON(t, filter); got != tt.want {
				t.Errorf("Filter() = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestQuerySpec_Pipeline covers the stage form of every variant
func TestQuerySpec_Pipeline(t *testing.T) {
	tests := []struct {
		name string
		q    *QuerySpec[order]
		want string // rendered as {"p": stages}; "null" when nil
	}{
		{"all", All[order](), `null`},
		{"built filter", FromFilter[order](bson.M{"status": "open"}), `null`},
		{"raw array", Raw[order](`[{"$match": {"status": "open"}}, {"$limit": 5}]`),
			`[{"$match":{"status":"open"}},{"$limit":5}]`},
		{"raw document becomes match", Raw[order](`  {"status": "open"}`), `[{"$match":{"status":"open"}}]`},
		{"expression", Where(expr.NewPredicate[order]("o", expr.Eq(expr.F("o", "status"), "open"))),
			`[{"$match":{"status":{"$eq":"open"}}}]`},
		{"text search", TextSearch[order]("tea", TextSearchOptions{}), `[{"$match":{"$text":{"$search":"tea"}}}]`},
		{"stages", FromPipeline[order](
			bson.D{{Key: "$match", Value: bson.D{{Key: "status", Value: "open"}}}},
			bson.D{{Key: "$sort", Value: bson.D{{Key: "total", Value: -1}}}},
		), `[{"$match":{"status":"open"}},{"$sort":{"total":-1}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages, err := tt.q.Pipeline()
			if err != nil {
				t.Fatalf("Pipeline failed: %v", err)
			}
			if tt.want == `null` {
				if stages != nil {
					t.Errorf("expected nil pipeline, got %v", stages)
				}
				return
			}
			got := extJSON(t, bson.D{{Key: "p", Value: stages}})
			if want := `{"p":` + tt.want + `}`; got != want {
				t.Errorf("Pipeline() = %s, want %s", got, want)
			}
		})
	}
}

// TestQuerySpec_PipelineIsCopied keeps built stages immutable
func TestQuerySpec_PipelineIsCopied(t *testing.T) {
	stages := []bson.D{{{Key: "$limit", Value: 1}}}
	q := FromPipeline[order](stages...)
	stages[0] = bson.D{{Key: "$skip", Value: 1}}

	got, err := q.Pipeline()
	if err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}
	got[0] = bson.D{{Key: "$count", Value: "n"}}

	again, _ := q.Pipeline()
	if again[0][0].Key != "$limit" {
		t.Errorf("stages were mutated: %v", again)
	}
}

// TestQuerySpec_InvalidRaw fails with ErrInvalidQuery
func TestQuerySpec_InvalidRaw(t *testing.T) {
	q := Raw[order](`{"status": `)
	if _, err := q.Filter(); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("Filter: expected ErrInvalidQuery, got %v", err)
	}
	for _, text := range []string{
		`[{"$limit": }]`,
		`[{"$match": {"a": 1}}], "ignored": {"$where": "x"}`,
		`[{"$match": {"a": 1}}, 5]`,
		`"status"`,
	} {
		if stages, err := Raw[order](text).Pipeline(); !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("Pipeline(%s): expected ErrInvalidQuery, got %v %v", text, stages, err)
		}
	}
	if !strings.HasPrefix(q.String(), "<invalid query:") {
		t.Errorf("String() = %q", q.String())
	}
	if Equal(q, q) {
		t.Error("an unrenderable query equals nothing")
	}
}

// TestQuerySpec_IncompleteTemplate cannot be rendered until completed
func TestQuerySpec_IncompleteTemplate(t *testing.T) {
	q := sameCustomerTemplate(t)

	if q.Kind() != KindTemplate {
		t.Errorf("Kind() = %s", q.Kind())
	}
	if _, err := q.Filter(); !errors.Is(err, ErrIncompleteExpression) || !IsIncomplete(err) {
		t.Errorf("Filter: expected ErrIncompleteExpression, got %v", err)
	}
	if _, err := q.Pipeline(); !errors.Is(err, ErrIncompleteExpression) {
		t.Errorf("Pipeline: expected ErrIncompleteExpression, got %v", err)
	}
	if _, err := q.Render(); !errors.Is(err, ErrIncompleteExpression) {
		t.Errorf("Render: expected ErrIncompleteExpression, got %v", err)
	}
}

// TestQuerySpec_Complete binds the second parameter
func TestQuerySpec_Complete(t *testing.T) {
	q := sameCustomerTemplate(t)
	q.Update().Set("status", "merged")
	q.Limit(10)

	completed, err := q.Complete(order{ID: 7, Customer: "acme"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completed.Kind() != KindExpression {
		t.Errorf("Kind() = %s", completed.Kind())
	}

	want := Raw[order](`{"$and": [{"customer": {"$eq": "acme"}}, {"_id": {"$ne": 7}}]}`)
	want.Update().Set("status", "merged")
	if !Equal(completed, want) {
		t.Errorf("completed = %s, want %s", completed, want)
	}
	if completed.Update() != q.Update() {
		t.Error("completed query should share the template's update")
	}
	if completed.limit == nil || *completed.limit != 10 {
		t.Error("find modifiers should be copied")
	}

	p, err := q.CompleteExpression(order{ID: 8, Customer: "zeta"})
	if err != nil {
		t.Fatalf("CompleteExpression failed: %v", err)
	}
	ok, err := p.Eval(order{ID: 9, Customer: "zeta"})
	if err != nil || !ok {
		t.Errorf("completed predicate should match another zeta order: %v %v", ok, err)
	}
	ok, err = p.Eval(order{ID: 8, Customer: "zeta"})
	if err != nil || ok {
		t.Errorf("completed predicate should not match the constant itself: %v %v", ok, err)
	}
}

// TestQuerySpec_CompleteSharesLaterUpdate attaches updates made after Complete
func TestQuerySpec_CompleteSharesLaterUpdate(t *testing.T) {
	q := sameCustomerTemplate(t)
	completed, err := q.Complete(order{ID: 7, Customer: "acme"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	q.Update().Set("status", "merged")
	if !completed.HasUpdate() || completed.Update() != q.Update() {
		t.Fatal("completed query should share the template's update")
	}
	doc, err := completed.Update().Document()
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if len(doc) != 1 || doc[0].Key != "$set" {
		t.Errorf("update document = %v", doc)
	}
}

// TestQuerySpec_CompleteNonTemplate fails for every other variant
func TestQuerySpec_CompleteNonTemplate(t *testing.T) {
	for _, q := range []*QuerySpec[order]{
		All[order](),
		Raw[order](`{}`),
		Where(expr.NewPredicate[order]("o", expr.True())),
		TextSearch[order]("x", TextSearchOptions{}),
		FromPipeline[order](),
		FromFilter[order](bson.D{}),
	} {
		if _, err := q.CompleteExpression(order{}); !errors.Is(err, ErrNoIncompleteExpression) {
			t.Errorf("%s: expected ErrNoIncompleteExpression, got %v", q.Kind(), err)
		}
		if _, err := q.Complete(order{}); !IsStateError(err) {
			t.Errorf("%s: expected a state error, got %v", q.Kind(), err)
		}
	}
}

// TestTemplateOf_InvalidPredicate reports rewrite failures
func TestTemplateOf_InvalidPredicate(t *testing.T) {
	_, err := TemplateOf(expr.NewPredicate2[order]("self", "other",
		expr.Eq(expr.F("ghost", "customer"), expr.F("other", "customer"))))
	if !errors.Is(err, ErrInvalidQuery) || !errors.Is(err, expr.ErrUnknownParameter) {
		t.Errorf("expected ErrInvalidQuery wrapping ErrUnknownParameter, got %v", err)
	}

	_, err = TemplateOf(expr.NewPredicate2[order]("self", "self", expr.True()))
	if !errors.Is(err, expr.ErrParameterCount) {
		t.Errorf("expected ErrParameterCount, got %v", err)
	}
}

// TestQuerySpec_UpdateIsLazy creates one update on first access
func TestQuerySpec_UpdateIsLazy(t *testing.T) {
	q := Raw[order](`{}`)
	if q.HasUpdate() {
		t.Fatal("a new query has no update")
	}

	const n = 16
	seen := make([]*UpdateSpec[order], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = q.Update()
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if seen[i] != seen[0] {
			t.Fatal("Update() returned different instances")
		}
	}
	if !q.HasUpdate() || !q.Update().IsEmpty() {
		t.Error("first access should attach one empty update")
	}
}

// TestEqual compares canonical text and updates
func TestEqual(t *testing.T) {
	raw := Raw[order](`{"status": "open", "total": {"$gt": 100}}`)
	built := FromFilter[order](bson.M{"total": bson.M{"$gt": 100}, "status": "open"})
	if !Equal(raw, built) {
		t.Errorf("%s should equal %s", raw, built)
	}
	h1, _ := raw.Hash()
	h2, _ := built.Hash()
	if h1 != h2 {
		t.Error("equal queries should hash equally")
	}

	reordered := Raw[order](`{"total": {"$gt": 100}, "status": "open"}`)
	if Equal(raw, reordered) {
		t.Error("documents with different key order are different filters")
	}

	if !Equal(raw, Raw[order](`{"status": "open", "total": {"$gt": 100}}`).Limit(5)) {
		t.Error("find modifiers do not take part in equality")
	}

	// an accessed but empty update equals an absent one
	withEmpty := Raw[order](`{"status": "open", "total": {"$gt": 100}}`)
	withEmpty.Update()
	if !Equal(raw, withEmpty) {
		t.Error("empty update should equal no update")
	}

	withSet := Raw[order](`{"status": "open", "total": {"$gt": 100}}`)
	withSet.Update().Set("status", "closed")
	if Equal(raw, withSet) {
		t.Error("updates should take part in equality")
	}
	other := FromFilter[order](bson.M{"status": "open", "total": bson.M{"$gt": 100}})
	other.Update().Set("status", "closed")
	if !Equal(withSet, other) {
		t.Error("equal filters with equal updates should be equal")
	}
}

// TestEqual_NilAndTypes handles nil queries and other document types
func TestEqual_NilAndTypes(t *testing.T) {
	var none *QuerySpec[order]
	q := All[order]()

	if !Equal(none, nil) {
		t.Error("two nil queries are equal")
	}
	if Equal(q, none) || Equal(none, q) {
		t.Error("a nil query equals no query")
	}
	if !q.Equals(All[order]()) {
		t.Error("Equals should accept a query of the same type")
	}
	if q.Equals(All[invoice]()) {
		t.Error("queries over different document types are never equal")
	}
	if q.Equals("{}") {
		t.Error("a query never equals a string")
	}
}

// TestEqual_Pipelines distinguishes stage lists even though Filter is empty
func TestEqual_Pipelines(t *testing.T) {
	a := FromPipeline[order](bson.D{{Key: "$limit", Value: 1}})
	b := FromPipeline[order](bson.D{{Key: "$limit", Value: 2}})
	if Equal(a, b) {
		t.Error("different pipelines should differ")
	}
	if !Equal(a, FromPipeline[order](bson.D{{Key: "$limit", Value: 1}})) {
		t.Error("identical pipelines should be equal")
	}
	if Equal(a, All[order]()) {
		t.Error("a pipeline should not equal the match-all query")
	}
}

// TestQuerySpec_FindOptions carries sort, projection, limit and skip
func TestQuerySpec_FindOptions(t *testing.T) {
	q := All[order]().
		Sort(bson.D{{Key: "total", Value: -1}}).
		Project(bson.D{{Key: "customer", Value: 1}}).
		Limit(20).
		Skip(40)

	if q.sort == nil || q.projection == nil {
		t.Fatal("sort and projection should be recorded")
	}
	if *q.limit != 20 || *q.skip != 40 {
		t.Errorf("limit=%d skip=%d", *q.limit, *q.skip)
	}
	if q.findOptions() == nil || q.findOneOptions() == nil {
		t.Error("option builders should never be nil")
	}
}
