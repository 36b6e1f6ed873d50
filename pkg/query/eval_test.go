package query

import (
	"sort"
	"testing"

	"github.com/PailletJuanPablo/hyperiondb/pkg/document"
	"github.com/PailletJuanPablo/hyperiondb/pkg/index"
)

// memSource is an in-memory Source with optional indexes, mirroring what a
// shard store provides.
type memSource struct {
	order   []string
	docs    map[string]document.Document
	indexes map[string]*index.FieldIndex
}

func newMemSource() *memSource {
	return &memSource{
		docs:    make(map[string]document.Document),
		indexes: make(map[string]*index.FieldIndex),
	}
}

func (s *memSource) add(key string, doc document.Document) {
	s.order = append(s.order, key)
	s.docs[key] = doc
	for field, ix := range s.indexes {
		if v, ok := doc.GetPath(field); ok {
			ix.Add(v, key)
		}
	}
}

func (s *memSource) LookupIndex(field, operator, literal string) (map[string]struct{}, bool) {
	ix, ok := s.indexes[field]
	if !ok {
		return nil, false
	}
	return ix.Lookup(operator, literal), true
}

func (s *memSource) Scan(fn func(key string, doc document.Document) bool) {
	for _, key := range s.order {
		if !fn(key, s.docs[key]) {
			return
		}
	}
}

func seedPeople(src *memSource) {
	src.add("1", document.Document{"id": "1", "age": float64(30), "city": "London"})
	src.add("2", document.Document{"id": "2", "age": float64(25), "city": "Lisbon"})
	src.add("3", document.Document{"id": "3", "age": float64(35), "city": "London", "vip": true})
	src.add("4", document.Document{"id": "4", "city": "Berlin"}) // no age field
}

func evalKeys(t *testing.T, src Source, cond string) []string {
	t.Helper()
	expr, err := Parse(cond)
	if err != nil {
		t.Fatalf("Parse(%q): %v", cond, err)
	}
	set := Eval(expr, src)
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestEvalScanFallback(t *testing.T) {
	src := newMemSource()
	seedPeople(src)

	tests := []struct {
		cond string
		want []string
	}{
		{"age > 28", []string{"1", "3"}},
		{"age <= 30", []string{"1", "2"}},
		{"city = London", []string{"1", "3"}},
		{"city CONTAINS is", []string{"2"}},
		{"vip = true", []string{"3"}},
		{"age > 28 AND city = London", []string{"1", "3"}},
		{"age < 28 OR city = Berlin", []string{"2", "4"}},
		{"missing = 1", nil},
		{"city > 10", []string{"1", "2", "3", "4"}}, // string fields compare lexicographically
		{"vip > true", nil},                         // ordering on a bool is false, not an error
	}
	for _, tt := range tests {
		got := evalKeys(t, src, tt.cond)
		if len(got) != len(tt.want) {
			t.Errorf("%q: got %v, want %v", tt.cond, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%q: got %v, want %v", tt.cond, got, tt.want)
				break
			}
		}
	}
}

// Indexed and unindexed evaluation of the same predicate must agree exactly.
func TestIndexScanEquivalence(t *testing.T) {
	plain := newMemSource()
	seedPeople(plain)

	indexed := newMemSource()
	indexed.indexes["age"] = index.New("age", index.KindNumeric)
	indexed.indexes["city"] = index.New("city", index.KindString)
	seedPeople(indexed)

	for _, cond := range []string{
		"age = 30",
		"age > 28",
		"age < 35 AND city = London",
		"city CONTAINS on",
		"city != London",
		"age >= 25 OR city = Berlin",
		"age = 28.001",
	} {
		want := evalKeys(t, plain, cond)
		got := evalKeys(t, indexed, cond)
		if len(got) != len(want) {
			t.Errorf("%q: indexed %v != scan %v", cond, got, want)
			continue
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("%q: indexed %v != scan %v", cond, got, want)
				break
			}
		}
	}
}

// AND/OR mixing folds strictly left to right: a OR b AND c is (a OR b) AND c,
// not a OR (b AND c).
func TestEvalLeftToRightNoPrecedence(t *testing.T) {
	src := newMemSource()
	seedPeople(src)

	// (city = Berlin OR age = 30) AND age > 28 -> only "1".
	// Conventional precedence would also return "4".
	got := evalKeys(t, src, "city = Berlin OR age = 30 AND age > 28")
	if len(got) != 1 || got[0] != "1" {
		t.Fatalf("expected strict left-to-right fold to yield [1], got %v", got)
	}
}
