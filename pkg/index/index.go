package index

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/btree"
)

// Kind selects the comparison semantics of a field index.
type Kind string

const (
	KindString  Kind = "String"
	KindNumeric Kind = "Numeric"
)

// FixedPoint converts a float to the millesimal fixed-point encoding used as
// the numeric index key. Scan-path comparisons use the same encoding so
// indexed and unindexed evaluation agree exactly.
func FixedPoint(f float64) int64 {
	return int64(math.Round(f * 1000))
}

type numericItem struct {
	val  int64
	keys map[string]struct{}
}

func (i *numericItem) Less(than btree.Item) bool {
	return i.val < than.(*numericItem).val
}

type stringItem struct {
	val  string
	keys map[string]struct{}
}

func (i *stringItem) Less(than btree.Item) bool {
	return i.val < than.(*stringItem).val
}

// FieldIndex maps the values of one document field to the set of primary
// keys holding each value, within one shard. It carries no lock of its own:
// the owning shard serialises writes and holds its read lock for lookups.
type FieldIndex struct {
	field string
	kind  Kind
	tree  *btree.BTree
}

func New(field string, kind Kind) *FieldIndex {
	return &FieldIndex{
		field: field,
		kind:  kind,
		tree:  btree.New(32),
	}
}

func (ix *FieldIndex) Field() string { return ix.field }
func (ix *FieldIndex) Kind() Kind    { return ix.kind }

// Len reports the number of distinct indexed values.
func (ix *FieldIndex) Len() int { return ix.tree.Len() }

// Add records key under the given field value. Values whose runtime type
// does not match the index kind are ignored, matching the schemaless model.
func (ix *FieldIndex) Add(value any, key string) {
	switch ix.kind {
	case KindNumeric:
		f, ok := toFloat(value)
		if !ok {
			return
		}
		pivot := &numericItem{val: FixedPoint(f)}
		if it := ix.tree.Get(pivot); it != nil {
			it.(*numericItem).keys[key] = struct{}{}
			return
		}
		pivot.keys = map[string]struct{}{key: {}}
		ix.tree.ReplaceOrInsert(pivot)
	case KindString:
		s, ok := value.(string)
		if !ok {
			return
		}
		pivot := &stringItem{val: s}
		if it := ix.tree.Get(pivot); it != nil {
			it.(*stringItem).keys[key] = struct{}{}
			return
		}
		pivot.keys = map[string]struct{}{key: {}}
		ix.tree.ReplaceOrInsert(pivot)
	}
}

// Remove retracts key from the entry for value, pruning entries whose key
// set becomes empty.
func (ix *FieldIndex) Remove(value any, key string) {
	switch ix.kind {
	case KindNumeric:
		f, ok := toFloat(value)
		if !ok {
			return
		}
		pivot := &numericItem{val: FixedPoint(f)}
		if it := ix.tree.Get(pivot); it != nil {
			entry := it.(*numericItem)
			delete(entry.keys, key)
			if len(entry.keys) == 0 {
				ix.tree.Delete(pivot)
			}
		}
	case KindString:
		s, ok := value.(string)
		if !ok {
			return
		}
		pivot := &stringItem{val: s}
		if it := ix.tree.Get(pivot); it != nil {
			entry := it.(*stringItem)
			delete(entry.keys, key)
			if len(entry.keys) == 0 {
				ix.tree.Delete(pivot)
			}
		}
	}
}

// Lookup returns the keys matching `<field> <operator> <literal>`. An
// operator the kind does not support, or a numeric literal that fails to
// parse, yields an empty set.
func (ix *FieldIndex) Lookup(operator, literal string) map[string]struct{} {
	result := make(map[string]struct{})
	switch ix.kind {
	case KindNumeric:
		f, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return result
		}
		ix.lookupNumeric(operator, FixedPoint(f), result)
	case KindString:
		ix.lookupString(operator, literal, result)
	}
	return result
}

func (ix *FieldIndex) lookupNumeric(operator string, pivot int64, out map[string]struct{}) {
	collect := func(it btree.Item) bool {
		for k := range it.(*numericItem).keys {
			out[k] = struct{}{}
		}
		return true
	}
	switch operator {
	case "=":
		if it := ix.tree.Get(&numericItem{val: pivot}); it != nil {
			collect(it)
		}
	case "!=":
		ix.tree.Ascend(func(it btree.Item) bool {
			if it.(*numericItem).val != pivot {
				collect(it)
			}
			return true
		})
	case ">":
		ix.tree.AscendGreaterOrEqual(&numericItem{val: pivot + 1}, collect)
	case ">=":
		ix.tree.AscendGreaterOrEqual(&numericItem{val: pivot}, collect)
	case "<":
		ix.tree.AscendLessThan(&numericItem{val: pivot}, collect)
	case "<=":
		ix.tree.AscendLessThan(&numericItem{val: pivot + 1}, collect)
	}
}

func (ix *FieldIndex) lookupString(operator, literal string, out map[string]struct{}) {
	collect := func(it btree.Item) bool {
		for k := range it.(*stringItem).keys {
			out[k] = struct{}{}
		}
		return true
	}
	switch operator {
	case "=":
		if it := ix.tree.Get(&stringItem{val: literal}); it != nil {
			collect(it)
		}
	case "!=":
		ix.tree.Ascend(func(it btree.Item) bool {
			if it.(*stringItem).val != literal {
				collect(it)
			}
			return true
		})
	case "CONTAINS":
		// Linear over the distinct values; no sub-linear substring search.
		ix.tree.Ascend(func(it btree.Item) bool {
			if strings.Contains(it.(*stringItem).val, literal) {
				collect(it)
			}
			return true
		})
	case ">":
		ix.tree.AscendGreaterOrEqual(&stringItem{val: literal}, func(it btree.Item) bool {
			if it.(*stringItem).val != literal {
				collect(it)
			}
			return true
		})
	case ">=":
		ix.tree.AscendGreaterOrEqual(&stringItem{val: literal}, collect)
	case "<":
		ix.tree.AscendLessThan(&stringItem{val: literal}, collect)
	case "<=":
		ix.tree.AscendLessThan(&stringItem{val: literal}, collect)
		if it := ix.tree.Get(&stringItem{val: literal}); it != nil {
			collect(it)
		}
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
