package query

import (
	"strconv"
	"strings"

	"github.com/PailletJuanPablo/hyperiondb/pkg/document"
	"github.com/PailletJuanPablo/hyperiondb/pkg/index"
)

// Source is one shard's view for evaluation: an index lookup when the field
// has a configured index, and a full scan fallback otherwise.
type Source interface {
	// LookupIndex returns the candidate key set for a comparison, or
	// ok=false when the field carries no index.
	LookupIndex(field, operator, literal string) (keys map[string]struct{}, ok bool)
	// Scan visits every document in stable insertion order until fn
	// returns false.
	Scan(fn func(key string, doc document.Document) bool)
}

// Eval returns the set of keys in src matching the condition. AND is set
// intersection with a left short-circuit, OR is set union.
func Eval(e Expr, src Source) map[string]struct{} {
	switch node := e.(type) {
	case *Comparison:
		if keys, ok := src.LookupIndex(node.Field, node.Operator, node.Value); ok {
			return keys
		}
		result := make(map[string]struct{})
		src.Scan(func(key string, doc document.Document) bool {
			if node.MatchesDoc(doc) {
				result[key] = struct{}{}
			}
			return true
		})
		return result
	case *Logical:
		left := Eval(node.Left, src)
		if node.Op == "AND" {
			if len(left) == 0 {
				return left
			}
			right := Eval(node.Right, src)
			out := make(map[string]struct{})
			for k := range left {
				if _, ok := right[k]; ok {
					out[k] = struct{}{}
				}
			}
			return out
		}
		right := Eval(node.Right, src)
		for k := range right {
			left[k] = struct{}{}
		}
		return left
	}
	return nil
}

// MatchesDoc evaluates the comparison against a single document. A missing
// field or a type mismatch makes the comparison false rather than an error,
// so heterogeneous documents never abort a query.
func (c *Comparison) MatchesDoc(doc document.Document) bool {
	val, ok := doc.GetPath(c.Field)
	if !ok {
		return false
	}
	switch v := val.(type) {
	case float64:
		lit, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return false
		}
		// Millesimal fixed point, same encoding as the numeric index.
		return compareOrdered(c.Operator, index.FixedPoint(v), index.FixedPoint(lit))
	case string:
		if c.Operator == "CONTAINS" {
			return strings.Contains(v, c.Value)
		}
		return compareOrdered(c.Operator, v, c.Value)
	case bool:
		lit, err := strconv.ParseBool(c.Value)
		if err != nil {
			return false
		}
		switch c.Operator {
		case "=":
			return v == lit
		case "!=":
			return v != lit
		}
		return false
	default:
		return false
	}
}

func compareOrdered[T int64 | string](op string, a, b T) bool {
	switch op {
	case "=":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	default:
		return false
	}
}
