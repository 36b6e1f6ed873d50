package index

import (
	"sort"
	"testing"
)

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func equalKeys(got map[string]struct{}, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	sort.Strings(want)
	g := sortedKeys(got)
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNumericLookups(t *testing.T) {
	ix := New("age", KindNumeric)
	ix.Add(float64(30), "1")
	ix.Add(float64(25), "2")
	ix.Add(float64(35), "3")
	ix.Add(float64(30), "4") // duplicate value, second key

	tests := []struct {
		op   string
		lit  string
		want []string
	}{
		{"=", "30", []string{"1", "4"}},
		{"!=", "30", []string{"2", "3"}},
		{">", "28", []string{"1", "3", "4"}},
		{">", "30", []string{"3"}},
		{">=", "30", []string{"1", "3", "4"}},
		{"<", "30", []string{"2"}},
		{"<=", "30", []string{"1", "2", "4"}},
		{"=", "99", nil},
		{"=", "notanumber", nil},
	}
	for _, tt := range tests {
		got := ix.Lookup(tt.op, tt.lit)
		if !equalKeys(got, tt.want...) {
			t.Errorf("Lookup(%q, %q): got %v, want %v", tt.op, tt.lit, sortedKeys(got), tt.want)
		}
	}
}

func TestNumericFractionalValues(t *testing.T) {
	ix := New("price", KindNumeric)
	ix.Add(99.999, "a")
	ix.Add(100.0, "b")

	if got := ix.Lookup("<", "100"); !equalKeys(got, "a") {
		t.Errorf("price < 100: got %v", sortedKeys(got))
	}
	if got := ix.Lookup("=", "99.999"); !equalKeys(got, "a") {
		t.Errorf("price = 99.999: got %v", sortedKeys(got))
	}
}

func TestStringLookups(t *testing.T) {
	ix := New("city", KindString)
	ix.Add("London", "1")
	ix.Add("Lisbon", "2")
	ix.Add("Berlin", "3")
	ix.Add("London", "4")

	tests := []struct {
		op   string
		lit  string
		want []string
	}{
		{"=", "London", []string{"1", "4"}},
		{"!=", "London", []string{"2", "3"}},
		{"CONTAINS", "L", []string{"1", "2", "4"}},
		{"CONTAINS", "on", []string{"1", "2", "4"}},
		{"CONTAINS", "xyz", nil},
		{">", "Lisbon", []string{"1", "4"}},
		{">=", "Lisbon", []string{"1", "2", "4"}},
		{"<", "Lisbon", []string{"3"}},
		{"<=", "Lisbon", []string{"2", "3"}},
	}
	for _, tt := range tests {
		got := ix.Lookup(tt.op, tt.lit)
		if !equalKeys(got, tt.want...) {
			t.Errorf("Lookup(%q, %q): got %v, want %v", tt.op, tt.lit, sortedKeys(got), tt.want)
		}
	}
}

func TestRemovePrunesEmptyEntries(t *testing.T) {
	ix := New("city", KindString)
	ix.Add("London", "1")
	ix.Add("London", "2")

	ix.Remove("London", "1")
	if got := ix.Lookup("=", "London"); !equalKeys(got, "2") {
		t.Fatalf("after first remove: got %v", sortedKeys(got))
	}

	ix.Remove("London", "2")
	if ix.Len() != 0 {
		t.Fatalf("expected empty entry pruned, Len=%d", ix.Len())
	}
}

func TestTypeMismatchedValuesIgnored(t *testing.T) {
	num := New("age", KindNumeric)
	num.Add("thirty", "1")
	if num.Len() != 0 {
		t.Error("numeric index accepted a string value")
	}

	str := New("city", KindString)
	str.Add(float64(42), "1")
	if str.Len() != 0 {
		t.Error("string index accepted a numeric value")
	}
}
