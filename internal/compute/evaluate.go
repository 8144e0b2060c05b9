package compute

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/farmready/farmready/pkg/types"
)

// Lookup resolves a raw key (or dotted path) inside a snapshot.
// ok is false when the key is absent or its value is null.
type Lookup interface {
	Lookup(key string) (any, bool)
}

// MapLookup adapts a flat map for tests and in-memory snapshots.
type MapLookup map[string]any

// Lookup implements Lookup. Null values count as absent.
func (m MapLookup) Lookup(key string) (any, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Violation explains why one logical key failed.
type Violation struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Verdict is the detailed result of Inspect.
type Verdict struct {
	Good bool `json:"good"`

	// Values maps each configured logical key to the raw value found, or nil.
	Values map[string]any `json:"values"`

	Violations []Violation `json:"violations,omitempty"`
}

// Evaluate reports whether every configured threshold is satisfied.
func Evaluate(l Lookup, thresholds map[string]types.Bound, variableMap map[string]string) bool {
	return Inspect(l, thresholds, variableMap).Good
}

// Inspect is Evaluate with per-key detail. Keys are visited in sorted order
// so the violation list is stable. An empty threshold set is good.
func Inspect(l Lookup, thresholds map[string]types.Bound, variableMap map[string]string) Verdict {
	v := Verdict{Good: true, Values: make(map[string]any, len(thresholds))}

	keys := make([]string, 0, len(thresholds))
	for k := range thresholds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := key
		if mapped, ok := variableMap[key]; ok && mapped != "" {
			raw = mapped
		}

		var (
			val any
			ok  bool
		)
		if l != nil {
			val, ok = l.Lookup(raw)
		}
		if !ok {
			v.Values[key] = nil
			v.fail(key, "missing value for "+raw)
			continue
		}
		v.Values[key] = val

		f, ok := toFloat(val)
		if !ok {
			v.fail(key, "non-numeric value for "+raw)
			continue
		}

		b := thresholds[key]
		if b.Min != nil && !compareFloat(f, ">=", *b.Min) {
			v.fail(key, "below min "+formatFloat(*b.Min)+": "+formatFloat(f))
			continue
		}
		if b.Max != nil && !compareFloat(f, "<=", *b.Max) {
			v.fail(key, "above max "+formatFloat(*b.Max)+": "+formatFloat(f))
		}
	}
	return v
}

func (v *Verdict) fail(key, reason string) {
	v.Good = false
	v.Violations = append(v.Violations, Violation{Key: key, Reason: reason})
}

// toFloat coerces a decoded JSON value to a finite float64. Numeric strings
// are accepted; booleans are not.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		p, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
