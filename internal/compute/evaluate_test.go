package compute

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/farmready/farmready/pkg/types"
)

func TestEvaluate(t *testing.T) {
	thresholds := map[string]types.Bound{
		"light": types.Range(300, 1200),
		"temp":  types.AtMost(35),
	}
	vm := map[string]string{"light": "Light_out", "temp": "Weather_Temperature"}

	tests := []struct {
		name string
		snap MapLookup
		want bool
	}{
		{"all in range", MapLookup{"Light_out": 500.0, "Weather_Temperature": 30.0}, true},
		{"inclusive bounds", MapLookup{"Light_out": 1200.0, "Weather_Temperature": 35.0}, true},
		{"below min", MapLookup{"Light_out": 299.0, "Weather_Temperature": 30.0}, false},
		{"above max", MapLookup{"Light_out": 500.0, "Weather_Temperature": 35.1}, false},
		{"missing key", MapLookup{"Light_out": 500.0}, false},
		{"null value", MapLookup{"Light_out": 500.0, "Weather_Temperature": nil}, false},
		{"numeric string", MapLookup{"Light_out": " 500 ", "Weather_Temperature": "20"}, true},
		{"garbage string", MapLookup{"Light_out": "bright", "Weather_Temperature": 20.0}, false},
		{"bool rejected", MapLookup{"Light_out": true, "Weather_Temperature": 20.0}, false},
		{"json number", MapLookup{"Light_out": json.Number("700"), "Weather_Temperature": 1}, true},
		{"nan rejected", MapLookup{"Light_out": math.NaN(), "Weather_Temperature": 20.0}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.snap, thresholds, vm); got != tc.want {
				t.Errorf("Evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluate_EmptyThresholdsIsGood(t *testing.T) {
	if !Evaluate(MapLookup{}, nil, nil) {
		t.Error("empty thresholds should evaluate to true")
	}
	if !Evaluate(nil, map[string]types.Bound{}, nil) {
		t.Error("nil lookup with no thresholds should evaluate to true")
	}
}

func TestEvaluate_KeyFallback(t *testing.T) {
	th := map[string]types.Bound{"humidity": types.AtLeast(10)}
	if !Evaluate(MapLookup{"humidity": 12}, th, nil) {
		t.Error("unmapped key should resolve to itself")
	}
	if !Evaluate(MapLookup{"humidity": 12}, th, map[string]string{"humidity": ""}) {
		t.Error("empty mapping should resolve to the key itself")
	}
}

func TestEvaluate_UnboundedKeyStillRequiresValue(t *testing.T) {
	th := map[string]types.Bound{"co2": {}}
	if Evaluate(MapLookup{}, th, nil) {
		t.Error("missing value with no bounds should still fail closed")
	}
	if !Evaluate(MapLookup{"co2": 9999}, th, nil) {
		t.Error("any numeric value satisfies an unbounded key")
	}
}

func TestInspect_Detail(t *testing.T) {
	th := map[string]types.Bound{
		"b": types.Range(0, 1),
		"a": types.AtLeast(10),
		"c": types.AtMost(5),
	}
	v := Inspect(MapLookup{"a": 1, "c": 3}, th, nil)
	if v.Good {
		t.Fatal("Good = true, want false")
	}
	if len(v.Violations) != 2 {
		t.Fatalf("violations = %+v, want 2", v.Violations)
	}
	if v.Violations[0].Key != "a" || v.Violations[1].Key != "b" {
		t.Errorf("violation order = %+v, want a then b", v.Violations)
	}
	if v.Values["b"] != nil || v.Values["c"] != 3 {
		t.Errorf("values = %+v", v.Values)
	}
}
