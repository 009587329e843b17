package metadata

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]any
		ok     bool
	}{
		{"nil", nil, true},
		{"scalars", map[string]any{"a": "x", "b": 1.5, "c": true, "d": 3, "e": json.Number("7")}, true},
		{"null value", map[string]any{"a": nil}, false},
		{"nested object", map[string]any{"a": map[string]any{"b": 1}}, false},
		{"array", map[string]any{"a": []any{"x"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.values)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrNotFlat) {
				t.Fatalf("expected ErrNotFlat, got %v", err)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	have := map[string]any{"page": "home", "section": float64(2), "draft": false}
	if !Matches(have, map[string]any{"page": "home", "section": 2}) {
		t.Fatal("expected subset with int to match float")
	}
	if !Matches(have, nil) {
		t.Fatal("expected empty filter to match")
	}
	if Matches(have, map[string]any{"draft": true}) {
		t.Fatal("expected differing value not to match")
	}
	if Matches(have, map[string]any{"missing": "x"}) {
		t.Fatal("expected missing key not to match")
	}
	if Matches(have, map[string]any{"section": "2"}) {
		t.Fatal("expected string and number not to match")
	}
}
