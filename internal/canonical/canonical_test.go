package canonical

import (
	"testing"
)

func TestMarshalSortsKeys(t *testing.T) {
	t.Parallel()

	got, err := Marshal(map[string]any{"zeta": 1, "alpha": 2, "mid": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"alpha":2,"mid":3,"zeta":1}`
	if string(got) != want {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestMarshalCompactSeparators(t *testing.T) {
	t.Parallel()

	got, err := Marshal(map[string]any{"a": []any{1, 2, 3}, "b": map[string]any{"c": true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"a":[1,2,3],"b":{"c":true}}`
	if string(got) != want {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestMarshalASCIIOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"latin supplement", "caf\u00e9", `"caf\u00e9"`},
		{"cjk", "\u6728", `"\u6728"`},
		{"astral plane", "\U0001F642", `"\ud83d\ude42"`},
		{"control char", "a\x01b", `"a\u0001b"`},
		{"newline and tab", "a\n\tb", `"a\n\tb"`},
		{"quote and backslash", `a"\b`, `"a\"\\b"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Marshal(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("want %s, got %s", tc.want, got)
			}
		})
	}
}

func TestMarshalNumbersVerbatim(t *testing.T) {
	t.Parallel()

	got, err := Marshal(map[string]any{"f": 0.98, "i": 42, "neg": -1.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"f":0.98,"i":42,"neg":-1.5}`
	if string(got) != want {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestMarshalStructUsesTags(t *testing.T) {
	t.Parallel()

	type node struct {
		NodeID       string  `json:"node_id"`
		ParentNodeID *string `json:"parent_node_id"`
		BranchSlot   *int    `json:"branch_slot"`
	}
	got, err := Marshal(node{NodeID: "n1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"branch_slot":null,"node_id":"n1","parent_node_id":null}`
	if string(got) != want {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestMarshalEmptyCollections(t *testing.T) {
	t.Parallel()

	got, err := Marshal([]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "[]" {
		t.Fatalf("want [], got %s", got)
	}

	got, err = Marshal(map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "{}" {
		t.Fatalf("want {}, got %s", got)
	}
}

func TestTransformRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	if _, err := Transform([]byte(`{"a":`)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}
