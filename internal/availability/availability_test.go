package availability

import (
	"reflect"
	"testing"
)

func TestGroupIDs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []int64
	}{
		{"empty", "", nil},
		{"null", "null", nil},
		{"malformed", `{"op":"&","c":[`, nil},
		{"not an object", `42`, nil},
		{"no conditions", `{"op":"&","c":[],"showc":[]}`, nil},
		{"single group", `{"op":"&","c":[{"type":"group","id":4}],"showc":[true]}`, []int64{4}},
		{"two groups", `{"op":"|","c":[{"type":"group","id":4},{"type":"group","id":7}],"show":true}`, []int64{4, 7}},
		{"string id", `{"op":"&","c":[{"type":"group","id":"12"}]}`, []int64{12}},
		{"any group", `{"op":"&","c":[{"type":"group"}]}`, nil},
		{"other types ignored", `{"op":"&","c":[{"type":"date","d":">=","t":1600000000},{"type":"grouping","id":3},{"type":"group","id":5}]}`, []int64{5}},
		{"nested tree", `{"op":"&","c":[{"type":"date","d":">=","t":1},{"op":"|","c":[{"type":"group","id":8},{"type":"group","id":9}]}]}`, []int64{8, 9}},
		{"duplicates removed", `{"op":"|","c":[{"type":"group","id":3},{"op":"&","c":[{"type":"group","id":3}]}]}`, []int64{3}},
		{"bad id ignored", `{"op":"&","c":[{"type":"group","id":"x"}]}`, nil},
		{"fractional id keeps siblings", `{"op":"&","c":[{"type":"group","id":4.5},{"type":"group","id":5}]}`, []int64{5}},
		{"bad nested child keeps siblings", `{"op":"|","c":[{"op":"&","c":[{"type":"group","id":[1]},{"type":"group","id":6}]},{"type":"group","id":7}]}`, []int64{6, 7}},
		{"top-level bad id", `{"type":"group","id":4.5}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GroupIDs(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("GroupIDs(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseVariants(t *testing.T) {
	n, err := Parse(`{"op":"!&","c":[{"type":"group","id":2},{"type":"profile","sf":"email"},{"op":"|","c":[]}]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n.Kind != KindTree || n.Op != "!&" {
		t.Fatalf("root = %v %q, want tree !&", n.Kind, n.Op)
	}
	if len(n.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(n.Children))
	}

	kinds := []Kind{n.Children[0].Kind, n.Children[1].Kind, n.Children[2].Kind}
	want := []Kind{KindGroup, KindOther, KindTree}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("child kinds = %v, want %v", kinds, want)
	}
	if n.Children[1].Type != "profile" {
		t.Errorf("expected other condition type 'profile', got %q", n.Children[1].Type)
	}
	if !n.Children[0].HasID || n.Children[0].GroupID != 2 {
		t.Errorf("expected group id 2, got %+v", n.Children[0])
	}
}

func TestParseErrors(t *testing.T) {
	for _, raw := range []string{`{`, `[1,2]`, `"group"`} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%s): expected error", raw)
		}
	}
}

func TestParseBadChildBecomesOpaque(t *testing.T) {
	n, err := Parse(`{"op":"&","c":[{"type":"group","id":4.5},1,{"type":"group","id":5}]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(n.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(n.Children))
	}
	kinds := []Kind{n.Children[0].Kind, n.Children[1].Kind, n.Children[2].Kind}
	want := []Kind{KindOther, KindOther, KindGroup}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("child kinds = %v, want %v", kinds, want)
	}
}

func TestWalkVisitsAllNodes(t *testing.T) {
	n, err := Parse(`{"op":"&","c":[{"type":"group","id":1},{"op":"|","c":[{"type":"date"},{"type":"group","id":2}]}]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	count := 0
	n.Walk(func(Node) { count++ })
	if count != 5 {
		t.Errorf("Walk visited %d nodes, want 5", count)
	}
}
