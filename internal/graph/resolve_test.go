package graph

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolveOrderPlacesDependenciesFirst(t *testing.T) {
	src := MapSource{
		"report":  {"summary", "facts"},
		"summary": {"extract"},
		"facts":   {"extract"},
		"extract": nil,
	}
	order, err := ResolveOrder(src, "report")
	if err != nil {
		t.Fatalf("ResolveOrder returned error: %v", err)
	}
	want := []string{"extract", "summary", "facts", "report"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}

	position := make(map[string]int, len(order))
	for i, name := range order {
		position[name] = i
	}
	for name, deps := range src {
		if _, ok := position[name]; !ok {
			continue
		}
		for _, dep := range deps {
			if position[dep] >= position[name] {
				t.Fatalf("%s appears before its dependency %s in %v", name, dep, order)
			}
		}
	}
}

func TestResolveOrderPreservesDeclaredOrder(t *testing.T) {
	src := MapSource{
		"root": {"zeta", "alpha", "mid"},
		"zeta": nil, "alpha": nil, "mid": nil,
	}
	for i := 0; i < 5; i++ {
		order, err := ResolveOrder(src, "root")
		if err != nil {
			t.Fatalf("ResolveOrder returned error: %v", err)
		}
		want := []string{"zeta", "alpha", "mid", "root"}
		if !reflect.DeepEqual(order, want) {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestResolveOrderLeafRoot(t *testing.T) {
	order, err := ResolveOrder(MapSource{"solo": nil}, "solo")
	if err != nil {
		t.Fatalf("ResolveOrder returned error: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"solo"}) {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestResolveOrderReportsCycle(t *testing.T) {
	src := MapSource{
		"root": {"leaf", "a"},
		"leaf": nil,
		"a":    {"b"},
		"b":    {"c"},
		"c":    {"a"},
	}
	_, err := ResolveOrder(src, "root")
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	want := []string{"a", "b", "c", "a"}
	if !reflect.DeepEqual(cycleErr.Path, want) {
		t.Fatalf("cycle path = %v, want %v", cycleErr.Path, want)
	}
	for _, member := range cycleErr.Members() {
		if member == "root" || member == "leaf" {
			t.Fatalf("cycle includes unreachable-from-cycle node %q", member)
		}
	}
}

func TestResolveOrderSelfDependency(t *testing.T) {
	_, err := ResolveOrder(MapSource{"loop": {"loop"}}, "loop")
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
	if !reflect.DeepEqual(cycleErr.Path, []string{"loop", "loop"}) {
		t.Fatalf("unexpected cycle path %v", cycleErr.Path)
	}
}

func TestResolveOrderMissingDependency(t *testing.T) {
	_, err := ResolveOrder(MapSource{"root": {"ghost"}}, "root")
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
	var missing *MissingDependencyError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *MissingDependencyError, got %T", err)
	}
	if missing.Name != "ghost" || missing.From != "root" {
		t.Fatalf("unexpected error fields %+v", missing)
	}

	_, err = ResolveOrder(MapSource{}, "nope")
	if !errors.As(err, &missing) || missing.Name != "nope" || missing.From != "" {
		t.Fatalf("expected missing root error, got %v", err)
	}
}

func TestExtractDependencies(t *testing.T) {
	tests := []struct {
		name     string
		declared []string
		want     []string
	}{
		{name: "nil", declared: nil, want: nil},
		{name: "blank only", declared: []string{" ", ""}, want: nil},
		{name: "dedupe", declared: []string{"a", "b", " a ", "c", "b"}, want: []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractDependencies(tt.declared)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ExtractDependencies(%v) = %v, want %v", tt.declared, got, tt.want)
			}
		})
	}
}

func TestDependents(t *testing.T) {
	src := MapSource{
		"root":  {"left", "right"},
		"left":  {"base"},
		"right": nil,
		"base":  nil,
	}
	order, err := ResolveOrder(src, "root")
	if err != nil {
		t.Fatalf("ResolveOrder returned error: %v", err)
	}
	got := Dependents(src, order, "base")
	if !reflect.DeepEqual(got, []string{"left", "root"}) {
		t.Fatalf("Dependents(base) = %v", got)
	}
	if got := Dependents(src, order, "right"); !reflect.DeepEqual(got, []string{"root"}) {
		t.Fatalf("Dependents(right) = %v", got)
	}
}
