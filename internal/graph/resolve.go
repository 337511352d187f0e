package graph

import (
	"strings"
)

// Source supplies the declared dependencies of each workflow. ok is false
// when no workflow with that name exists.
type Source interface {
	Dependencies(name string) (deps []string, ok bool)
}

// MapSource is an in-memory Source keyed by workflow name.
type MapSource map[string][]string

// Dependencies implements Source.
func (m MapSource) Dependencies(name string) ([]string, bool) {
	deps, ok := m[name]
	return deps, ok
}

type color uint8

const (
	white color = iota // unvisited
	gray               // in progress
	black              // finished
)

// frame is one entry of the explicit DFS stack.
type frame struct {
	name string
	deps []string
	next int
}

// ResolveOrder returns root and its transitive dependencies ordered so that
// every workflow appears after all of its dependencies. Root is always last.
// Siblings are emitted in declared dependency order.
func ResolveOrder(src Source, root string) ([]string, error) {
	root = strings.TrimSpace(root)
	rootDeps, ok := src.Dependencies(root)
	if !ok {
		return nil, &MissingDependencyError{Name: root}
	}

	colors := map[string]color{root: gray}
	stack := []*frame{{name: root, deps: ExtractDependencies(rootDeps)}}
	var order []string

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next >= len(top.deps) {
			colors[top.name] = black
			order = append(order, top.name)
			stack = stack[:len(stack)-1]
			continue
		}
		dep := top.deps[top.next]
		top.next++

		switch colors[dep] {
		case black:
			continue
		case gray:
			return nil, &CycleError{Path: cyclePath(stack, dep)}
		}

		deps, ok := src.Dependencies(dep)
		if !ok {
			return nil, &MissingDependencyError{Name: dep, From: top.name}
		}
		colors[dep] = gray
		stack = append(stack, &frame{name: dep, deps: ExtractDependencies(deps)})
	}
	return order, nil
}

// cyclePath extracts the stack segment from the first occurrence of target
// and closes it with target again.
func cyclePath(stack []*frame, target string) []string {
	start := 0
	for i, f := range stack {
		if f.name == target {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, f.name)
	}
	return append(path, target)
}

// ExtractDependencies normalizes a declared depends_on list. Blank entries
// are dropped and duplicates collapse to their first occurrence. A nil or
// empty declaration yields nil (a leaf).
func ExtractDependencies(declared []string) []string {
	if len(declared) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(declared))
	out := make([]string, 0, len(declared))
	for _, name := range declared {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Dependents returns every workflow in order that transitively depends on
// name, in order position.
func Dependents(src Source, order []string, name string) []string {
	tainted := map[string]bool{name: true}
	var out []string
	for _, candidate := range order {
		if candidate == name {
			continue
		}
		deps, _ := src.Dependencies(candidate)
		for _, dep := range ExtractDependencies(deps) {
			if tainted[dep] {
				tainted[candidate] = true
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}
