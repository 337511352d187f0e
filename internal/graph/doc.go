// Package graph resolves the workflow dependency graph into an execution
// order.
//
// ResolveOrder walks dependencies depth-first with an explicit stack and
// three-state coloring, emitting every workflow after all of its
// dependencies. Structural problems surface as typed errors: *CycleError
// carries the full cycle path and *MissingDependencyError names the unknown
// workflow and the workflow that referenced it.
package graph
