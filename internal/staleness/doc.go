// Package staleness decides whether a workflow's last recorded run is still
// valid.
//
// The execution hash is one SHA-256 over the hash-participating settings,
// the task file, every tracked context and input file, and the recorded
// output hash of each dependency. A cheap mtime-based fast path may confirm
// freshness without reading file contents; anything it cannot prove falls
// back to recomputing the hash.
package staleness
