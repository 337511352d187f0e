// Package project maps a promptloom project directory onto workflows.
//
// A project root holds run/<name>/ directories (one per workflow, each with a
// task file and an optional TOML config), the output/ directory where the
// latest artifact of every workflow lands, and cache/ for conversion
// artifacts and run history. Index loads every workflow once per invocation
// and implements graph.Source so the resolver never touches disk itself.
package project
