// Package main hosts the promptloom CLI entrypoint and command graph.
//
// The Cobra-based command tree resolves the project directory and its
// promptloom.toml once, then hands off to the internal packages: pipeline
// for run and status, project for workflow scaffolding, convcache for cache
// maintenance, history for past runs, and preflight for doctor.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
