// Package pipeline runs a workflow and everything it depends on, skipping
// work whose recorded result is still valid.
//
// Executor.Run resolves the dependency order, then visits each workflow in
// turn. For every workflow the configuration scope moves from the project
// baseline to baseline-plus-overrides and back, so no workflow sees another
// workflow's settings. Stale workflows are handed to a Runner; a successful
// run is committed to the execution log only after its output exists. A
// failed workflow blocks its dependents while independent workflows still
// run. Cancellation stops the pipeline without recording the in-flight
// workflow.
package pipeline
