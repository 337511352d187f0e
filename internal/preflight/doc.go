// Package preflight provides readiness checks for the project directory,
// workflow definitions, conversion tools, and the model API.
//
// The "promptloom doctor" command runs every check and prints the results.
// Conversion tools are optional; their absence is reported but does not fail
// the doctor run.
package preflight
