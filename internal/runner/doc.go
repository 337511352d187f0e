// Package runner executes a single workflow against the hosted model API.
//
// A run assembles the task text, tracked context and input files, and the
// outputs of dependency workflows into one chat completion request. Office
// documents and images pass through the conversion cache first; when a
// conversion tool is missing the file is left out with a warning. The reply
// is written atomically to the workflow's output path.
package runner
