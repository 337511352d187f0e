// Package llm provides an OpenRouter-compatible chat completion client used to
// execute workflows.
//
// A Request carries the resolved execution settings (model, sampling
// parameters, token limit), an optional system prompt, and an ordered list of
// content parts: plain text, images (as data URLs), and PDF documents (as
// file parts). Complete returns the assistant text.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, empty completions, and
// network timeouts with exponential backoff (base 1s, max 10s, up to 5
// attempts by default). Retry-After headers are honoured up to the maximum
// delay. Context cancellation aborts retries immediately.
package llm
