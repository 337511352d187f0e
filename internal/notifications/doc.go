// Package notifications delivers pipeline events via ntfy.
//
// The ntfy implementation publishes to the topic URL configured under
// [notifications] in promptloom.toml and degrades to a no-op when no topic is
// set. Callers depend only on the Service interface.
package notifications
