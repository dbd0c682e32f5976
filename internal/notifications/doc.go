// Package notifications delivers pipeline lifecycle push notifications via
// ntfy. The service is a noop when no topic is configured, and individual
// event classes can be toggled off in configuration.
package notifications
