// Package config loads, normalizes, and validates Conduit's TOML
// configuration. Defaults are embedded so a missing config file still
// yields a runnable daemon.
package config
