// Package config defines the tunable knobs of the monitoring core and
// loads them from YAML or JSON files.
//
// All fields have working defaults; a zero-effort caller can use
// Default() and never touch a file. Loaded configs are validated
// before use so misconfiguration fails at startup, not mid-run.
package config
