// Package config loads application configuration from built-in defaults,
// an optional YAML file, and AUDITTRAIL_* environment variables, in that
// order of precedence.
package config
