// Package config loads the gateway configuration from an optional YAML file,
// .env files and the process environment, and validates the settings that
// must be present before the HTTP listener starts.
package config
