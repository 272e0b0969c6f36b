// Package config provides gateway configuration loaded from defaults, an
// optional YAML file, and environment variable overrides.
package config
