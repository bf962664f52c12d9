// Package config loads server configuration from file, environment and
// defaults, in that order of increasing precedence for the environment.
package config
