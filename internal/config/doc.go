// Package config loads the daemon configuration from a JSON or YAML file and
// fills in defaults for everything left unset.
package config
