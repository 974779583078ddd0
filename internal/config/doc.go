// Package config binds the cachenode and cacheproxy command-line flags
// (cobra/pflag) to typed configuration structs. Getenv supplies the default
// of the host and db flags from an environment variable; the other flags
// use fixed defaults.
package config
