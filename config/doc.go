// Package config loads the proxy pool configuration from an optional .env
// file, a YAML file and environment variables, in increasing precedence.
// It defines the server, logging, database, feed, prober, scheduler,
// selection and metrics sections and converts them into the configuration
// structs each component expects.
package config
