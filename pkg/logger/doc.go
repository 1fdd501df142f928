// Package logger builds the structured loggers used across the proxy pool.
// Production environments log JSON, everything else logs text; every record
// carries the environment, and WithComponent tags records with the part of
// the engine that wrote them.
package logger
