// Package config loads and validates the gateway's startup
// configuration file and provides SafeConfig, a concurrency-safe
// read view for services started in different goroutines.
package config
