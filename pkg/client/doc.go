// Package client is the typed HTTP client the CLI uses to drive a running
// dlqueue daemon. Reads are retried on transient failures; writes are sent
// once.
package client
