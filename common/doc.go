// Package common holds the configuration structures and the logging setup
// shared by the transport layer, the typed client and the CLI.
//
// Key Components:
//
//   - ClientConfig: all tunables of a client (endpoints, credentials,
//     timeouts, pool sizing, reconnect policy) with a formatted String()
//     representation for startup logging
//
//   - CreateLogger / InitLoggers: the logger factory producing the custom
//     formatted loggers used across all packages
package common
