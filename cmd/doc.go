// Package cmd implements the command-line interface of the goTNT database
// client. It provides a hierarchical command structure for interacting with
// a server over the binary protocol.
//
// The package is organized into several subpackages:
//
//   - box: Commands for database operations (ping, call, eval, select,
//     insert, delete) and a performance testing tool
//   - util: Shared utilities for command-line processing and configuration
//     (internal use)
//
// See gotnt -help for a list of all commands.
package cmd
