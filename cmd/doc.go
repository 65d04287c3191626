// Package cmd implements the command-line interface of objgraph. It writes
// the demo object graphs to stream files, reads them back and inspects
// streams without a registry.
//
// The package is organized into several subpackages:
//
//   - stream: Commands working on stream files (write, read, inspect, copy, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See objgraph -help for a list of all commands.
package cmd
