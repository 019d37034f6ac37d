// Package cmd implements the command-line interface of dHA. It provides a
// hierarchical command structure for running a machine of an HA cluster and
// for invoking operations on a running master.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a machine (transaction logs, master executor, membership, slave)
//   - master: Client commands for a running master (ids, master-id, copy-store)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dha -help for a list of all commands.
package cmd
