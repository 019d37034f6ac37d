// Package common provides the data structures and utilities shared by the
// master and the slaves of an HA cluster. It defines the values exchanged
// over the wire, the Master interface both sides implement, configuration
// structures and the logger integration.
//
// The package focuses on:
//   - Protocol values (SlaveContext, LockResult, Response, TransactionStream)
//   - The Master interface implemented by the executor and the RPC client
//   - Configuration structures for server and client components
//   - Custom logging implementation integrated with Dragonboat
//
// Key Components:
//
//   - SlaveContext: Identifies one distributed operation of a slave by
//     (machine id, event id) and carries the last applied transaction id of
//     every resource of the slave. The master uses it to correlate requests and
//     to compute the transactions the slave is missing.
//
//   - Response: The typed result of a master operation together with the
//     transactions the slave has to apply before using the result. A failed
//     response carries no value.
//
//   - TransactionStream: A lazy, single pass sequence of transactions grouped
//     by resource and ascending by id within each resource.
//
//   - ServerConfig / ClientConfig: Configuration for server nodes (listener,
//     executor and Dragonboat membership settings) and for the RPC client
//     (timeouts, connect retries, idle pool size).
//
//   - Logger: Dragonboat logger factory backed by zap, giving all packages
//     the same output format.
package common
