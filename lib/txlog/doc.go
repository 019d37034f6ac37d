// Package txlog provides per-resource transaction logs. Every data source of
// the database (e.g. "neostore" for the graph store) owns one log. Committed
// transactions get strictly ascending ids without gaps, starting at 1.
//
// Each entry also records the machine id of the master that committed it.
// Slaves use this to verify that their history did not branch off the
// history of the current master.
//
// Two implementations exist:
//
//   - memoryLog: keeps all entries in memory, used by tests and in-process setups
//   - badgerLog: stores entries in a BadgerDB instance shared by all logs of a
//     node, so the history survives restarts
//
// Logs of one node are grouped in a Registry, which opens logs lazily.
package txlog
