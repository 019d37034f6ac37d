// Package ha ties the replication protocol together on every machine of the
// cluster. A machine is either master, then it serves the in-process
// executor, or slave, then it talks to the master over RPC. The rest of the
// database only sees the Broker and the Slave.
//
// Key Components:
//
//   - Broker: Resolves the master through the membership service and caches
//     it until InvalidateMaster is called, e.g. after a communication failure.
//
//   - Slave: Creates slave transactions, allocates ids and relationship types
//     and pulls updates. Every response of the master is applied to the local
//     transaction logs by the Applier before its value is used.
//
//   - SlaveTransaction: Sends all requests of one local transaction with the
//     same event id on one session. Locks are delegated to the master until it
//     answers OK_LOCKED or DEAD_LOCKED, then taken locally as well.
//
//   - SlaveIdGenerator: Hands out ids from batches granted by the master.
//
//   - UpdatePuller, CopyStore, CheckBranchedData: Keep the local store in
//     sync with the master.
package ha
