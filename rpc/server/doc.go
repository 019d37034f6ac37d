// Package server implements the master side of the HA protocol. It executes
// the requests of all slaves against the master's lock manager, id generator,
// relationship type tokens and transaction logs, and serves them over an RPC
// transport.
//
// Key Components:
//
//   - MasterImpl: The request executor. It implements common.Master and keeps
//     one unit of work per slave context (machine id, event id). Locks taken
//     for a context live in its unit of work until the context commits,
//     finishes, or its connection closes. Every response carries the
//     transactions the slave is missing according to the last applied ids of
//     its context.
//
//   - IRPCServerAdapter: Translates request frames into calls on the master.
//     NewMasterServerAdapter decodes requests with the protocol catalog and
//     encodes the replies.
//
//   - NewRPCServer: Binds a master to a server transport (tcp or unix).
//
//   - NewLogStoreSource: Exposes the transaction logs as store files for
//     COPY_STORE.
//
// Usage Example:
//
//	config := common.DefaultServerConfig()
//	master := server.NewMaster(config, txlog.NewMemoryRegistry(), nil)
//
//	s := server.NewRPCServer(config, tcp.NewTCPDefaultServerTransport(), master)
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// A failed response has no representation on the wire. The master logs the
// cause and closes the connection, the slave observes a communication failure.
//
// Thread Safety:
//
//	The executor is safe for concurrent requests of different contexts.
//	Requests of one context arrive on one connection and are processed in
//	order. The Serve method should be called only once.
package server
