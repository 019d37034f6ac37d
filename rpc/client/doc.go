// Package client implements the slave side of the HA protocol. It provides an
// implementation of common.Master that forwards every operation to the master
// via the configured transport.
//
// Key Components:
//
//   - NewMasterClient: Factory function that connects a client transport to
//     the master. The client offers the context free operations (ALLOCATE_IDS,
//     GET_MASTER_ID_FOR_TX) directly.
//
//   - Session: Owns one connection for the lifetime of a slave operation. The
//     connection is taken from the idle pool on the first call and returned on
//     FinishTransaction or Close. All requests of a slave context must use the
//     same session, since the master rolls back the context when its
//     connection closes.
//
// Usage Example:
//
//	c, _ := client.NewMasterClient(common.DefaultClientConfig("master:6361"), tcp.NewTCPClientTransport())
//	s := c.Session()
//	defer s.Close()
//
//	resp, err := s.AcquireNodeWriteLock(sc, 42)
//	if err != nil {
//	  // communication failure, the master has to be resolved again
//	}
//	// apply resp.Transactions() before using the result
//	result, _ := resp.Get()
//
// Calls have no side effects on the slave. The transactions of a response are
// decoded lazily and have to be applied by the caller.
package client
