package server

// IRPCServerAdapter is the interface for all RPC server adapters
// It translates request frames into calls on the master
type IRPCServerAdapter interface {
	// Handle decodes a request received on the connection, executes it and
	// returns the encoded response. An error means that no response can be
	// written, the transport closes the connection.
	Handle(connID string, req []byte) (resp []byte, err error)

	// Disconnected is called once after the connection was closed
	Disconnected(connID string)
}
