// Package tcp implements the TCP transport between slaves and the master. It
// provides the TCP specific connectors for the base transport, which holds
// the framing, pooling and retry logic.
//
// Key Components:
//
//   - clientConnector: Dials with a bounded timeout and applies the socket
//     settings of the client config (no delay, buffers, keep alive, linger)
//
//   - serverConnector: Creates the TCP listener and disables Nagle's
//     algorithm on accepted connections
//
// The default server buffer size is set to 512 KB, larger requests get a
// dedicated buffer.
package tcp
