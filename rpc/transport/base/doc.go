// Package base provides the transport implementation shared by all network
// protocols (TCP, Unix sockets). Protocol specific behavior is injected with
// the IClientConnector and IServerConnector interfaces.
//
// Frames:
//
//	[4 byte length, big endian][payload]
//
// Frames larger than the configured maximum (16 MiB by default) are rejected
// in both directions and the connection is closed.
//
// Key Components:
//
//   - clientTransport: Opens connections with a bounded number of attempts
//     and a fixed pause between them. Released connections are kept in an
//     idle pool of bounded size and checked before they are handed out again.
//
//   - serverTransport: Accepts connections and serves each of them in its own
//     goroutine. Requests of one connection are handled strictly in order. A
//     global semaphore bounds the number of requests executed at once.
//
// Thread Safety:
//
//	Transports are safe for concurrent use. A single Channel belongs to one
//	caller at a time.
package base
