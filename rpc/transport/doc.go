// Package transport defines the interfaces for the connections between slaves
// and the master. A transport moves opaque, length prefixed frames, the
// content of the frames is defined by the protocol package.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Strictly sequential request/response exchanges per connection
//   - Enabling multiple transport implementations (TCP, Unix sockets)
//
// Key Components:
//
//   - IRPCClientTransport: Client side, hands out Channels (one connection
//     each) and keeps released channels in a bounded idle pool.
//
//   - Channel: A single connection with a blocking RoundTrip.
//
//   - IRPCServerTransport: Server side, accepts connections, calls the
//     registered handler for every frame and reports closed connections.
package transport
