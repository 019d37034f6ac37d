package transport

import (
	"net"

	"github.com/ValentinKolb/dHA/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc handles one request frame received on the connection
// connID. Returning an error closes the connection without a response.
type ServerHandleFunc func(connID string, req []byte) (resp []byte, err error)

// DisconnectFunc is called once for every connection after it was closed
type DisconnectFunc func(connID string)

// BlockingFunc reports whether handling req may wait for other requests,
// e.g. for a lock held by another connection. Such requests are not counted
// against the worker limit, so the requests they wait for can still run.
type BlockingFunc func(req []byte) bool

// IRPCServerTransport is the interface for the server side of a transport
type IRPCServerTransport interface {
	// RegisterHandler registers the handler for incoming frames
	RegisterHandler(handler ServerHandleFunc)
	// RegisterDisconnectHandler registers the callback for closed connections
	RegisterDisconnectHandler(fn DisconnectFunc)
	// RegisterBlockingFunc registers the classifier of blocking requests
	RegisterBlockingFunc(fn BlockingFunc)
	// Listen binds the endpoint of the config and serves connections until Close is called
	Listen(config common.ServerConfig) error
	// Addr blocks until the listener is bound and returns its address (nil if binding failed)
	Addr() net.Addr
	// Close stops the listener and closes all connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// Channel is one connection to the server. It must not be used concurrently.
type Channel interface {
	// ID returns a unique identifier of the channel
	ID() string
	// RoundTrip sends a request frame and blocks until the response frame
	// arrives or the timeout elapses. Every error breaks the channel.
	RoundTrip(req []byte) (resp []byte, err error)
	// Broken reports whether the channel failed and must not be reused
	Broken() bool
	// Close closes the connection
	Close() error
}

// IRPCClientTransport is the interface for the client side of a transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Acquire returns an idle channel or opens a new one
	Acquire() (Channel, error)
	// Release returns a channel to the idle pool, broken channels are closed
	Release(ch Channel)
	// Close closes all idle channels, channels in use are closed on release
	Close() error
}
