// Package unix implements the transport between slaves and the master over
// Unix domain sockets, for machines sharing a host (mostly tests and local
// clusters). It extends the base transport with Unix socket connectors and
// inherits framing, pooling and retry logic from it.
package unix
