// Package rpc implements the communication between the slaves of an HA
// cluster and its master. Every slave operation that needs the master (locks,
// id allocation, commits, pulls, store copies) is one request/response
// exchange, and every response carries the transactions the slave is missing.
//
// The package is organized into several subpackages:
//
//   - common: Types shared by client and server, including the slave
//     context, responses, transaction streams, configuration and logging.
//
//   - serializer: Big endian primitives and codecs of the wire format
//     (strings, block chunks, lock results, id allocations, tx streams).
//
//   - protocol: The catalog of request types and the framing of request and
//     response payloads.
//
//   - transport: Length prefixed frames over pluggable connections (TCP,
//     Unix sockets).
//
//   - client: The slave side, sessions that own a connection for the
//     duration of a distributed operation.
//
//   - server: The master side, the request executor and the RPC server.
package rpc
