// Package protocol defines the catalog of request types spoken between slaves
// and the master. Each RequestType is a static entry holding its wire ordinal,
// whether the request carries a SlaveContext, and the function executing the
// request against a common.Master on the receiving side.
//
// The catalog is append-only: ordinals are the wire discriminator and must
// never be reordered or reused. New request types are added at the end.
//
// Request payload:
//
//	[1 byte ordinal][SlaveContext if IncludesSlaveContext][body]
//
// Response payload:
//
//	[value][transaction stream section]
//
// COPY_STORE is the only request type without a transaction stream section,
// its value is the list of store files terminated by an empty path.
package protocol
