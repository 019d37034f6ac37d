// Package serializer implements the binary wire format shared by master and
// slaves. All integers are big endian with a fixed width, strings are
// written as a 4 byte count of UTF-16 code units followed by the units.
//
// Key Components:
//
//   - Writer / Reader: Append-only encoder and bounds checked decoder for the
//     primitive types of the protocol.
//
//   - Block encoding: Arbitrary payloads (transaction data, store files) are
//     split into chunks of up to 255 bytes. Every chunk is prefixed by a header
//     byte, 0 marks a full chunk that is followed by more chunks, n > 0 marks
//     the last chunk holding n bytes. Empty payloads can not be encoded.
//
//   - Codecs: SlaveContext, IdAllocation, LockResult, id lists and the
//     transaction stream section that terminates every response.
//
// Transaction stream section:
//
//	[1 byte N][N resource names]
//	repeated: [1 byte resource index, 1-based][8 byte tx id][block encoded data]
//	[1 byte 0] end marker
//
// Decoding errors wrap common.ErrProtocol. They are fatal for the connection
// the payload was read from.
package serializer
