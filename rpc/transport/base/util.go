package base

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/ValentinKolb/dHA/rpc/common"
)

// frameHeaderSize is the size of the length prefix
const frameHeaderSize = 4

// writeFrame writes a frame to the connection with the format:
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, data []byte, maxFrameSize int) error {
	if len(data) > maxFrameSize {
		return common.ProtocolErrorf("frame of %d bytes exceeds maximum of %d bytes", len(data), maxFrameSize)
	}

	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer
// If the buffer is too small, it will allocate a new buffer for the data
func readFrame(conn net.Conn, buf []byte, maxFrameSize int) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil, err
	}

	contentLength := binary.BigEndian.Uint32(header[:])
	if uint64(contentLength) > uint64(maxFrameSize) {
		return nil, common.ProtocolErrorf("frame of %d bytes exceeds maximum of %d bytes", contentLength, maxFrameSize)
	}

	// If no data, return empty slice
	if contentLength == 0 {
		return []byte{}, nil
	}

	// Check if buffer is large enough for data
	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}

	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return nil, err
	}
	return buf[:contentLength], nil
}

// maxFrame returns the configured frame limit or the default
func maxFrame(configured int) int {
	if configured <= 0 {
		return common.DefaultMaxFrameSize
	}
	return configured
}
