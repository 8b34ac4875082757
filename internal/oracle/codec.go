package oracle

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageBytes bounds a single message; larger length prefixes mean the
// stream is out of sync.
const maxMessageBytes = 64 * 1024 * 1024

// writeMessage writes v as msgpack preceded by its 4-byte big-endian length.
func writeMessage(w io.Writer, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v interface{}) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return fmt.Errorf("failed to read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageBytes {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
