package smtp

import (
	"net"
	"time"
)

// readChunkBytes is the size of the scratch buffer of one read from the peer.
const readChunkBytes = 4096

/*
LineReader feeds the session input buffer from the connection, one read at a time, under the
per-command deadline. It deliberately performs no buffering of its own: every byte it reads goes
straight into the session input buffer, so an in-place TLS upgrade can never leave readahead
bytes stranded in an intermediate buffer.
*/
type LineReader struct {
	conn    *TLSCapableConn
	timeout time.Duration
	scratch [readChunkBytes]byte
}

// NewLineReader returns a reader over the connection with the given per-read timeout.
func NewLineReader(conn *TLSCapableConn, timeout time.Duration) *LineReader {
	return &LineReader{conn: conn, timeout: timeout}
}

/*
ReadChunk reads whatever bytes the peer has sent, up to the scratch buffer size, and returns a
copy. It blocks until at least one byte arrives, the deadline passes, or the connection fails.
*/
func (reader *LineReader) ReadChunk() ([]byte, error) {
	if reader.timeout > 0 {
		if err := reader.conn.SetReadDeadline(time.Now().Add(reader.timeout)); err != nil {
			return nil, err
		}
	}
	n, err := reader.conn.Read(reader.scratch[:])
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, reader.scratch[:n])
		return chunk, err
	}
	return nil, err
}

// IsTimeout returns true if the read error is a deadline expiry.
func IsTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}
