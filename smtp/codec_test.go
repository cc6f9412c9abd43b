package smtp

import (
	"bytes"
	"strings"
	"testing"
)

// decodeAll feeds the wire bytes to the codec in chunks of the given size, collecting the body.
func decodeAll(t *testing.T, codec *DotCodec, wire []byte, chunkSize int) (body []byte, done bool) {
	t.Helper()
	pending := make([]byte, 0, len(wire))
	offset := 0
	for {
		consumed, chunk, finished := codec.Decode(pending)
		body = append(body, chunk...)
		pending = pending[consumed:]
		if finished {
			if len(pending) != 0 {
				t.Fatalf("leftover bytes after the terminator: %q", string(pending))
			}
			return body, true
		}
		if consumed > 0 {
			continue
		}
		if offset >= len(wire) {
			// The codec is waiting for bytes that will never arrive
			return body, false
		}
		end := offset + chunkSize
		if end > len(wire) {
			end = len(wire)
		}
		pending = append(pending, wire[offset:end]...)
		offset = end
	}
}

func TestDotCodec_Simple(t *testing.T) {
	codec := NewDotCodec()
	body, done := decodeAll(t, codec, []byte("hi\r\n.\r\n"), 1024)
	if !done {
		t.Fatal("did not finish")
	}
	if string(body) != "hi\r\n" {
		t.Fatalf("body %q", string(body))
	}
}

func TestDotCodec_DotStuffing(t *testing.T) {
	wire := []byte("..line1\r\n.line2 not last\r\n..\r\n.\r\n")
	want := ".line1\r\nline2 not last\r\n.\r\n"
	// The outcome must be identical no matter how the input is chunked
	for _, chunkSize := range []int{1, 2, 3, 5, 7, 1024} {
		codec := NewDotCodec()
		body, done := decodeAll(t, codec, wire, chunkSize)
		if !done {
			t.Fatal("did not finish with chunk size", chunkSize)
		}
		if string(body) != want {
			t.Fatalf("chunk size %d produced body %q", chunkSize, string(body))
		}
	}
}

func TestDotCodec_RoundTrip(t *testing.T) {
	bodies := []string{
		"",
		"a\r\n",
		".\r\n",
		"..\r\n",
		"one\r\ntwo\r\n",
		".leading dot\r\nplain\r\n",
		"bare\rcarriage\r\n",
		"lone\nlinefeed\r\n",
		strings.Repeat("x", 10000) + "\r\n",
	}
	for _, original := range bodies {
		wire := dotStuff([]byte(original))
		for _, chunkSize := range []int{1, 4, 4096} {
			codec := NewDotCodec()
			body, done := decodeAll(t, codec, wire, chunkSize)
			if !done {
				t.Fatalf("did not finish on %q with chunk size %d", original, chunkSize)
			}
			if string(body) != original {
				t.Fatalf("round trip of %q with chunk size %d produced %q", original, chunkSize, string(body))
			}
		}
	}
}

// dotStuff applies the sender-side transparency rules and appends the terminator.
func dotStuff(body []byte) []byte {
	var wire bytes.Buffer
	atLineStart := true
	for i := 0; i < len(body); i++ {
		if atLineStart && body[i] == '.' {
			wire.WriteByte('.')
		}
		wire.WriteByte(body[i])
		atLineStart = body[i] == '\n' && i > 0 && body[i-1] == '\r'
	}
	wire.WriteString(".\r\n")
	return wire.Bytes()
}

func TestDotCodec_LoneLFIsBody(t *testing.T) {
	codec := NewDotCodec()
	// "\n.\r\n" must not be treated as end of data because the LF does not begin a new line
	body, done := decodeAll(t, codec, []byte("a\n.b\r\n.\r\n"), 1024)
	if !done {
		t.Fatal("did not finish")
	}
	if string(body) != "a\n.b\r\n" {
		t.Fatalf("body %q", string(body))
	}
}

func TestDotCodec_WaitsOnPartialCR(t *testing.T) {
	codec := NewDotCodec()
	consumed, body, done := codec.Decode([]byte("abc\r"))
	if done {
		t.Fatal("finished unexpectedly")
	}
	if consumed != 3 || string(body) != "abc" {
		t.Fatal(consumed, string(body))
	}
	// The CR pairs up with the LF of the next read
	consumed, body, done = codec.Decode([]byte("\r\ndef\r\n.\r\n"))
	if !done {
		t.Fatal("did not finish")
	}
	if consumed != 10 || string(body) != "\r\ndef\r\n" {
		t.Fatal(consumed, string(body))
	}
}

func TestDotCodec_WaitsOnLineStartDot(t *testing.T) {
	codec := NewDotCodec()
	consumed, body, done := codec.Decode([]byte("."))
	if consumed != 0 || len(body) != 0 || done {
		t.Fatal(consumed, string(body), done)
	}
	consumed, body, done = codec.Decode([]byte(".\r"))
	if consumed != 0 || len(body) != 0 || done {
		t.Fatal(consumed, string(body), done)
	}
	consumed, body, done = codec.Decode([]byte(".\r\n"))
	if consumed != 3 || len(body) != 0 || !done {
		t.Fatal(consumed, string(body), done)
	}
}
