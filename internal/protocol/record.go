// Package protocol implements the framed wire protocol carried on the
// bridge's control channel: record encoding/decoding, the forward and
// reverse opcode sets, and the reference-sentinel key literals.
package protocol

import (
	"encoding/binary"
	"io"
	"strconv"

	"github.com/roadrunner-server/errors"
)

// Reference sentinel keys. Any JSON object whose sole meaningful key
// matches one of these names a cross-runtime handle instead of a plain
// value.
const (
	HandleIDKey = "DENO_WORLD_INST_ID"
	InstIDKey   = "PHP_WORLD_INST_ID"
)

// StdoutSentinelLen is the fixed length, in bytes, of the random delimiter
// PHP writes to its own stdout in response to END_STDOUT.
const StdoutSentinelLen = 32

// HandshakeKeyLen is the fixed length, in bytes, of the random value that
// authenticates the inbound control socket.
const HandshakeKeyLen = 32

// ResultKind distinguishes the three shapes a decoded PHP->host record can
// take.
type ResultKind int

const (
	// KindNull is the JSON-null sentinel (payload_length == 0).
	KindNull ResultKind = iota
	// KindUndefined is the JSON-undefined sentinel (payload_length == -1).
	KindUndefined
	// KindResult carries a non-empty UTF-8 result payload.
	KindResult
	// KindReverseRequest carries a reverse request targeting a host handle.
	KindReverseRequest
)

// Reply is one decoded record read from the control channel in the
// PHP->host direction.
type Reply struct {
	Kind     ResultKind
	Payload  []byte // valid for KindResult and KindReverseRequest
	HandleID int32  // valid for KindReverseRequest only
}

const op = errors.Op("protocol")

// padding returns the number of zero bytes needed so that n+padding is a
// multiple of 8.
func padding(n int) int {
	return (8 - (n % 8)) % 8
}

// WriteRequest encodes a forward request (opcode, payload) and writes it to
// w as a single length-prefixed, 8-byte-aligned record. Partial writes are
// retried until the whole record has been written or an error occurs.
func WriteRequest(w io.Writer, code ForwardOp, payload string) error {
	body := []byte(payload)
	pad := padding(len(body))

	buf := make([]byte, 8+len(body)+pad)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(code))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[8:8+len(body)], body)
	// buf[8+len(body):] is left zeroed; padding bytes are unspecified.

	return writeFull(w, buf)
}

func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return errors.E(op, err)
		}
		buf = buf[n:]
	}
	return nil
}

// ReadReply reads one PHP->host record from r: a result, the null/undefined
// sentinels, or a reverse request.
func ReadReply(r io.Reader) (Reply, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Reply{}, errors.E(op, err)
	}

	length := int32(binary.LittleEndian.Uint32(header[0:4]))
	aux := int32(binary.LittleEndian.Uint32(header[4:8]))

	switch length {
	case 0:
		return Reply{Kind: KindNull}, nil
	case -1:
		return Reply{Kind: KindUndefined}, nil
	}

	absLen := int(length)
	if absLen < 0 {
		absLen = -absLen
	}

	pad := padding(absLen)
	buf := make([]byte, absLen+pad)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Reply{}, errors.E(op, err)
	}
	payload := buf[:absLen]

	if length > 0 {
		return Reply{Kind: KindResult, Payload: payload}, nil
	}
	return Reply{Kind: KindReverseRequest, Payload: payload, HandleID: aux}, nil
}

// WriteData encodes a DATA reply (the host's answer to a reverse request)
// and writes it as a forward-shaped record: opcode DATA, payload
// "<flags> <body>".
func WriteData(w io.Writer, flags DataFlag, body string) error {
	return WriteRequest(w, OpData, encodeDataPayload(flags, body))
}

func encodeDataPayload(flags DataFlag, body string) string {
	return strconv.FormatUint(uint64(flags), 10) + " " + body
}
