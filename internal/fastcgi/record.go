// Package fastcgi implements the minimal subset of the FastCGI protocol the
// bridge's FastCGI transport needs to act as a *client*: the standard
// library's net/http/fcgi only implements the server side, so this record
// codec follows the same RFC-compatible FastCGI 1.0 record layout but
// written the other way around.
package fastcgi

import (
	"encoding/binary"
	"io"

	"github.com/roadrunner-server/errors"
)

const (
	version1 = 1

	typeBeginRequest = 1
	typeAbortRequest = 2
	typeEndRequest   = 3
	typeParams       = 4
	typeStdin        = 5
	typeStdout       = 6
	typeStderr       = 7

	roleResponder = 1

	flagKeepConn = 1

	headerLen = 8
)

// Record is one FastCGI protocol record.
type Record struct {
	Type      uint8
	RequestID uint16
	Content   []byte
}

func padding(n int) int {
	return (8 - (n % 8)) % 8
}

// WriteRecord writes rec to w, computing and appending padding.
func WriteRecord(w io.Writer, rec Record) error {
	const op = errors.Op("fastcgi_write_record")
	pad := padding(len(rec.Content))

	header := make([]byte, headerLen)
	header[0] = version1
	header[1] = rec.Type
	binary.BigEndian.PutUint16(header[2:4], rec.RequestID)
	binary.BigEndian.PutUint16(header[4:6], uint16(len(rec.Content)))
	header[6] = uint8(pad)
	header[7] = 0

	if _, err := w.Write(header); err != nil {
		return errors.E(op, err)
	}
	if len(rec.Content) > 0 {
		if _, err := w.Write(rec.Content); err != nil {
			return errors.E(op, err)
		}
	}
	if pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return errors.E(op, err)
		}
	}
	return nil
}

// ReadRecord reads one record from r.
func ReadRecord(r io.Reader) (Record, error) {
	const op = errors.Op("fastcgi_read_record")

	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Record{}, errors.E(op, err)
	}

	rec := Record{
		Type:      header[1],
		RequestID: binary.BigEndian.Uint16(header[2:4]),
	}
	contentLen := binary.BigEndian.Uint16(header[4:6])
	padLen := header[6]

	if contentLen > 0 {
		rec.Content = make([]byte, contentLen)
		if _, err := io.ReadFull(r, rec.Content); err != nil {
			return Record{}, errors.E(op, err)
		}
	}
	if padLen > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(padLen)); err != nil {
			return Record{}, errors.E(op, err)
		}
	}
	return rec, nil
}

// EncodeParams encodes a FastCGI name/value pair stream (FCGI_PARAMS
// content), using the short (<=127 byte) or long length form per name and
// value as required by the protocol.
func EncodeParams(params map[string]string) []byte {
	var out []byte
	for k, v := range params {
		out = appendLen(out, len(k))
		out = appendLen(out, len(v))
		out = append(out, k...)
		out = append(out, v...)
	}
	return out
}

func appendLen(dst []byte, n int) []byte {
	if n <= 127 {
		return append(dst, byte(n))
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n)|0x80000000)
	return append(dst, buf[:]...)
}
