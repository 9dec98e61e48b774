package fastcgi

import (
	"bytes"
	"context"
	"io"
	"net"
	"time"

	"github.com/roadrunner-server/errors"
)

const op = errors.Op("fastcgi_client")

// Response is what a FastCGI request yields: combined stdout, stderr, and
// the application exit status reported in the END_REQUEST record.
type Response struct {
	Body      []byte
	Stderr    []byte
	AppStatus uint32
}

// OnResponse, if set, is invoked with incremental stdout chunks as they
// arrive, mirroring a php_fpm.onresponse callback.
type OnResponse func(chunk []byte)

// Request describes one FastCGI request/response exchange.
type Request struct {
	Params     map[string]string
	Body       io.Reader
	OnResponse OnResponse
}

// Do dials address on network ("tcp" with "host:port", or "unix" with a
// socket path), performs one FastCGI request, and returns the aggregated
// response. It honors
// connectTimeout for the dial only; the exchange itself respects ctx.
func Do(ctx context.Context, network, address string, connectTimeout time.Duration, req Request) (*Response, error) {
	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.E(op, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	const requestID = 1
	if err := sendRequest(conn, requestID, req); err != nil {
		return nil, errors.E(op, err)
	}

	return readResponse(conn, requestID, req.OnResponse)
}

func sendRequest(w io.Writer, requestID uint16, req Request) error {
	begin := make([]byte, 8)
	begin[0] = 0
	begin[1] = roleResponder
	begin[2] = flagKeepConn
	if err := WriteRecord(w, Record{Type: typeBeginRequest, RequestID: requestID, Content: begin}); err != nil {
		return err
	}

	paramBytes := EncodeParams(req.Params)
	if err := writeChunked(w, typeParams, requestID, paramBytes); err != nil {
		return err
	}
	if err := WriteRecord(w, Record{Type: typeParams, RequestID: requestID}); err != nil {
		return err
	}

	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		if err := writeChunked(w, typeStdin, requestID, body); err != nil {
			return err
		}
	}
	return WriteRecord(w, Record{Type: typeStdin, RequestID: requestID})
}

// writeChunked splits data into <=65535-byte FastCGI records, since
// ContentLength is a 16-bit field.
func writeChunked(w io.Writer, recType uint8, requestID uint16, data []byte) error {
	const maxChunk = 65535
	for len(data) > 0 {
		n := len(data)
		if n > maxChunk {
			n = maxChunk
		}
		if err := WriteRecord(w, Record{Type: recType, RequestID: requestID, Content: data[:n]}); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func readResponse(r io.Reader, requestID uint16, onResponse OnResponse) (*Response, error) {
	var stdout, stderr bytes.Buffer
	resp := &Response{}

	for {
		rec, err := ReadRecord(r)
		if err != nil {
			return nil, errors.E(op, err)
		}
		if rec.RequestID != requestID && rec.RequestID != 0 {
			continue
		}

		switch rec.Type {
		case typeStdout:
			if len(rec.Content) > 0 {
				stdout.Write(rec.Content)
				if onResponse != nil {
					onResponse(rec.Content)
				}
			}
		case typeStderr:
			stderr.Write(rec.Content)
		case typeEndRequest:
			end := UnmarshalEndRequest(rec.Content)
			if end != nil {
				resp.AppStatus = end.AppStatus
			}
			resp.Body = stdout.Bytes()
			resp.Stderr = stderr.Bytes()
			return resp, nil
		}
	}
}

// EndRequestBody is the decoded content of an END_REQUEST record.
type EndRequestBody struct {
	AppStatus      uint32
	ProtocolStatus uint8
}

// UnmarshalEndRequest decodes an END_REQUEST record's content.
func UnmarshalEndRequest(data []byte) *EndRequestBody {
	if len(data) < 8 {
		return nil
	}
	return &EndRequestBody{
		AppStatus:      uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]),
		ProtocolStatus: data[4],
	}
}
