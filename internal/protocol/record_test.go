package protocol_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadrunner-server/phpbridge/internal/protocol"
)

func TestWriteRequestRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		op      protocol.ForwardOp
		payload string
	}{
		{"empty", protocol.OpNObjects, ""},
		{"const", protocol.OpConst, "PHP_INT_SIZE"},
		{"aligned", protocol.OpCall, "a 234567"},
		{"unicode", protocol.OpCallEcho, "[\"héllo wörld\"]"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, protocol.WriteRequest(&buf, tc.op, tc.payload))
			assert.Zero(t, buf.Len()%8, "record size must be 8-byte aligned")

			raw := buf.Bytes()
			assert.Equal(t, uint32(tc.op), binary.LittleEndian.Uint32(raw[0:4]))
			n := int(binary.LittleEndian.Uint32(raw[4:8]))
			assert.Equal(t, []byte(tc.payload), raw[8:8+n])
		})
	}
}

func TestReadReplyNullUndefined(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	reply, err := protocol.ReadReply(&buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindNull, reply.Kind)

	buf.Reset()
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0})
	reply, err = protocol.ReadReply(&buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindUndefined, reply.Kind)
}

func TestReadReplyResultAndReverseRequest(t *testing.T) {
	// WriteRequest always encodes a non-negative length in the request
	// shape; synthesize result- and reverse-request-shaped records by hand
	// to exercise ReadReply's other two branches.
	var buf bytes.Buffer
	payload := []byte(`42`)
	header := make([]byte, 8)
	header[0] = byte(len(payload))
	buf.Write(header)
	buf.Write(payload)
	buf.Write(make([]byte, protocolPadding(len(payload))))

	reply, err := protocol.ReadReply(&buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindResult, reply.Kind)
	assert.Equal(t, payload, reply.Payload)

	// reverse request: length = -6, handle id = 7, payload = "CLASS_"
	buf.Reset()
	rpayload := []byte("CLASS_")
	rheader := make([]byte, 8)
	rheader[0] = byte(0xFF & (256 - len(rpayload)))
	rheader[1] = 0xFF
	rheader[2] = 0xFF
	rheader[3] = 0xFF
	rheader[4] = 7
	buf.Write(rheader)
	buf.Write(rpayload)
	buf.Write(make([]byte, protocolPadding(len(rpayload))))

	reply, err = protocol.ReadReply(&buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindReverseRequest, reply.Kind)
	assert.Equal(t, int32(7), reply.HandleID)
	assert.Equal(t, rpayload, reply.Payload)
}

func protocolPadding(n int) int {
	return (8 - (n % 8)) % 8
}
