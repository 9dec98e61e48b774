package dispatch_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadrunner-server/phpbridge/internal/dispatch"
	"github.com/roadrunner-server/phpbridge/internal/handle"
	"github.com/roadrunner-server/phpbridge/internal/protocol"
)

// fakeChannel lets a test script canned PHP-side bytes as the read side
// while capturing everything the dispatcher writes.
type fakeChannel struct {
	r       *bytes.Buffer
	written bytes.Buffer
}

func (f *fakeChannel) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *fakeChannel) Write(p []byte) (int, error) { return f.written.Write(p) }

func resultRecord(t *testing.T, body string) []byte {
	t.Helper()
	payload := []byte(body)
	pad := (8 - (len(payload) % 8)) % 8
	header := make([]byte, 8)
	header[0] = byte(len(payload))
	buf := append(header, payload...)
	return append(buf, make([]byte, pad)...)
}

func TestDoDecodesPlainResult(t *testing.T) {
	ch := &fakeChannel{r: bytes.NewBuffer(resultRecord(t, "8"))}
	reg := handle.New(nil, "bridge", "global")
	d := dispatch.New(ch, reg, nil, nil)

	v, err := d.Do(context.Background(), protocol.OpConst, "PHP_INT_SIZE")
	require.NoError(t, err)
	assert.EqualValues(t, 8, v)
}

func TestDoServesReverseCallThenReturnsResult(t *testing.T) {
	// reverse request: opcode ROpCall(15), args ["greet", []]
	reverse := []byte(`[15,"greet",[]]`)
	pad := (8 - (len(reverse) % 8)) % 8
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(-int32(len(reverse))))
	binary.LittleEndian.PutUint32(header[4:8], 0) // handle id 0 (bridge)
	var stream bytes.Buffer
	stream.Write(header)
	stream.Write(reverse)
	stream.Write(make([]byte, pad))
	stream.Write(resultRecord(t, `"done"`))

	ch := &fakeChannel{r: &stream}
	reg := handle.New(nil, "bridge", "global")
	ops := dispatch.NewReflectOps()
	ops.Functions["greet"] = func(args []any) (any, error) { return "hi", nil }

	d := dispatch.New(ch, reg, ops, nil)
	v, err := d.Do(context.Background(), protocol.OpCall, "greet []")
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Contains(t, ch.written.String(), "hi")
}

func TestDoSurfacesInterpreterError(t *testing.T) {
	reverse := []byte(`[1,"script.php",10,"boom","#0 script.php(10): foo()"]`)
	pad := (8 - (len(reverse) % 8)) % 8
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(-int32(len(reverse))))
	var stream bytes.Buffer
	stream.Write(header)
	stream.Write(reverse)
	stream.Write(make([]byte, pad))

	ch := &fakeChannel{r: &stream}
	reg := handle.New(nil, "bridge", "global")
	d := dispatch.New(ch, reg, nil, nil)

	_, err := d.Do(context.Background(), protocol.OpCall, "fail []")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
