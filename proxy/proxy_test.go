package proxy_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadrunner-server/phpbridge/internal/dispatch"
	"github.com/roadrunner-server/phpbridge/internal/handle"
	"github.com/roadrunner-server/phpbridge/proxy"
)

type fakeChannel struct {
	queue [][]byte
	pos   int
	buf   bytes.Buffer
	sent  [][]byte
}

func (f *fakeChannel) Read(p []byte) (int, error) {
	if f.buf.Len() == 0 {
		if f.pos >= len(f.queue) {
			return 0, assertEOF{}
		}
		f.buf.Write(f.queue[f.pos])
		f.pos++
	}
	return f.buf.Read(p)
}

type assertEOF struct{}

func (assertEOF) Error() string { return "EOF" }

func (f *fakeChannel) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	f.sent = append(f.sent, cp)
	return len(p), nil
}

func (f *fakeChannel) queueResult(body string) {
	payload := []byte(body)
	pad := (8 - (len(payload) % 8)) % 8
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	rec := append(header, payload...)
	rec = append(rec, make([]byte, pad)...)
	f.queue = append(f.queue, rec)
}

func newHarness(t *testing.T) (*fakeChannel, *dispatch.Dispatcher) {
	t.Helper()
	ch := &fakeChannel{}
	reg := handle.New(nil, "bridge", "global")
	return ch, dispatch.New(ch, reg, nil, nil)
}

func lastWritten(ch *fakeChannel) string {
	if len(ch.sent) == 0 {
		return ""
	}
	buf := ch.sent[len(ch.sent)-1]
	if len(buf) < 8 {
		return string(buf)
	}
	return string(buf[8:])
}

func TestGlobalConstEmitsConst(t *testing.T) {
	ch, d := newHarness(t)
	ch.queueResult("8")
	g := proxy.NewGlobal(d)

	v, err := g.Const(context.Background(), "PHP_INT_SIZE")
	require.NoError(t, err)
	assert.EqualValues(t, 8, v)
	assert.Contains(t, lastWritten(ch), "PHP_INT_SIZE")
}

func TestGlobalVarGetEmitsGet(t *testing.T) {
	ch, d := newHarness(t)
	ch.queueResult("1")
	g := proxy.NewGlobal(d)

	v, err := g.Var("x").Path("a", "b").Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
	assert.Contains(t, lastWritten(ch), "x [\"a\",\"b\"]")
}

func TestGlobalVarSetPathEmitsTuple(t *testing.T) {
	ch, d := newHarness(t)
	ch.queueResult("0") // null sentinel shape: payload_length 0 means null; use direct bytes
	_ = ch
	// overwrite with a proper null record (payload_length == 0, no body)
	ch.queue = nil
	ch.queue = append(ch.queue, []byte{0, 0, 0, 0, 0, 0, 0, 0})

	g := proxy.NewGlobal(d)
	err := g.Var("x").Path("a").Set(context.Background(), 5)
	require.NoError(t, err)
	assert.Contains(t, lastWritten(ch), "x [[\"a\"],5]")
}

func TestClassCtorBindsInstance(t *testing.T) {
	ch, d := newHarness(t)
	ch.queueResult("7")
	g := proxy.NewGlobal(d)

	inst, err := g.Cls("ArrayObject").Ctor(context.Background(), []any{"x", "y"})
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.EqualValues(t, 7, inst.ID())
	assert.Contains(t, lastWritten(ch), "ArrayObject")
}

func TestInstanceMemberCall(t *testing.T) {
	ch, d := newHarness(t)
	ch.queueResult("7")   // construct
	ch.queueResult("3")   // count()
	g := proxy.NewGlobal(d)

	inst, err := g.Cls("ArrayObject").Ctor(context.Background(), []any{"x", "y", "z"})
	require.NoError(t, err)

	v, err := inst.Member("count").Call(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)
	assert.Contains(t, lastWritten(ch), "7 count")
}

func TestInstanceSentinelRoundTrip(t *testing.T) {
	ch, d := newHarness(t)
	ch.queueResult("7")
	g := proxy.NewGlobal(d)
	inst, err := g.Cls("Foo").Ctor(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(7), inst.Sentinel()["PHP_WORLD_INST_ID"])
	_ = ch
}
