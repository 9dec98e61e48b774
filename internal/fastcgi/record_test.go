package fastcgi_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadrunner-server/phpbridge/internal/fastcgi"
)

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := fastcgi.Record{Type: 4, RequestID: 7, Content: []byte("hello")}
	require.NoError(t, fastcgi.WriteRecord(&buf, rec))

	// header(8) + content(5) + padding(3) = 16, a multiple of 8.
	assert.Zero(t, buf.Len()%8)

	got, err := fastcgi.ReadRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.RequestID, got.RequestID)
	assert.Equal(t, rec.Content, got.Content)
}

func TestEncodeParamsShortForm(t *testing.T) {
	out := fastcgi.EncodeParams(map[string]string{"A": "B"})
	assert.Equal(t, []byte{1, 1, 'A', 'B'}, out)
}

func TestUnmarshalEndRequest(t *testing.T) {
	content := []byte{0, 0, 0, 42, 0, 0, 0, 0}
	end := fastcgi.UnmarshalEndRequest(content)
	require.NotNil(t, end)
	assert.EqualValues(t, 42, end.AppStatus)
}
