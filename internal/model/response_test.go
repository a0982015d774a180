package model

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roldriel/reqivo/internal/errs"
	"github.com/roldriel/reqivo/internal/proto"
)

func respWithBody(headers *proto.Headers, body string) *Response {
	if headers == nil {
		headers = proto.NewHeaders()
	}
	return &Response{
		Status:        200,
		Headers:       headers,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func TestBytesDrainsOnce(t *testing.T) {
	r := respWithBody(nil, "hello")
	data, err := r.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	again, err := r.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestBytesEnforcesMaxBodySize(t *testing.T) {
	r := respWithBody(nil, strings.Repeat("a", 100))
	r.MaxBodySize = 10
	_, err := r.Bytes()
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindProtocol))
}

func TestTextDefaultUTF8(t *testing.T) {
	r := respWithBody(proto.HeadersFrom("Content-Type", "text/plain"), "héllo")
	text, err := r.Text()
	require.NoError(t, err)
	assert.Equal(t, "héllo", text)
}

func TestTextCharsetDecoding(t *testing.T) {
	// "café" in ISO-8859-1: é = 0xE9
	raw := "caf\xe9"
	r := respWithBody(proto.HeadersFrom("Content-Type", "text/plain; charset=iso-8859-1"), raw)
	text, err := r.Text()
	require.NoError(t, err)
	assert.Equal(t, "café", text)
}

func TestTextInvalidUTF8Replaced(t *testing.T) {
	r := respWithBody(proto.HeadersFrom("Content-Type", "text/plain"), "ok\xff\xfe")
	text, err := r.Text()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "ok"))
	assert.True(t, strings.ContainsRune(text, '�'))
}

func TestJSON(t *testing.T) {
	r := respWithBody(proto.HeadersFrom("Content-Type", "application/json"), `{"name":"x","n":3}`)
	var out struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	require.NoError(t, r.JSON(&out))
	assert.Equal(t, "x", out.Name)
	assert.Equal(t, 3, out.N)

	bad := respWithBody(nil, "not json")
	err := bad.JSON(&out)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInvalidResponse))
}

func TestChunksIterator(t *testing.T) {
	r := respWithBody(nil, "abcdefghij")
	it := r.Chunks(4)

	var got []string
	for it.Next() {
		got = append(got, string(it.Chunk()))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, got)
}

func TestLines(t *testing.T) {
	r := respWithBody(nil, "one\ntwo\nthree")
	sc := r.Lines()
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestIsRedirect(t *testing.T) {
	for _, code := range []int{301, 302, 303, 307, 308} {
		assert.True(t, (&Response{Status: code}).IsRedirect(), code)
	}
	for _, code := range []int{200, 204, 300, 304, 400} {
		assert.False(t, (&Response{Status: code}).IsRedirect(), code)
	}
}
