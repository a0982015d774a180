package chunked

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderBasic(t *testing.T) {
	r := NewReader(strings.NewReader("2\r\nAA\r\n4\r\nBBBB\r\n0\r\n\r\n"))
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "AABBBB", string(got))
}

func TestReaderIgnoresExtensions(t *testing.T) {
	r := NewReader(strings.NewReader("3;name=val\r\nabc\r\n0\r\n\r\n"))
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestReaderConsumesTrailers(t *testing.T) {
	src := strings.NewReader("1\r\nx\r\n0\r\nExpires: never\r\nX-Sum: 1\r\n\r\nREST")
	r := NewReader(src)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))

	// bytes after the body must remain for the next response
	rest, err := io.ReadAll(r.(*chunkedReader).Reader)
	require.NoError(t, err)
	assert.Equal(t, "REST", string(rest))
}

func TestReaderMalformed(t *testing.T) {
	cases := map[string]string{
		"bad size":      "zz\r\nAA\r\n0\r\n\r\n",
		"missing crlf":  "2\r\nAAxx3\r\n",
		"truncated":     "5\r\nAA",
		"size overflow": "ffffffffffffffffff\r\nAA\r\n0\r\n\r\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := io.ReadAll(NewReader(strings.NewReader(src)))
			assert.Error(t, err)
		})
	}
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	for _, chunk := range [][]byte{[]byte("AA"), []byte("BBBB"), {}} {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	assert.Equal(t, "2\r\nAA\r\n4\r\nBBBB\r\n0\r\n\r\n", buf.String())

	got, err := io.ReadAll(NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "AABBBB", string(got))
}

func TestSelfInverse(t *testing.T) {
	payloads := [][]byte{
		[]byte(""),
		[]byte("x"),
		bytes.Repeat([]byte("0123456789abcdef"), 513), // > one bufio buffer
	}
	for _, payload := range payloads {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		for i := 0; i < len(payload); i += 100 {
			end := i + 100
			if end > len(payload) {
				end = len(payload)
			}
			_, err := w.Write(payload[i:end])
			require.NoError(t, err)
		}
		require.NoError(t, w.Close())

		got, err := io.ReadAll(NewReader(&buf))
		require.NoError(t, err)
		assert.Equal(t, payload, append([]byte{}, got...))
	}
}
