package relay

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtream-proxy/work/buffer"
	"xtream-proxy/work/token"
)

type closeTrackingReader struct {
	io.Reader
	closed bool
}

func (r *closeTrackingReader) Close() error {
	r.closed = true
	return nil
}

func TestServeRelaysBodyWithHeaders(t *testing.T) {
	payload := bytes.Repeat([]byte("segment"), 40_000) // spans multiple chunks
	body := &closeTrackingReader{Reader: bytes.NewReader(payload)}

	access := &token.StreamAccess{
		Body:          body,
		ContentType:   "video/mp2t",
		ContentLength: int64(len(payload)),
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/Xtream/Stream/abc", nil)
	Serve(rec, req, access, buffer.NewPool(buffer.ChunkSize))

	res := rec.Result()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "video/mp2t", res.Header.Get("Content-Type"))
	assert.Equal(t, "no-store, no-cache, must-revalidate", res.Header.Get("Cache-Control"))
	assert.Equal(t, "true", res.Header.Get("X-Xtream-Proxy"))
	assert.Equal(t, strconv.Itoa(len(payload)), res.Header.Get("Content-Length"))
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.True(t, body.closed, "upstream body must be closed when the relay ends")
}

func TestServeOmitsUnknownContentLength(t *testing.T) {
	body := &closeTrackingReader{Reader: bytes.NewReader([]byte("live-data"))}
	access := &token.StreamAccess{
		Body:          body,
		ContentType:   "video/mp2t",
		ContentLength: -1,
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/Xtream/Stream/abc", nil)
	Serve(rec, req, access, buffer.NewPool(buffer.ChunkSize))

	assert.Empty(t, rec.Header().Get("Content-Length"),
		"unknown upstream length must not be advertised")
	assert.Equal(t, "live-data", rec.Body.String())
}

type erroringReader struct {
	data []byte
	read bool
}

func (r *erroringReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("upstream reset")
}

func (r *erroringReader) Close() error { return nil }

func TestServeStopsOnUpstreamError(t *testing.T) {
	access := &token.StreamAccess{
		Body:          &erroringReader{data: []byte("partial")},
		ContentType:   "video/mp2t",
		ContentLength: -1,
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/Xtream/Stream/abc", nil)
	Serve(rec, req, access, buffer.NewPool(buffer.ChunkSize))

	// data relayed before the failure still reaches the client
	assert.Equal(t, "partial", rec.Body.String())
	assert.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

type failingWriter struct {
	header http.Header
}

func (w *failingWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }
func (w *failingWriter) WriteHeader(int)           {}

func TestServeClientDisconnectClosesAccessQuietly(t *testing.T) {
	body := &closeTrackingReader{Reader: bytes.NewReader(bytes.Repeat([]byte("x"), 1024))}
	access := &token.StreamAccess{
		Body:          body,
		ContentType:   "video/mp2t",
		ContentLength: -1,
	}

	req := httptest.NewRequest(http.MethodGet, "/Xtream/Stream/abc", nil)
	Serve(&failingWriter{}, req, access, buffer.NewPool(buffer.ChunkSize))

	require.True(t, body.closed, "access must be closed even when the client is gone")
}
