package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtream-proxy/work/client"
	"xtream-proxy/work/config"
)

const testBaseURL = "http://proxy.local:8080"

func newTestService(t *testing.T, lifetime time.Duration) *Service {
	t.Helper()
	return NewService(testBaseURL, client.NewHeaderSettingClient(config.Default()), lifetime, false)
}

func tokenFromProxyURL(t *testing.T, proxyURL string) string {
	t.Helper()
	token := strings.TrimPrefix(proxyURL, testBaseURL+"/Xtream/Stream/")
	require.Len(t, token, 32, "token must be 16 random bytes hex encoded")
	return token
}

func TestCreateProxyURLIssuesOpaqueToken(t *testing.T) {
	s := newTestService(t, 0)

	proxyURL, err := s.CreateProxyURL("Live:42", "http://provider/live/u/p/42.ts", "ts")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(proxyURL, testBaseURL+"/Xtream/Stream/"))
	assert.NotContains(t, proxyURL, "provider", "credentialed URL must not leak into the proxy URL")
	assert.Equal(t, 1, s.ActiveTokens())

	tokenFromProxyURL(t, proxyURL)
}

func TestOpenStreamConsumesTokenOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.Write([]byte("stream-data"))
	}))
	defer srv.Close()

	s := newTestService(t, 0)
	proxyURL, err := s.CreateProxyURL("Live:42", srv.URL+"/live/42.ts", "ts")
	require.NoError(t, err)
	tok := tokenFromProxyURL(t, proxyURL)

	access, err := s.OpenStream(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "video/mp2t", access.ContentType)
	require.NoError(t, access.Close())

	_, err = s.OpenStream(context.Background(), tok)
	assert.ErrorIs(t, err, ErrNoAccess, "a token must be single use")
}

func TestOpenStreamRejectsExpiredToken(t *testing.T) {
	s := newTestService(t, 10*time.Millisecond)

	proxyURL, err := s.CreateProxyURL("Live:42", "http://provider/live/42.ts", "ts")
	require.NoError(t, err)
	tok := tokenFromProxyURL(t, proxyURL)

	time.Sleep(20 * time.Millisecond)

	_, err = s.OpenStream(context.Background(), tok)
	assert.ErrorIs(t, err, ErrNoAccess)
	assert.False(t, s.SlotBusy(), "expired redemption must not take the slot")
}

func TestIssuanceSweepsExpiredTokens(t *testing.T) {
	s := newTestService(t, 10*time.Millisecond)

	_, err := s.CreateProxyURL("Live:1", "http://provider/live/1.ts", "ts")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = s.CreateProxyURL("Live:2", "http://provider/live/2.ts", "ts")
	require.NoError(t, err)
	assert.Equal(t, 1, s.ActiveTokens(), "issuance must sweep expired tokens")
}

func TestOpenStreamSlotExclusive(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s := newTestService(t, 0)

	first, err := s.CreateProxyURL("Live:1", srv.URL+"/1.ts", "ts")
	require.NoError(t, err)
	access, err := s.OpenStream(context.Background(), tokenFromProxyURL(t, first))
	require.NoError(t, err)
	assert.True(t, s.SlotBusy())

	// a second stream cannot start while the slot is held
	second, err := s.CreateProxyURL("Live:2", srv.URL+"/2.ts", "ts")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.OpenStream(ctx, tokenFromProxyURL(t, second))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, access.Close())
	assert.False(t, s.SlotBusy())

	third, err := s.CreateProxyURL("Live:3", srv.URL+"/3.ts", "ts")
	require.NoError(t, err)
	access, err = s.OpenStream(context.Background(), tokenFromProxyURL(t, third))
	require.NoError(t, err)
	access.Close()
}

func TestOpenStreamUpstreamFailureReleasesSlot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestService(t, 0)
	proxyURL, err := s.CreateProxyURL("Live:42", srv.URL+"/42.ts", "ts")
	require.NoError(t, err)

	_, err = s.OpenStream(context.Background(), tokenFromProxyURL(t, proxyURL))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoAccess, "upstream failure is not an access error")
	assert.False(t, s.SlotBusy(), "slot must be released when the upstream open fails")
}

func TestLeaseReleaseIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	s := newTestService(t, 0)
	proxyURL, err := s.CreateProxyURL("Live:42", srv.URL+"/42.ts", "ts")
	require.NoError(t, err)

	access, err := s.OpenStream(context.Background(), tokenFromProxyURL(t, proxyURL))
	require.NoError(t, err)

	access.Close()
	access.Close()
	assert.False(t, s.SlotBusy())

	// slot still usable after the double close
	next, err := s.CreateProxyURL("Live:43", srv.URL+"/43.ts", "ts")
	require.NoError(t, err)
	again, err := s.OpenStream(context.Background(), tokenFromProxyURL(t, next))
	require.NoError(t, err)
	again.Close()
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{"ts", "video/mp2t"},
		{"m3u8", "application/vnd.apple.mpegurl"},
		{"mp4", "video/mp4"},
		{"mkv", "video/x-matroska"},
		{"mp3", "audio/mpeg"},
		{"aac", "audio/aac"},
		{"", "application/octet-stream"},
		{"wmv", "application/octet-stream"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ContentTypeFor(tt.ext), "extension %q", tt.ext)
	}
}
