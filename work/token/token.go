package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"xtream-proxy/work/client"
	"xtream-proxy/work/logger"
	"xtream-proxy/work/metrics"
	"xtream-proxy/work/utils"
)

// DefaultLifetime is how long an issued token stays redeemable.
const DefaultLifetime = 5 * time.Minute

// ErrNoAccess is returned when a token is unknown, already consumed or
// expired. Callers translate it to a not-found response without leaking
// which case applied.
var ErrNoAccess = errors.New("stream token invalid or expired")

// entry is the state behind one issued token. The credentialed provider URL
// never leaves the service; clients only ever see the opaque token.
type entry struct {
	StreamKey string
	URL       string
	Extension string
	CreatedAt time.Time
}

func (e *entry) expired(lifetime time.Duration) bool {
	return time.Since(e.CreatedAt) > lifetime
}

// Lease represents ownership of the single streaming slot. Release is safe to
// call any number of times; only the first call frees the slot.
type Lease struct {
	once    sync.Once
	release func()
}

// Release frees the streaming slot. Idempotent.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(l.release)
}

// StreamAccess bundles an open upstream stream with the lease that guards it.
// Closing it tears everything down in order: body, response, lease.
type StreamAccess struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64

	response *http.Response
	lease    *Lease
}

// Close releases the upstream connection and then the streaming slot. Safe on
// a partially populated value and safe to call more than once.
func (a *StreamAccess) Close() error {
	var err error
	if a.Body != nil {
		err = a.Body.Close()
		a.Body = nil
	}
	if a.response != nil && a.response.Body != nil {
		a.response.Body.Close()
		a.response = nil
	}
	a.lease.Release()
	return err
}

// Service issues one-time stream tokens and guards upstream streaming with a
// single slot, independent of the API connection gate. Construct one instance
// in main and share it between the URL-issuing and stream-serving paths, or
// redeemed tokens will never be found.
type Service struct {
	tokens   *xsync.MapOf[string, *entry]
	slot     chan struct{}
	lifetime time.Duration
	baseURL  string
	http     *client.HeaderSettingClient

	obfuscateUrls bool
}

// NewService creates the token service. lifetime <= 0 selects the default
// five minutes.
func NewService(baseURL string, httpClient *client.HeaderSettingClient, lifetime time.Duration, obfuscateUrls bool) *Service {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Service{
		tokens:        xsync.NewMapOf[string, *entry](),
		slot:          make(chan struct{}, 1),
		lifetime:      lifetime,
		baseURL:       baseURL,
		http:          httpClient,
		obfuscateUrls: obfuscateUrls,
	}
}

// CreateProxyURL issues a fresh one-time token for the given upstream stream
// and returns the proxied URL clients should use. Expired tokens are swept
// opportunistically on each issuance; there is no background timer.
func (s *Service) CreateProxyURL(streamKey, upstreamURL, extension string) (string, error) {
	s.sweepExpired()

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate stream token: %w", err)
	}
	token := hex.EncodeToString(raw)

	s.tokens.Store(token, &entry{
		StreamKey: streamKey,
		URL:       upstreamURL,
		Extension: extension,
		CreatedAt: time.Now(),
	})

	logger.Debug("{token - CreateProxyURL} Issued token for %s", streamKey)
	return fmt.Sprintf("%s/Xtream/Stream/%s", s.baseURL, token), nil
}

// OpenStream redeems a token, takes the streaming slot and opens the upstream
// stream. The token is consumed atomically, so a second redemption of the
// same token fails even when racing the first. On any failure after the slot
// is taken, the slot is released before returning.
func (s *Service) OpenStream(ctx context.Context, token string) (*StreamAccess, error) {
	e, ok := s.tokens.LoadAndDelete(token)
	if !ok {
		logger.Warn("{token - OpenStream} Unknown or already used token")
		return nil, ErrNoAccess
	}
	if e.expired(s.lifetime) {
		logger.Warn("{token - OpenStream} Expired token for %s", e.StreamKey)
		return nil, ErrNoAccess
	}

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	metrics.StreamSlotBusy.Set(1)
	lease := &Lease{release: func() {
		<-s.slot
		metrics.StreamSlotBusy.Set(0)
	}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
	if err != nil {
		lease.Release()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}

	logger.Info("{token - OpenStream} Opening stream %s from %s",
		e.StreamKey, utils.LogURL(s.obfuscateUrls, e.URL))

	resp, err := s.http.Do(req)
	if err != nil {
		lease.Release()
		return nil, fmt.Errorf("failed to open upstream stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		lease.Release()
		return nil, fmt.Errorf("upstream returned HTTP %d for %s", resp.StatusCode, e.StreamKey)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = ContentTypeFor(e.Extension)
	}

	return &StreamAccess{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
		response:      resp,
		lease:         lease,
	}, nil
}

// sweepExpired drops tokens past their lifetime.
func (s *Service) sweepExpired() {
	s.tokens.Range(func(token string, e *entry) bool {
		if e.expired(s.lifetime) {
			s.tokens.Delete(token)
		}
		return true
	})
}

// ActiveTokens returns the number of currently redeemable tokens, counting
// any that have expired but not yet been swept.
func (s *Service) ActiveTokens() int {
	return s.tokens.Size()
}

// SlotBusy reports whether a stream currently holds the streaming slot.
func (s *Service) SlotBusy() bool {
	return len(s.slot) == 1
}

// StreamKey builds the stable identity for a stream, used in logs and
// issuance bookkeeping.
func StreamKey(streamType fmt.Stringer, streamID int) string {
	return fmt.Sprintf("%s:%d", streamType, streamID)
}

// ContentTypeFor maps a container extension to the media type served to
// clients when the upstream response does not declare one.
func ContentTypeFor(extension string) string {
	switch extension {
	case "ts":
		return "video/mp2t"
	case "m3u8":
		return "application/vnd.apple.mpegurl"
	case "mp4":
		return "video/mp4"
	case "mkv":
		return "video/x-matroska"
	case "mp3":
		return "audio/mpeg"
	case "aac":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}
