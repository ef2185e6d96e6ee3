package client

import (
	"net/http"
	"time"

	"xtream-proxy/work/config"
)

// HeaderSettingClient wraps http.Client to automatically set the headers the
// provider expects on every outbound request. Response bodies are streamed, so
// there is no overall request timeout; only the header read is bounded.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds the shared upstream HTTP client. The transport
// keeps connections alive between metadata calls but never times out a
// streaming body.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0, // No overall timeout for streaming
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: cfg.StreamResponseTimeout, // Only timeout for headers
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: cfg,
	}
}

// Do executes the request with the provider headers applied.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")
}
