package xtream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"xtream-proxy/work/client"
	"xtream-proxy/work/logger"
	"xtream-proxy/work/utils"
)

// StreamType identifies the kind of provider stream a URL points at. It is
// part of the stream key used by the token service and selects the URL path
// segment on the provider side.
type StreamType int

const (
	Live StreamType = iota
	Vod
	Series
)

// String returns the stream type name used in stream keys.
func (t StreamType) String() string {
	switch t {
	case Live:
		return "Live"
	case Vod:
		return "Vod"
	case Series:
		return "Series"
	default:
		return "Unknown"
	}
}

// ConnectionInfo is the provider connection descriptor: base URL plus the
// credentials embedded in every API and stream URL.
type ConnectionInfo struct {
	BaseURL  string
	Username string
	Password string
}

// Category represents a single category entry from the Xtream Codes API
// response. Category identifiers arrive as strings on the wire.
type Category struct {
	CategoryID   string `json:"category_id"`   // Category identifier used for stream list queries
	CategoryName string `json:"category_name"` // Display name of the category
	ParentID     int    `json:"parent_id"`     // Parent category identifier, zero for top level
}

// LiveStream represents a single live stream entry from the get_live_streams
// endpoint, carrying the identifiers needed for stream URL construction and
// EPG integration.
type LiveStream struct {
	StreamID     int    `json:"stream_id"`      // Unique identifier used in stream URL construction
	Name         string `json:"name"`           // Display name of the live channel
	StreamIcon   string `json:"stream_icon"`    // URL to channel logo/icon image
	EpgChannelID string `json:"epg_channel_id"` // EPG channel identifier for program guide integration
	CategoryID   string `json:"category_id"`    // Category identifier for grouping
}

// VodStream represents a single video-on-demand entry from the
// get_vod_streams endpoint.
type VodStream struct {
	StreamID           int    `json:"stream_id"`           // Unique identifier used in stream URL construction
	Name               string `json:"name"`                // Display name of the video content
	StreamIcon         string `json:"stream_icon"`         // URL to video thumbnail/poster image
	CategoryID         string `json:"category_id"`         // Category identifier for grouping
	ContainerExtension string `json:"container_extension"` // File format extension (mp4, mkv, ...)
}

// SeriesInfo represents a single series entry from the get_series endpoint.
type SeriesInfo struct {
	SeriesID   int    `json:"series_id"`   // Unique identifier for the series
	Name       string `json:"name"`        // Display name of the series
	Cover      string `json:"cover"`       // URL to series cover artwork
	CategoryID string `json:"category_id"` // Category identifier for grouping
}

// EpgListing is one program entry from the get_simple_data_table endpoint.
// Title and description arrive base64 encoded; timestamps arrive as unix
// second strings.
type EpgListing struct {
	ID             string `json:"id"`
	EpgID          string `json:"epg_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	ChannelID      string `json:"channel_id"`
	StartTimestamp string `json:"start_timestamp"`
	StopTimestamp  string `json:"stop_timestamp"`
}

// EpgListings is the wrapper object returned by get_simple_data_table.
type EpgListings struct {
	Listings []EpgListing `json:"epg_listings"`
}

// DecodedTitle returns the base64-decoded program title, falling back to the
// raw value when it isn't valid base64.
func (l EpgListing) DecodedTitle() string {
	return decodeBase64(l.Title)
}

// DecodedDescription returns the base64-decoded program description, falling
// back to the raw value when it isn't valid base64.
func (l EpgListing) DecodedDescription() string {
	return decodeBase64(l.Description)
}

// StartTime parses the program start as a UTC timestamp.
func (l EpgListing) StartTime() time.Time {
	return parseUnixString(l.StartTimestamp)
}

// StopTime parses the program end as a UTC timestamp.
func (l EpgListing) StopTime() time.Time {
	return parseUnixString(l.StopTimestamp)
}

// UserInfo carries the provider account status from player_api.
type UserInfo struct {
	Username       string `json:"username"`
	Status         string `json:"status"`
	ExpDate        string `json:"exp_date"`
	ActiveCons     string `json:"active_cons"`
	MaxConnections string `json:"max_connections"`
}

// ServerInfo carries the provider server descriptor from player_api.
type ServerInfo struct {
	URL            string `json:"url"`
	Port           string `json:"port"`
	ServerProtocol string `json:"server_protocol"`
}

// PlayerApi is the combined user and server info response.
type PlayerApi struct {
	UserInfo   UserInfo   `json:"user_info"`
	ServerInfo ServerInfo `json:"server_info"`
}

// Client talks to the Xtream Codes player_api endpoint. It does not enforce
// the provider connection limit itself; callers route requests through the
// connection gate.
type Client struct {
	http          *client.HeaderSettingClient
	info          ConnectionInfo
	obfuscateUrls bool
}

// NewClient creates a provider API client for the given connection.
func NewClient(httpClient *client.HeaderSettingClient, info ConnectionInfo, obfuscateUrls bool) *Client {
	return &Client{
		http:          httpClient,
		info:          info,
		obfuscateUrls: obfuscateUrls,
	}
}

// queryAPI fetches and decodes a single player_api action.
func queryAPI[T any](ctx context.Context, c *Client, action string, params url.Values) (T, error) {
	var result T

	apiURL := fmt.Sprintf("%s/player_api.php?username=%s&password=%s",
		c.info.BaseURL, url.QueryEscape(c.info.Username), url.QueryEscape(c.info.Password))
	if action != "" {
		apiURL += "&action=" + action
	}
	if len(params) > 0 {
		apiURL += "&" + params.Encode()
	}

	logger.Debug("{xtream - queryAPI} Fetching action %s from %s", action, utils.LogURL(c.obfuscateUrls, apiURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return result, fmt.Errorf("failed to create request for action %s: %w", action, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return result, fmt.Errorf("failed to fetch action %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("provider returned HTTP %d for action %s", resp.StatusCode, action)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("failed to read response for action %s: %w", action, err)
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("failed to parse response for action %s: %w", action, err)
	}

	return result, nil
}

// GetLiveCategories fetches the live TV category listing.
func (c *Client) GetLiveCategories(ctx context.Context) ([]Category, error) {
	return queryAPI[[]Category](ctx, c, "get_live_categories", nil)
}

// GetVodCategories fetches the VOD category listing.
func (c *Client) GetVodCategories(ctx context.Context) ([]Category, error) {
	return queryAPI[[]Category](ctx, c, "get_vod_categories", nil)
}

// GetSeriesCategories fetches the series category listing.
func (c *Client) GetSeriesCategories(ctx context.Context) ([]Category, error) {
	return queryAPI[[]Category](ctx, c, "get_series_categories", nil)
}

// GetLiveStreams fetches all live streams, optionally filtered by category.
func (c *Client) GetLiveStreams(ctx context.Context, categoryID string) ([]LiveStream, error) {
	params := url.Values{}
	if categoryID != "" {
		params.Set("category_id", categoryID)
	}
	return queryAPI[[]LiveStream](ctx, c, "get_live_streams", params)
}

// GetVodStreams fetches VOD streams for a category.
func (c *Client) GetVodStreams(ctx context.Context, categoryID string) ([]VodStream, error) {
	params := url.Values{}
	if categoryID != "" {
		params.Set("category_id", categoryID)
	}
	return queryAPI[[]VodStream](ctx, c, "get_vod_streams", params)
}

// GetSeries fetches series entries for a category.
func (c *Client) GetSeries(ctx context.Context, categoryID string) ([]SeriesInfo, error) {
	params := url.Values{}
	if categoryID != "" {
		params.Set("category_id", categoryID)
	}
	return queryAPI[[]SeriesInfo](ctx, c, "get_series", params)
}

// GetEpgInfo fetches the full EPG table for a single stream.
func (c *Client) GetEpgInfo(ctx context.Context, streamID int) (EpgListings, error) {
	params := url.Values{}
	params.Set("stream_id", strconv.Itoa(streamID))
	return queryAPI[EpgListings](ctx, c, "get_simple_data_table", params)
}

// GetUserInfo fetches the provider account and server status.
func (c *Client) GetUserInfo(ctx context.Context) (PlayerApi, error) {
	return queryAPI[PlayerApi](ctx, c, "", url.Values{})
}

// StreamURL builds the credentialed provider URL for a stream. The extension
// defaults to ts for live streams when none is supplied.
func (c *Client) StreamURL(streamType StreamType, streamID int, extension string) string {
	if extension == "" {
		extension = "ts"
	}

	var segment string
	switch streamType {
	case Vod:
		segment = "movie"
	case Series:
		segment = "series"
	default:
		segment = "live"
	}

	return fmt.Sprintf("%s/%s/%s/%s/%d.%s",
		c.info.BaseURL, segment,
		url.PathEscape(c.info.Username), url.PathEscape(c.info.Password),
		streamID, extension)
}

func decodeBase64(raw string) string {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return raw
	}
	return string(decoded)
}

func parseUnixString(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
