package provider

import (
	"context"
	"fmt"

	"xtream-proxy/work/cache"
	"xtream-proxy/work/epg"
	"xtream-proxy/work/gate"
	"xtream-proxy/work/token"
	"xtream-proxy/work/xtream"
)

// Service is the facade the HTTP layer talks to. Every provider API call goes
// through the connection gate, and list/metadata responses are memoized in
// the result cache. Stream URLs never reach clients directly; they are
// exchanged for one-time proxy tokens.
type Service struct {
	client *xtream.Client
	gate   *gate.Gate
	cache  *cache.Cache
	tokens *token.Service
}

// New wires the facade. All collaborators are required.
func New(client *xtream.Client, g *gate.Gate, c *cache.Cache, tokens *token.Service) *Service {
	return &Service{
		client: client,
		gate:   g,
		cache:  c,
		tokens: tokens,
	}
}

// fetchCached memoizes a gated provider call under the category's TTL.
func fetchCached[T any](ctx context.Context, s *Service, key string, category cache.Category, call func(context.Context) (T, error)) (T, error) {
	return cache.GetOrCreate(ctx, s.cache, key, category, func(ctx context.Context) (T, error) {
		return gate.Execute(ctx, s.gate, call)
	})
}

// LiveCategories returns the live TV category listing.
func (s *Service) LiveCategories(ctx context.Context) ([]xtream.Category, error) {
	return fetchCached(ctx, s, "live-categories", cache.Categories, s.client.GetLiveCategories)
}

// VodCategories returns the VOD category listing.
func (s *Service) VodCategories(ctx context.Context) ([]xtream.Category, error) {
	return fetchCached(ctx, s, "vod-categories", cache.Categories, s.client.GetVodCategories)
}

// SeriesCategories returns the series category listing.
func (s *Service) SeriesCategories(ctx context.Context) ([]xtream.Category, error) {
	return fetchCached(ctx, s, "series-categories", cache.Categories, s.client.GetSeriesCategories)
}

// LiveStreams returns the live streams of a category ("" for all).
func (s *Service) LiveStreams(ctx context.Context, categoryID string) ([]xtream.LiveStream, error) {
	key := fmt.Sprintf("live-streams-%s", categoryID)
	return fetchCached(ctx, s, key, cache.ChannelLists, func(ctx context.Context) ([]xtream.LiveStream, error) {
		return s.client.GetLiveStreams(ctx, categoryID)
	})
}

// VodStreams returns the VOD entries of a category.
func (s *Service) VodStreams(ctx context.Context, categoryID string) ([]xtream.VodStream, error) {
	key := fmt.Sprintf("vod-streams-%s", categoryID)
	return fetchCached(ctx, s, key, cache.ChannelLists, func(ctx context.Context) ([]xtream.VodStream, error) {
		return s.client.GetVodStreams(ctx, categoryID)
	})
}

// Series returns the series entries of a category.
func (s *Service) Series(ctx context.Context, categoryID string) ([]xtream.SeriesInfo, error) {
	key := fmt.Sprintf("series-%s", categoryID)
	return fetchCached(ctx, s, key, cache.Metadata, func(ctx context.Context) ([]xtream.SeriesInfo, error) {
		return s.client.GetSeries(ctx, categoryID)
	})
}

// UserInfo returns the provider account status. Not cached; account state is
// the one thing callers always want fresh.
func (s *Service) UserInfo(ctx context.Context) (xtream.PlayerApi, error) {
	return gate.Execute(ctx, s.gate, s.client.GetUserInfo)
}

// FetchPrograms loads the full program table for one channel, gated like
// every other provider call. Implements the EPG cache's fetcher contract.
func (s *Service) FetchPrograms(ctx context.Context, channelID string, streamID int) ([]epg.ProgramInfo, error) {
	listings, err := gate.Execute(ctx, s.gate, func(ctx context.Context) (xtream.EpgListings, error) {
		return s.client.GetEpgInfo(ctx, streamID)
	})
	if err != nil {
		return nil, err
	}

	programs := make([]epg.ProgramInfo, 0, len(listings.Listings))
	for _, l := range listings.Listings {
		programs = append(programs, epg.ProgramInfo{
			ID:        l.ID,
			ChannelID: channelID,
			Start:     l.StartTime(),
			End:       l.StopTime(),
			Title:     l.DecodedTitle(),
			Overview:  l.DecodedDescription(),
		})
	}
	return programs, nil
}

// ProxyURLFor issues a one-time proxied URL for a stream. The credentialed
// provider URL stays inside the token service.
func (s *Service) ProxyURLFor(streamType xtream.StreamType, streamID int, extension string) (string, error) {
	upstream := s.client.StreamURL(streamType, streamID, extension)
	return s.tokens.CreateProxyURL(token.StreamKey(streamType, streamID), upstream, extension)
}
