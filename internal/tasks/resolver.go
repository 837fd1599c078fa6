package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/rhythm/internal/metrics"
	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/services"
	"github.com/desertthunder/rhythm/internal/shared"
)

const spotifyService = "spotify"

// TrackCache persists provider metadata between requests.
//
// Implemented by repositories.TrackCacheAdapter.
type TrackCache interface {
	LookupTrack(service, serviceID string) (models.Track, bool, error)
	CacheTrack(service, serviceID string, track models.Track) error
}

// Resolver turns a track query into the text handed to the downloader.
//
// Spotify track links, URIs and ids are looked up for artist and title; anything else is used verbatim.
type Resolver struct {
	lookup services.TrackLookup
	cache  TrackCache
	logger *log.Logger
}

// NewResolver creates a Resolver. Both lookup and cache may be nil.
func NewResolver(lookup services.TrackLookup, cache TrackCache, logger *log.Logger) *Resolver {
	return &Resolver{lookup: lookup, cache: cache, logger: logger}
}

// Resolve returns the search text for query and the provider metadata when the query named a track.
func (r *Resolver) Resolve(ctx context.Context, query string) (string, *models.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil, fmt.Errorf("%w: track query is required", shared.ErrInvalidRequest)
	}

	id, ok := services.ParseSpotifyID(query)
	if !ok {
		return query, nil, nil
	}

	track, err := r.Lookup(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return track.SearchQuery(), track, nil
}

// Lookup fetches metadata for a Spotify track id, going through the cache when one is configured.
func (r *Resolver) Lookup(ctx context.Context, id string) (*models.Track, error) {
	if r.cache != nil {
		cached, hit, err := r.cache.LookupTrack(spotifyService, id)
		if err != nil {
			r.logger.Warn("track cache lookup failed", "id", id, "err", err)
		}
		metrics.TrackCacheLookup(hit)
		if hit {
			return &cached, nil
		}
	}

	if r.lookup == nil {
		return nil, fmt.Errorf("%w: Spotify credentials are not configured, so track links cannot be resolved", shared.ErrUpstreamUnavailable)
	}

	track, err := r.lookup.Track(ctx, id)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.CacheTrack(spotifyService, id, *track); err != nil {
			r.logger.Warn("failed to cache track", "id", id, "err", err)
		}
	}
	r.logger.Debug("resolved track", "id", id, "track", track.DisplayName())
	return track, nil
}
