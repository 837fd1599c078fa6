// package services implements HTTP clients for external APIs
//
// Spotify (track metadata), rhythm (the download service itself)
package services

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/desertthunder/rhythm/internal/models"
)

// TrackLookup resolves a provider track id into metadata.
type TrackLookup interface {
	// Track fetches metadata for a single track id.
	Track(ctx context.Context, id string) (*models.Track, error)

	// Name returns the name of the provider (e.g., "spotify")
	Name() string
}

var spotifyID = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)

// ParseSpotifyID extracts a track id from an open.spotify.com URL, a spotify:track: URI or a bare id.
func ParseSpotifyID(s string) (string, bool) {
	s = strings.TrimSpace(s)

	if rest, ok := strings.CutPrefix(s, "spotify:track:"); ok {
		return rest, spotifyID.MatchString(rest)
	}

	if strings.Contains(s, "open.spotify.com") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil || u.Host != "open.spotify.com" {
			return "", false
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := 0; i < len(parts)-1; i++ {
			if parts[i] == "track" && spotifyID.MatchString(parts[i+1]) {
				return parts[i+1], true
			}
		}
		return "", false
	}

	if spotifyID.MatchString(s) {
		return s, true
	}
	return "", false
}
