// Spotify Web API implementation of [TrackLookup]
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

type externalIDs struct {
	ISRC string `json:"isrc"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	Album       SpotifyAlbum    `json:"album"`
	DurationMS  int             `json:"duration_ms"`
	Explicit    bool            `json:"explicit"`
	ExternalIDs externalIDs     `json:"external_ids"`
	URI         string          `json:"uri"`
}

// SpotifyArtist represents a simplified Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a simplified Spotify album.
type SpotifyAlbum struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ReleaseDate string         `json:"release_date"`
	Images      []SpotifyImage `json:"images"`
}

// ToTrack converts the API response into a [models.Track].
func (t SpotifyTrack) ToTrack() *models.Track {
	track := &models.Track{
		ID:       t.ID,
		Title:    t.Name,
		Album:    t.Album.Name,
		Duration: t.DurationMS / 1000,
		ISRC:     t.ExternalIDs.ISRC,
	}
	for _, a := range t.Artists {
		track.Artists = append(track.Artists, a.Name)
	}
	return track
}

// SpotifyService looks up track metadata with an app-only (client credentials) token.
//
// No user authorization is involved; the token is fetched on first use and refreshed by [oauth2] when it expires.
type SpotifyService struct {
	config     *clientcredentials.Config
	baseURL    string
	base       *http.Client
	httpClient *http.Client
}

// SpotifyOption configures a [SpotifyService].
type SpotifyOption func(*SpotifyService)

// WithSpotifyEndpoints points the service at alternate API and token URLs.
func WithSpotifyEndpoints(baseURL, tokenURL string) SpotifyOption {
	return func(s *SpotifyService) {
		if baseURL != "" {
			s.baseURL = baseURL
		}
		if tokenURL != "" {
			s.config.TokenURL = tokenURL
		}
	}
}

// WithSpotifyHTTPClient sets the transport used for both token and API requests.
func WithSpotifyHTTPClient(c *http.Client) SpotifyOption {
	return func(s *SpotifyService) { s.base = c }
}

// NewSpotifyService creates a new Spotify service with the given client credentials.
func NewSpotifyService(credentials map[string]string, opts ...SpotifyOption) (*SpotifyService, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	s := &SpotifyService{
		config: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     spotifyTokenURL,
		},
		baseURL: spotifyBaseURL,
		base:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.base)
	s.httpClient = oauth2.NewClient(ctx, s.config.TokenSource(ctx))
	return s, nil
}

func (s *SpotifyService) Name() string {
	return "spotify"
}

// doRequest performs an authenticated GET request to the Spotify API.
func (s *SpotifyService) doRequest(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: spotify request failed: %v", shared.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: spotify status %d", shared.ErrTrackNotFound, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: spotify status %d", shared.ErrUpstreamUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: failed to decode spotify response: %v", shared.ErrUpstreamUnavailable, err)
	}
	return nil
}

// SpotifyTrack retrieves the raw API representation of a track.
func (s *SpotifyService) SpotifyTrack(ctx context.Context, trackID string) (*SpotifyTrack, error) {
	var track SpotifyTrack
	if err := s.doRequest(ctx, "/tracks/"+url.PathEscape(trackID), &track); err != nil {
		return nil, err
	}
	if track.Name == "" {
		return nil, fmt.Errorf("%w: %s has no title", shared.ErrTrackNotFound, trackID)
	}
	return &track, nil
}

// Track retrieves a single track by ID.
func (s *SpotifyService) Track(ctx context.Context, trackID string) (*models.Track, error) {
	st, err := s.SpotifyTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}
	return st.ToTrack(), nil
}
