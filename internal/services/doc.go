// Package services implements the HTTP clients rhythm talks to.
//
// # Track Lookup
//
// [TrackLookup] resolves a provider track id into [models.Track] metadata.
// [SpotifyService] implements it against the Spotify Web API using the client credentials
// grant; the [oauth2.Client] fetches and refreshes the app token on its own, so no user
// login is involved.
//
// [ParseSpotifyID] accepts open.spotify.com track URLs, spotify:track: URIs and bare
// 22 character ids.
//
// # Download Service Client
//
// [APIService] is the reference client for the rhythm HTTP API, used by the remote commands:
//   - Fetch : POST /download, streamed to the caller
//   - Start, Status, File : the background job flow
//   - Ping : GET /ping
//
// Non-2xx responses decode into [RemoteError], which carries the reason code and wraps
// [shared.ErrAPIRequest].
//
// # Error Handling
//
//   - [shared.ErrMissingCredentials] : Spotify client id or secret not configured
//   - [shared.ErrTrackNotFound] : the provider does not know the track id
//   - [shared.ErrUpstreamUnavailable] : the provider could not be reached or answered with an error
//   - [shared.ErrAPIRequest] : a rhythm API call returned an error status
package services
