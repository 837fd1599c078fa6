// Package repositories implements SQLite persistence for cached provider metadata.
//
// Only track metadata is persisted. Download jobs and their files are ephemeral and never reach the database.
//
// Key Implementations:
//   - [TrackRepository] : CRUD over the tracks table with provider-specific and ISRC lookups
//   - [TrackCacheAdapter] : read-through cache used by query resolution
//
// Rows are unique per (service, service_id); a second write for the same provider track updates it in place.
package repositories
