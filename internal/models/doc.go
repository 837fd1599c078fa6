// Package models defines the domain entities of the rhythm download service.
//
// The package contains two categories of types:
//
// 1. Ephemeral job state: lives in process memory and scratch storage only
//   - [DownloadJob] : one track query resolved into one audio file
//   - [Status] : the job state machine (Requested → Resolving → Ready | Failed → Expired)
//   - [Format] : negotiated output audio format with its content type
//
// 2. Cached metadata: persisted in SQLite to skip repeated provider lookups
//   - [Track] : title/artist metadata resolved from a provider track ID
//   - [PersistedTrack] : a [Track] with its cache identity and timestamps
//
// Errors from the pipeline are mapped onto a short machine-readable [Code] with [CodeFor].
package models
