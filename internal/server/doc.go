// Package server exposes the download job service over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
// The [BasicRouter] applies its middleware around the whole mux, so CORS preflights and unmatched
// routes pass through logging and recovery too.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns ("POST /download") and
// path wildcards ("/download/status/{id}").
//
// # Routes
//
//   - POST /download streams the converted file back in the same response
//   - POST /download/start accepts a background job and returns its status and file URLs
//   - GET /download/status/{id} reports job progress
//   - GET /download/file/{id} streams a finished job's file
//   - GET /ping and GET /health report tool availability and capacity
//   - GET /metrics serves Prometheus metrics
//
// Every failure is a JSON body {"error": "...", "code": "..."} whose status follows [models.CodeFor].
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, returning their routes so that a handler
// encapsulates its route definitions.
package server
