// Package tasks runs download jobs: query resolution, the bounded external downloader pipeline,
// the retention sweep and the client-side batch fetcher.
//
// # Pipeline
//
// [Manager.Fetch] takes a track query through the job state machine:
//
//  1. Requested : the query and format are validated; nothing external runs for a bad request
//  2. Resolving : a slot is acquired (bounded wait), provider ids are resolved to a search
//     text and the downloader writes into a private work directory
//  3. Ready : the file is promoted to "<scratch>/<job id>.<ext>" and stamped with the creation time
//  4. Failed : any step failed; the reason code comes from [models.CodeFor]
//
// [Manager.Start] runs the same pipeline in the background for the status/file API.
//
// # Concurrency
//
// External invocations are bounded by a counting semaphore sized by download.max_concurrent.
// Waiting for a slot is capped by download.acquire_timeout, after which the request fails with
// [shared.ErrServerBusy]. A [rate.Limiter] spaces launches of the external tool.
//
// # Retention
//
// [Sweeper] periodically deletes scratch files older than the retention window and prunes
// finished jobs from the in-memory registry. Files are also refused on open once they reach the
// window, so a slow sweep never results in an expired file being served.
//
// # Progress Reporting
//
// [RunBatch] reports through a non-blocking [ProgressUpdate] channel, as the CLI renders it.
package tasks
