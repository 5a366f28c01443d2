// Package core provides the import service for financial spreadsheets.
//
// This package ties the ingest pipeline to persistence and job tracking,
// independent of any transport. It is used by the web handlers, the CLI and
// tests without modification.
//
// # Pipeline
//
// A client works through three steps, each usable on its own:
//
//  1. [Service.Probe] lists the sheets of a file and recommends one
//  2. [Service.Preview] classifies the columns of a sheet, suggests a
//     mapping and grades data quality
//  3. [Service.StartImport] materializes every row and stores the records
//
// Probe and preview results are cached per file content, so the repeated
// calls of an interactive client do not re-read the file.
//
// # Import Jobs
//
// StartImport validates the source, the sheet structure and the mapping
// synchronously; those failures are returned to the caller before any job
// exists. The import then runs in the background:
//
//   - Concurrency is bounded by an [ImportLimiter]
//   - Records are written in batches of [Options.BatchSize]
//   - Progress is broadcast to subscribers via [Service.SubscribeProgress]
//   - [Service.CancelImport] stops a job; batches already written are kept
//
// Rows that fail to convert are logged as row errors and do not stop the
// job. Re-importing the same file skips rows already stored, by
// [Fingerprint].
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - SRC001-SRC004: Source errors (unreadable, too large, structure, sheet)
//   - MAP001-MAP003: Mapping errors
//   - ROW001-ROW002: Row conversion errors
//   - IMP001-IMP005: Import job errors (busy, not found, cancelled, timeout, bad request)
//   - DB001-DB005: Database errors (duplicates, constraints, connections)
//   - RATE001: Too many requests from one client
package core
