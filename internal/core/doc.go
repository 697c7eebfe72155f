// Package core holds the request-independent logic for publishing databases:
// resolving URLs, producing result data and deciding how it is rendered.
//
// Nothing here knows about HTTP routing. The web package turns a request
// into a [Request], runs a data source and writes the resulting [Outcome].
//
// # Databases
//
// Attached databases live in a [Catalog]. Each [Database] wraps an [Engine]
// (SQLite or PostgreSQL). Immutable databases carry a content hash and can
// be addressed as /name-hash for long cache lifetimes; mutable databases
// get a [WriteQueue] so writes are applied by a single goroutine.
//
// # Request flow
//
//  1. [HashResolver.Resolve] finds the database and decides whether the
//     request should be redirected to its hashed URL.
//  2. [FormatNegotiator.Negotiate] picks the output format from ?_format
//     or the path extension, splitting "table.ext" segments.
//  3. A data source ([TableSource], [DatabaseSource], [QueryExecutor])
//     returns a [View]: the [ResultData] plus a [ContextBuilder] for extra
//     template context that is only computed for HTML pages.
//  4. [Dispatcher.Dispatch] hands the view to a registered [Renderer] or
//     renders the HTML template.
//
// CSV goes through [Exporter] instead, which can walk every page of a
// result and writes straight to the response.
//
// # Errors
//
// Every failure is converted to an [*Error] by [Classify]. Kinds map to
// HTTP statuses; [MapError] adds a stable code for logs and support:
//
//   - DB001-DB006: database errors (missing, locked, read-only)
//   - SQL001-SQL005: query errors (syntax, interrupted, disabled)
//   - EXP001-EXP004: export errors (streaming, size, capacity)
//   - REQ001-REQ002, RATE001: request errors
package core
