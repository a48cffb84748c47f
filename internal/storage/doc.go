// Package storage is the SQLite persistence layer: broadcast job rows and
// the recipient registry.
//
// The job table doubles as the work queue. There is no broker; queue
// semantics (atomic claim, idempotent completion, stuck-claim recovery) are
// built from single conditional UPDATEs. The database handle is capped at
// one open connection so concurrent callers never interleave partial writes.
package storage
