// Package audit records an immutable trail of tenant mutations.
//
// # Overview
//
// Every mutating operation emits an Entry tagged with its tenant and actor.
// Entries are append-only: sinks expose Write and read operations, and there is
// no update or delete API anywhere in the package.
//
// # Recording
//
// AsyncRecorder is fire-and-forget from the caller's perspective:
//
//	recorder.Record(ctx, audit.Entry{
//		TenantID:    tenantID,
//		ActorUserID: userID,
//		Action:      audit.ActionMembershipRemove,
//		EntityType:  "membership",
//		EntityID:    removedUserID,
//	})
//
// Writes run on a worker pool. A failed write is retried with bounded
// exponential backoff; when retries are exhausted the entry is appended to the
// dead-letter log instead of being dropped, and the originating request never
// sees the failure. Flush blocks until every accepted entry is either persisted
// or dead-lettered, which is the durability point for compliance.
//
// # Dead Letters
//
// DeadLetterLog is a JSON lines file written through logrus. Replay re-submits
// its entries to the sink once storage recovers; entries that still fail stay
// in the log.
//
// # Query and Export
//
// Store provides tenant-scoped search and export (JSON, NDJSON, CSV), and
// S3Archiver uploads a tenant's full trail for offboarding.
package audit
