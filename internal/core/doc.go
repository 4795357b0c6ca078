// Package core runs import sessions: a CSV or TSV file is uploaded, its
// columns are mapped onto a resource type's fields, every row is validated
// and the valid rows are committed to the import target in batches.
//
// # Sessions
//
// A [Session] moves through four stages:
//
//	upload → mapping → validation → import
//
// Going back is allowed from mapping and validation; import is final.
// Operations that are not allowed in the current stage return a
// [*TransitionError], which matches [ErrInvalidTransition].
//
// # Service
//
// [Service] owns the live sessions and is the entry point for the web
// handlers and the CLI:
//
//	sess, _ := svc.CreateSession(ctx, "article")
//	svc.Upload(ctx, sess.ID, "articles.csv", file)
//	svc.UpdateMapping(sess.ID, map[string]string{"author": "Writer"})
//	svc.Validate(ctx, sess.ID)
//	svc.StartImport(ctx, sess.ID)
//	events, _ := svc.Subscribe(sess.ID)
//
// Imports run in the background, bounded by an [ImportLimiter]. Progress
// is published as [Event] values. A failed import can be resumed with
// [Service.Retry], which starts at the first batch that was not committed.
//
// # Ledger
//
// When a [RunStore] is configured every import run is recorded with its
// committed batch count so operators can see what reached the target.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]. Each
// message carries a code for support reference.
package core
