// File: taskctx/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package taskctx provides task-scoped values. Every task spawned through a
// Store gets a node holding its own values and a link to the task that
// spawned it; lookups walk from the current task towards the root.
//
// The current task travels in a context.Context:
//
//	ctx, done := store.Spawn(ctx)
//	defer done()
//	_ = store.Set(ctx, "request_id", id)
//	go func() {
//		child, end := store.Spawn(ctx)
//		defer end()
//		rid, _ := store.Get(child, "request_id")
//		...
//	}()
package taskctx
