// Package appctx provides context helpers for work that must outlive the
// call that triggered it.
package appctx

import (
	"context"
	"time"
)

// Detached returns a context independent of any request lifetime, bounded by
// timeout. Failure records and status settlements use it: the write must
// land even when the triggering context is already cancelled or timed out.
func Detached(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
