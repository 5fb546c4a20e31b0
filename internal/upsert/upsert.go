// Package upsert implements the C7 Upsert Writer: it takes a parsed UPSERT
// AST and drives the store's transactional Concept-merge-then-Proposition
// writes (spec.md §4.7). The writer is the only component that creates
// Proposition nodes.
package upsert

import (
	"context"

	"github.com/kqlgateway/kqlgateway/internal/gwerrors"
	"github.com/kqlgateway/kqlgateway/internal/kql"
	"github.com/kqlgateway/kqlgateway/internal/resilience"
	"github.com/kqlgateway/kqlgateway/internal/store"
)

// Writer runs UPSERT statements against a store.Pool.
type Writer struct {
	pool    store.Pool
	breaker *resilience.CircuitBreaker
}

// New constructs a Writer. breaker may be nil for tests against a fake pool.
func New(pool store.Pool, breaker *resilience.CircuitBreaker) *Writer {
	return &Writer{pool: pool, breaker: breaker}
}

// Write parses and executes query as an UPSERT statement.
func (w *Writer) Write(ctx context.Context, query string) error {
	u, err := kql.ParseUpsert(query)
	if err != nil {
		return err
	}
	if _, ok := u.Name(); !ok {
		return gwerrors.Validation("INVALID_UPSERT_SHAPE", "UPSERT requires a 'name' field")
	}

	session, err := w.pool.Acquire(ctx)
	if err != nil {
		return gwerrors.Internal(err)
	}
	defer session.Release()

	run := func() error { return session.Upsert(ctx, u) }

	var execErr error
	if w.breaker == nil {
		execErr = run()
	} else {
		execErr = w.breaker.Execute(run)
	}
	if execErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return gwerrors.Timeout("store operation did not complete before the request deadline")
	}
	if _, ok := gwerrors.As(execErr); ok {
		return execErr
	}
	return gwerrors.Internal(execErr)
}
