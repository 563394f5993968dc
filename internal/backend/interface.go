// Package backend assembles the service's collaborators (ledger store, text
// recognizer, document store, image archive and event publisher) from the
// application configuration.
package backend

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"pettycash/internal/services"
)

// CleanupFunc releases a resource held by a component.
type CleanupFunc func() error

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

// Components is the wired service plus what it needs for health and shutdown.
type Components struct {
	Receipts *services.ReceiptService
	// Checks are keyed by dependency name and run by /readyz.
	Checks map[string]ReadinessCheck

	mu       sync.Mutex
	cleanups []CleanupFunc
}

func (c *Components) onClose(fn CleanupFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, fn)
}

// Close releases every component concurrently and returns all failures
// joined. It is safe to call more than once.
func (c *Components) Close(ctx context.Context) error {
	c.mu.Lock()
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  []error
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, fn := range cleanups {
		g.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- fn() }()
			select {
			case err := <-done:
				if err != nil {
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
				}
			case <-ctx.Done():
				errMu.Lock()
				errs = append(errs, ctx.Err())
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
