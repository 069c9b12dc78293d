package sockpuppet

import (
	"context"
	"fmt"
)

// WithClient manages client lifecycle with automatic cleanup.
//
// This helper creates a client, connects it with the provided options,
// executes the callback, and ensures cleanup via Close() when done.
//
// If the callback returns an error, it is returned to the caller.
// If Close() fails, a warning is logged but does not override the
// callback's error.
//
// Example usage:
//
//	err := sockpuppet.WithClient(ctx, func(c sockpuppet.Client) error {
//	    _, err := c.Call(ctx, "window.showInformationMessage",
//	        map[string]any{"message": "hello"})
//	    return err
//	}, sockpuppet.WithLogger(log))
func WithClient(ctx context.Context, fn func(Client) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	client := NewClient()
	if err := client.Connect(ctx, opts...); err != nil {
		return fmt.Errorf("failed to connect client: %w", err)
	}

	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Warn("failed to close client", "error", closeErr)
		}
	}()

	return fn(client)
}
