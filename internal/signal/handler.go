// Package signal provides signal handling for graceful shutdown of training runs.
//
// The SetupSignalHandler function registers handlers for SIGINT and SIGTERM.
// The run orchestrator only checks the context between training steps, so a
// signal never interrupts an in-flight batch update; it requests a stop at
// the next step boundary, where a best-effort final checkpoint is attempted.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler registers SIGINT and SIGTERM handlers.
// When a signal is received, it calls the onInterrupt callback (if non-nil),
// then cancels the context.
//
// This function starts a goroutine that listens for signals. The goroutine
// terminates when either a signal is received or the context is canceled.
//
// Example usage:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	signal.SetupSignalHandler(ctx, cancel, func() {
//	    fmt.Println("Interrupt received, stopping at the next step boundary...")
//	})
func SetupSignalHandler(ctx context.Context, cancel context.CancelFunc, onInterrupt func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			if onInterrupt != nil {
				onInterrupt()
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}()
}
