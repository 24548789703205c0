package commands

import (
	"context"

	"flightworks/gcs/internal/model"
)

// Reporter is handed to asynchronous command handlers so they can report
// progress and suspend execution while waiting for external input.
type Reporter struct {
	manager *Manager
	receipt *Receipt
	ctx     context.Context
}

// ReceiptID returns the id of the receipt the reporter belongs to.
func (rep *Reporter) ReceiptID() string { return rep.receipt.id }

// Progress records an intermediate progress report on the receipt and
// fires the progress-updated signal.
func (rep *Reporter) Progress(p model.Progress) {
	rep.receipt.mu.Lock()
	rep.receipt.progress = &p
	rep.receipt.mu.Unlock()
	rep.manager.progressUpdated.Emit(rep.receipt)
}

// Suspend parks the handler until Resume is called with the receipt id,
// returning the resume value. An optional progress payload is attached
// to the suspend notification. Suspension ends early when the command
// context is cancelled or times out.
func (rep *Reporter) Suspend(progress *model.Progress) (any, error) {
	rep.receipt.mu.Lock()
	rep.receipt.suspended = true
	if progress != nil {
		rep.receipt.progress = progress
	}
	rep.receipt.mu.Unlock()
	rep.manager.progressUpdated.Emit(rep.receipt)

	defer func() {
		rep.receipt.mu.Lock()
		rep.receipt.suspended = false
		rep.receipt.mu.Unlock()
	}()

	select {
	case value := <-rep.receipt.resume:
		return value, nil
	case <-rep.ctx.Done():
		return nil, context.Cause(rep.ctx)
	}
}
