package commands

import (
	"context"
	"sync"
	"time"

	"flightworks/gcs/internal/model"
)

// Receipt tracks one asynchronous command on the server. Receipt ids
// share the message id format so they can travel in envelope bodies.
type Receipt struct {
	id        string
	createdAt time.Time

	mu              sync.Mutex
	sent            bool
	clientNotified  bool
	finished        bool
	cancelled       bool
	cancelledByUser bool
	suspended       bool
	progress        *model.Progress
	result          any
	errText         string
	clientsToNotify map[string]struct{}

	cancel context.CancelCauseFunc
	resume chan any
}

func newReceipt() *Receipt {
	return &Receipt{
		id:              model.NewMessageID(),
		createdAt:       time.Now(),
		clientsToNotify: make(map[string]struct{}),
		resume:          make(chan any, 1),
	}
}

// ID returns the receipt id.
func (r *Receipt) ID() string { return r.id }

// CreatedAt returns the creation time of the receipt.
func (r *Receipt) CreatedAt() time.Time { return r.createdAt }

// Finished reports whether the command reached a terminal result.
func (r *Receipt) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Cancelled reports whether the command was cancelled or timed out.
func (r *Receipt) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// CancelledByUser reports whether a cancellation was user-initiated
// rather than a timeout.
func (r *Receipt) CancelledByUser() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelledByUser
}

// Suspended reports whether the command is parked waiting for Resume.
func (r *Receipt) Suspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspended
}

// Progress returns the latest progress report, or nil.
func (r *Receipt) Progress() *model.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Result returns the terminal result and error text of the command.
func (r *Receipt) Result() (any, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.errText
}

// ClientsToNotify returns the ids of clients awaiting the terminal
// notification.
func (r *Receipt) ClientsToNotify() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.clientsToNotify))
	for id := range r.clientsToNotify {
		out = append(out, id)
	}
	return out
}

func (r *Receipt) addClientToNotify(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clientsToNotify[clientID] = struct{}{}
}

func (r *Receipt) dropClientToNotify(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clientsToNotify, clientID)
}
