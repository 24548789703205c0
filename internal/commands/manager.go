// Package commands implements the asynchronous command-execution
// manager: receipts with timeouts, progress reports, cancellation and
// suspend/resume, plus the periodic sweep purging stale entries.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flightworks/gcs/internal/model"
	"flightworks/gcs/internal/registry"
	"flightworks/gcs/pkg/logging"
)

// Command is an asynchronous command handler. It may report progress or
// suspend through the reporter before returning its final result. The
// context is cancelled on user cancellation and on timeout.
type Command func(ctx context.Context, rep *Reporter) (any, error)

// errCancelledByUser is the cancel cause distinguishing user-initiated
// cancellation from a timeout.
var errCancelledByUser = errors.New("cancelled by user")

// ErrNoSuchReceipt is returned for operations on unknown receipt ids.
var ErrNoSuchReceipt = errors.New("no such receipt")

// ErrNotSuspended is returned when resuming a receipt that is not
// parked.
var ErrNotSuspended = errors.New("receipt is not suspended")

type execution struct {
	cmd     Command
	receipt *Receipt
}

// Manager creates and tracks command receipts.
type Manager struct {
	logger  logging.Logger
	timeout time.Duration

	mu       sync.Mutex
	receipts map[string]*Receipt
	queue    chan execution

	sent            registry.Signal[*Receipt]
	finished        registry.Signal[*Receipt]
	cancelled       registry.Signal[*Receipt]
	expired         registry.Signal[[]*Receipt]
	progressUpdated registry.Signal[*Receipt]
}

// NewManager creates a command execution manager. A zero timeout falls
// back to the 30 s default.
func NewManager(logger logging.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		logger:   logger,
		timeout:  timeout,
		receipts: make(map[string]*Receipt),
		queue:    make(chan execution, 256),
	}
}

// Timeout returns the receipt timeout of the manager.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// OnSent subscribes to receipt creation.
func (m *Manager) OnSent(fn func(*Receipt)) func() { return m.sent.Connect(fn) }

// OnFinished subscribes to the terminal signal of receipts. It fires
// only after the originating response reached the client (the
// client-notified flag gates it).
func (m *Manager) OnFinished(fn func(*Receipt)) func() { return m.finished.Connect(fn) }

// OnCancelled subscribes to user-initiated cancellations.
func (m *Manager) OnCancelled(fn func(*Receipt)) func() { return m.cancelled.Connect(fn) }

// OnExpired subscribes to timeouts; expired receipts are reported in
// batches.
func (m *Manager) OnExpired(fn func([]*Receipt)) func() { return m.expired.Connect(fn) }

// OnProgressUpdated subscribes to progress and suspend updates.
func (m *Manager) OnProgressUpdated(fn func(*Receipt)) func() { return m.progressUpdated.Connect(fn) }

// New creates a receipt for a command outcome. A Command value is
// enqueued for asynchronous execution; any other value finishes the
// receipt synchronously. The receipt is marked sent immediately so the
// caller can embed its id in the response before execution completes.
func (m *Manager) New(value any, clientToNotify string) *Receipt {
	receipt := newReceipt()
	receipt.mu.Lock()
	receipt.sent = true
	receipt.mu.Unlock()
	if clientToNotify != "" {
		receipt.addClientToNotify(clientToNotify)
	}

	m.mu.Lock()
	m.receipts[receipt.id] = receipt
	m.mu.Unlock()

	m.sent.Emit(receipt)

	switch v := value.(type) {
	case Command:
		m.queue <- execution{cmd: v, receipt: receipt}
	case func(ctx context.Context, rep *Reporter) (any, error):
		m.queue <- execution{cmd: v, receipt: receipt}
	case error:
		m.finishWith(receipt, nil, v.Error())
	default:
		m.finishWith(receipt, v, "")
	}
	return receipt
}

// Len returns the number of live receipts.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.receipts)
}

// FindByID returns the receipt registered under an id.
func (m *Manager) FindByID(id string) (*Receipt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[id]
	return r, ok
}

// IsValidReceiptID reports whether an id names a live receipt.
func (m *Manager) IsValidReceiptID(id string) bool {
	_, ok := m.FindByID(id)
	return ok
}

// MarkClientsNotified records that the response carrying the receipt id
// reached the client. Combined with a finished execution this releases
// the terminal notification.
func (m *Manager) MarkClientsNotified(id string) error {
	receipt, ok := m.FindByID(id)
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrNoSuchReceipt)
	}
	receipt.mu.Lock()
	receipt.clientNotified = true
	finished := receipt.finished
	receipt.mu.Unlock()

	if finished {
		m.emitFinished(receipt)
	}
	return nil
}

// Cancel cancels an in-flight receipt on behalf of the user.
func (m *Manager) Cancel(id string) error {
	receipt, ok := m.FindByID(id)
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrNoSuchReceipt)
	}
	receipt.mu.Lock()
	cancel := receipt.cancel
	done := receipt.finished || receipt.cancelled
	receipt.mu.Unlock()

	if done || cancel == nil {
		return fmt.Errorf("receipt %q is not cancellable", id)
	}
	cancel(errCancelledByUser)
	return nil
}

// Resume delivers a value to a suspended receipt and wakes it up.
func (m *Manager) Resume(id string, value any) error {
	receipt, ok := m.FindByID(id)
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrNoSuchReceipt)
	}
	receipt.mu.Lock()
	suspended := receipt.suspended
	receipt.mu.Unlock()
	if !suspended {
		return fmt.Errorf("%q: %w", id, ErrNotSuspended)
	}
	select {
	case receipt.resume <- value:
		return nil
	default:
		return fmt.Errorf("%q: resume already pending", id)
	}
}

// ForgetClient removes a disconnected client from every notify set so
// terminal notifications are dropped for it only.
func (m *Manager) ForgetClient(clientID string) {
	m.mu.Lock()
	receipts := make([]*Receipt, 0, len(m.receipts))
	for _, r := range m.receipts {
		receipts = append(receipts, r)
	}
	m.mu.Unlock()
	for _, r := range receipts {
		r.dropClientToNotify(clientID)
	}
}

// Run drives the execution loop and the periodic cleanup sweep until the
// context is cancelled.
func (m *Manager) Run(ctx context.Context, cleanupPeriod time.Duration) error {
	if cleanupPeriod <= 0 {
		cleanupPeriod = 10 * time.Second
	}
	ticker := time.NewTicker(cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ex := <-m.queue:
			go m.execute(ctx, ex)
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Manager) execute(parent context.Context, ex execution) {
	receipt := ex.receipt

	deadlined, cancelDeadline := context.WithTimeout(parent, m.timeout)
	defer cancelDeadline()
	ctx, cancel := context.WithCancelCause(deadlined)
	defer cancel(nil)

	receipt.mu.Lock()
	receipt.cancel = cancel
	receipt.mu.Unlock()

	rep := &Reporter{manager: m, receipt: receipt, ctx: ctx}
	result, err := runProtected(ctx, ex.cmd, rep, m.logger)

	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errCancelledByUser):
		m.finishCancelled(receipt)
	case errors.Is(cause, context.DeadlineExceeded):
		m.finishTimedOut(receipt)
	case err != nil:
		m.finishWith(receipt, nil, err.Error())
	default:
		m.finishWith(receipt, result, "")
	}
}

// runProtected runs the command, converting panics into error results so
// one broken handler cannot take the manager down.
func runProtected(ctx context.Context, cmd Command, rep *Reporter, logger logging.Logger) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.WithField("panic", r).Error("Command handler panicked")
			}
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return cmd(ctx, rep)
}

func (m *Manager) finishWith(receipt *Receipt, result any, errText string) {
	receipt.mu.Lock()
	if receipt.finished || receipt.cancelled {
		receipt.mu.Unlock()
		return
	}
	receipt.finished = true
	receipt.result = result
	receipt.errText = errText
	notified := receipt.clientNotified
	receipt.mu.Unlock()

	if notified {
		m.emitFinished(receipt)
	}
}

func (m *Manager) finishCancelled(receipt *Receipt) {
	receipt.mu.Lock()
	if receipt.finished || receipt.cancelled {
		receipt.mu.Unlock()
		return
	}
	receipt.cancelled = true
	receipt.cancelledByUser = true
	receipt.mu.Unlock()

	m.cancelled.Emit(receipt)
	m.remove(receipt.id)
}

func (m *Manager) finishTimedOut(receipt *Receipt) {
	receipt.mu.Lock()
	if receipt.finished || receipt.cancelled {
		receipt.mu.Unlock()
		return
	}
	receipt.cancelled = true
	receipt.mu.Unlock()

	m.expired.Emit([]*Receipt{receipt})
	m.remove(receipt.id)
}

// emitFinished fires the terminal signal and removes the receipt. The
// signal is emitted at most once per receipt.
func (m *Manager) emitFinished(receipt *Receipt) {
	m.mu.Lock()
	_, live := m.receipts[receipt.id]
	delete(m.receipts, receipt.id)
	m.mu.Unlock()
	if live {
		m.finished.Emit(receipt)
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.receipts, id)
	m.mu.Unlock()
}

// cleanup purges finished and cancelled entries, and collectively
// expires entries that never finished within the timeout.
func (m *Manager) cleanup() {
	cutoff := time.Now().Add(-m.timeout)

	var stale []*Receipt
	m.mu.Lock()
	for id, r := range m.receipts {
		r.mu.Lock()
		done := r.finished || r.cancelled
		old := !r.finished && r.createdAt.Before(cutoff)
		r.mu.Unlock()
		switch {
		case done:
			delete(m.receipts, id)
		case old:
			stale = append(stale, r)
			delete(m.receipts, id)
		}
	}
	m.mu.Unlock()

	if len(stale) > 0 {
		m.expired.Emit(stale)
	}
}

// StatusBody builds the ASYNC-ST style status body of a receipt.
func StatusBody(receipt *Receipt) model.Body {
	body := model.Body{"type": "ASYNC-ST", "id": receipt.ID()}
	if p := receipt.Progress(); p != nil {
		body["progress"] = p
	}
	if receipt.Suspended() {
		body["suspended"] = true
	}
	return body
}
