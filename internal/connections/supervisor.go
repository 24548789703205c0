package connections

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"flightworks/gcs/internal/model"
	"flightworks/gcs/pkg/logging"
)

// SupervisionPolicy controls how the supervisor reopens a failed
// connection.
type SupervisionPolicy struct {
	// RetryDelay is the constant backoff between reconnection attempts.
	RetryDelay time.Duration

	// MaxRetries caps reconnection attempts per outage; -1 retries
	// forever.
	MaxRetries int
}

// DefaultSupervisionPolicy retries forever with a constant 1 s backoff.
func DefaultSupervisionPolicy() SupervisionPolicy {
	return SupervisionPolicy{RetryDelay: time.Second, MaxRetries: -1}
}

// Supervisor keeps registered connections alive: it opens them, watches
// for unexpected disconnects and reopens with a backoff policy.
type Supervisor struct {
	logger logging.Logger
	policy SupervisionPolicy
}

// NewSupervisor creates a supervisor with the given policy.
func NewSupervisor(logger logging.Logger, policy SupervisionPolicy) *Supervisor {
	if policy.RetryDelay <= 0 {
		policy.RetryDelay = time.Second
	}
	return &Supervisor{logger: logger, policy: policy}
}

// Supervise runs the supervision loop for one entry until the context is
// cancelled. Cancellation is immediate and terminal: the connection is
// closed and the loop exits.
func (s *Supervisor) Supervise(ctx context.Context, entry *Entry) error {
	retry := retrypolicy.NewBuilder[any]().
		WithDelay(s.policy.RetryDelay).
		WithMaxRetries(s.policy.MaxRetries).
		Build()

	log := s.logger.WithFields(logging.Fields{
		"connection": entry.ID,
		"purpose":    entry.Purpose,
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := failsafe.With(retry).WithContext(ctx).Run(func() error {
			if openErr := entry.Connection.Open(ctx); openErr != nil {
				log.WithError(openErr).Warn("Connection open failed, will retry")
				return openErr
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				_ = entry.Connection.Close()
				return ctx.Err()
			}
			log.WithError(err).Error("Giving up on connection")
			return err
		}

		log.Info("Connection established")

		if err := s.waitForDisconnect(ctx, entry.Connection); err != nil {
			_ = entry.Connection.Close()
			return err
		}

		log.Warn("Connection lost, reconnecting")
	}
}

// waitForDisconnect blocks until the connection drops back to
// DISCONNECTED or the context is cancelled.
func (s *Supervisor) waitForDisconnect(ctx context.Context, conn Connection) error {
	disconnected := make(chan struct{}, 1)
	dispose := conn.OnStateChanged(func(_, new model.ConnectionState) {
		if new == model.ConnectionDisconnected {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		}
	})
	defer dispose()

	// The state may have dropped before the observer was attached.
	if conn.State() == model.ConnectionDisconnected {
		return nil
	}

	select {
	case <-disconnected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
