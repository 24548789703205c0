package hub

import (
	"context"
	"sync"

	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/model"
)

// Inbound is one message yielded by Iterate, with a responder that
// enqueues a body as the response.
type Inbound struct {
	Message *model.Message
	Body    model.Body
	Sender  *channels.Client
	Respond func(body model.Body) bool
}

// Iterate exposes a pull-style consumer over the given message types.
// The returned channel yields until the context is cancelled; the
// underlying handler is removed and the channel closed on cancellation.
func (h *Hub) Iterate(ctx context.Context, types ...string) <-chan Inbound {
	out := make(chan Inbound, 16)

	var mu sync.Mutex
	closed := false

	dispose := h.UseMessageHandler(func(msg *model.Message, sender *channels.Client) (any, error) {
		inbound := Inbound{
			Message: msg,
			Body:    msg.Body,
			Sender:  sender,
			Respond: func(body model.Body) bool {
				return h.EnqueueResponse(model.NewResponseTo(msg, body), msg, sender.ID())
			},
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return false, nil
		}
		select {
		case out <- inbound:
			return true, nil
		case <-ctx.Done():
			return false, nil
		}
	}, types...)

	go func() {
		<-ctx.Done()
		dispose()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out
}
