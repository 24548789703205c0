// Package hub implements the message hub: envelope construction, inbound
// handler dispatch with middleware, the bounded outbound queue with
// broadcast fan-out, and the rate-limiter registry that coalesces
// high-frequency notifications.
package hub

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/model"
	"flightworks/gcs/internal/registry"
	"flightworks/gcs/pkg/logging"
)

// outboundQueueSize bounds the outbound request queue. Enqueue drops
// silently when the queue is full; Send blocks.
const outboundQueueSize = 4096

// Handler processes one inbound message. It reports the message as
// handled by returning true, a response body, or a complete envelope;
// returning false or nil leaves the message to the next handler.
type Handler func(msg *model.Message, sender *channels.Client) (any, error)

// RequestMiddleware may rewrite or drop (nil) an inbound message before
// handler dispatch.
type RequestMiddleware func(msg *model.Message, sender *channels.Client) *model.Message

// ResponseMiddleware may rewrite or drop (nil) an outbound message just
// before it is written to a client channel.
type ResponseMiddleware func(msg *model.Message, to *channels.Client, inResponseTo *model.Message) *model.Message

// Stats receives hub traffic counters; the metrics package implements it.
type Stats interface {
	MessageReceived(msgType string)
	MessageSent(msgType string)
	MessageDropped(reason string)
}

type request struct {
	msg          *model.Message
	to           string // client id; "" means broadcast
	inResponseTo *model.Message
}

// Hub routes envelopes between clients and the rest of the server.
type Hub struct {
	logger  logging.Logger
	clients *channels.ClientRegistry
	types   *channels.TypeRegistry
	stats   Stats

	mu         sync.RWMutex
	handlers   map[string][]Handler
	generic    []Handler
	requestMW  []RequestMiddleware
	responseMW []ResponseMiddleware

	queue chan request

	fanoutMu    sync.Mutex
	fanoutDirty bool
	fanout      []*channels.TypeDescriptor
}

// New creates a message hub over the given client and channel-type
// registries. Registry changes invalidate the cached broadcast fan-out.
func New(logger logging.Logger, clients *channels.ClientRegistry, types *channels.TypeRegistry) *Hub {
	h := &Hub{
		logger:      logger,
		clients:     clients,
		types:       types,
		handlers:    make(map[string][]Handler),
		queue:       make(chan request, outboundQueueSize),
		fanoutDirty: true,
	}

	invalidate := func() {
		h.fanoutMu.Lock()
		h.fanoutDirty = true
		h.fanoutMu.Unlock()
	}
	types.OnAdded(func(registry.Entry[*channels.TypeDescriptor]) { invalidate() })
	types.OnRemoved(func(registry.Entry[*channels.TypeDescriptor]) { invalidate() })
	clients.OnAdded(func(*channels.Client) { invalidate() })
	clients.OnRemoved(func(*channels.Client) { invalidate() })

	return h
}

// SetStats installs the traffic counter sink.
func (h *Hub) SetStats(s Stats) { h.stats = s }

// CreateResponseTo builds a response envelope for a request.
func (h *Hub) CreateResponseTo(request *model.Message, body model.Body) *model.Message {
	return model.NewResponseTo(request, body)
}

// CreateNotification builds a notification envelope with no refs.
func (h *Hub) CreateNotification(body model.Body) *model.Message {
	return model.NewNotification(body)
}

// RegisterMessageHandler installs a handler for the given message types.
func (h *Hub) RegisterMessageHandler(handler Handler, types ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range types {
		h.handlers[t] = append(h.handlers[t], handler)
	}
}

// RegisterGenericHandler installs a handler invoked for every message
// type after the type-specific handlers.
func (h *Hub) RegisterGenericHandler(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.generic = append(h.generic, handler)
}

// UseMessageHandler installs a handler and returns a disposer removing
// it again.
func (h *Hub) UseMessageHandler(handler Handler, types ...string) func() {
	h.RegisterMessageHandler(handler, types...)
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for _, t := range types {
				list := h.handlers[t]
				for i := range list {
					if isSameHandler(list[i], handler) {
						h.handlers[t] = append(list[:i], list[i+1:]...)
						break
					}
				}
				if len(h.handlers[t]) == 0 {
					delete(h.handlers, t)
				}
			}
		})
	}
}

func isSameHandler(a, b Handler) bool {
	return fmt.Sprintf("%p", a) == fmt.Sprintf("%p", b)
}

// RegisterRequestMiddleware appends middleware to the end of the inbound
// chain.
func (h *Hub) RegisterRequestMiddleware(mw RequestMiddleware) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requestMW = append(h.requestMW, mw)
}

// RegisterRequestMiddlewareFront prepends middleware to the inbound
// chain.
func (h *Hub) RegisterRequestMiddlewareFront(mw RequestMiddleware) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requestMW = append([]RequestMiddleware{mw}, h.requestMW...)
}

// RegisterResponseMiddleware appends middleware to the end of the
// outbound chain.
func (h *Hub) RegisterResponseMiddleware(mw ResponseMiddleware) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responseMW = append(h.responseMW, mw)
}

// RegisterResponseMiddlewareFront prepends middleware to the outbound
// chain.
func (h *Hub) RegisterResponseMiddlewareFront(mw ResponseMiddleware) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responseMW = append([]ResponseMiddleware{mw}, h.responseMW...)
}

// HandleIncomingMessage decodes and dispatches one raw inbound frame.
// The return value reports whether the frame was consumed (including
// frames answered with ACK-NAK).
func (h *Hub) HandleIncomingMessage(raw []byte, sender *channels.Client) bool {
	msg, err := model.DecodeMessage(raw)
	if err != nil {
		h.logger.WithError(err).WithField("client", sender.ID()).Warn("Undecodable inbound frame")
		// No request id exists to reference; refuse with a refs-less NAK.
		h.EnqueueMessage(model.NewNAK(nil, fmt.Sprintf("message is invalid: %v", err)), sender.ID())
		return true
	}

	msgType := msg.Type()
	if h.stats != nil {
		h.stats.MessageReceived(msgType)
	}

	// Structurally invalid messages are refused unless experimental.
	if msgType == "" || msg.ID == "" {
		if !strings.HasPrefix(msgType, "X-") {
			h.EnqueueResponse(model.NewNAK(msg, "message is invalid: missing type or id"), msg, sender.ID())
		}
		return true
	}

	h.mu.RLock()
	requestMW := append([]RequestMiddleware(nil), h.requestMW...)
	typed := append([]Handler(nil), h.handlers[msgType]...)
	generic := append([]Handler(nil), h.generic...)
	h.mu.RUnlock()

	for _, mw := range requestMW {
		msg = mw(msg, sender)
		if msg == nil {
			return true
		}
	}

	for _, handler := range append(typed, generic...) {
		handled, err := h.invokeHandler(handler, msg, sender)
		if err != nil {
			h.logger.WithError(err).WithFields(logging.Fields{
				"type":   msgType,
				"client": sender.ID(),
			}).Error("Message handler failed")
			continue
		}
		switch result := handled.(type) {
		case nil:
		case bool:
			if result {
				return true
			}
		case model.Body:
			h.EnqueueResponse(model.NewResponseTo(msg, result), msg, sender.ID())
			return true
		case map[string]any:
			h.EnqueueResponse(model.NewResponseTo(msg, model.Body(result)), msg, sender.ID())
			return true
		case *model.Message:
			h.EnqueueResponse(result, msg, sender.ID())
			return true
		default:
			h.logger.WithField("type", msgType).Warnf("Ignoring unexpected handler result %T", result)
		}
	}

	h.EnqueueResponse(model.NewNAK(msg, fmt.Sprintf("no handler for message type %q", msgType)), msg, sender.ID())
	return true
}

// invokeHandler contains handler panics so the rest of the chain still
// runs; a panicking handler counts as not having handled the message.
func (h *Hub) invokeHandler(handler Handler, msg *model.Message, sender *channels.Client) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithFields(logging.Fields{
				"type":   msg.Type(),
				"client": sender.ID(),
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("Message handler panicked")
			result, err = nil, nil
		}
	}()
	return handler(msg, sender)
}

// SendMessage queues a message for one client, blocking while the
// outbound queue is full.
func (h *Hub) SendMessage(ctx context.Context, msg *model.Message, to string) error {
	select {
	case h.queue <- request{msg: msg, to: to}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueMessage queues a message for one client, dropping it silently
// when the queue is full. Returns false on drop.
func (h *Hub) EnqueueMessage(msg *model.Message, to string) bool {
	select {
	case h.queue <- request{msg: msg, to: to}:
		return true
	default:
		h.noteDrop("queue_full")
		return false
	}
}

// EnqueueResponse queues a response for the client that sent the
// request, keeping the request around for the response middleware chain.
func (h *Hub) EnqueueResponse(msg *model.Message, inResponseTo *model.Message, to string) bool {
	select {
	case h.queue <- request{msg: msg, to: to, inResponseTo: inResponseTo}:
		return true
	default:
		h.noteDrop("queue_full")
		return false
	}
}

// BroadcastMessage queues a notification for every connected client,
// blocking while the outbound queue is full.
func (h *Hub) BroadcastMessage(ctx context.Context, msg *model.Message) error {
	select {
	case h.queue <- request{msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueBroadcast queues a notification for every connected client,
// dropping it silently when the queue is full.
func (h *Hub) EnqueueBroadcast(msg *model.Message) bool {
	select {
	case h.queue <- request{msg: msg}:
		return true
	default:
		h.noteDrop("queue_full")
		return false
	}
}

// Run drives the outbound dispatcher until the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-h.queue:
			h.dispatch(ctx, req)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, req request) {
	if req.to == "" {
		h.broadcast(ctx, req.msg)
		return
	}

	client, err := h.clients.FindByID(req.to)
	if err != nil {
		h.logger.WithField("client", req.to).Debug("Dropping message for departed client")
		h.noteDrop("client_gone")
		return
	}

	msg := req.msg
	h.mu.RLock()
	responseMW := append([]ResponseMiddleware(nil), h.responseMW...)
	h.mu.RUnlock()
	for _, mw := range responseMW {
		msg = mw(msg, client, req.inResponseTo)
		if msg == nil {
			return
		}
	}

	if err := client.Channel().Send(ctx, msg); err != nil {
		// Broken or closed channels mean the client is gone; recover
		// locally per the transport error policy.
		h.logger.WithError(err).WithField("client", client.ID()).Warn("Channel send failed")
		h.noteDrop("send_failed")
		return
	}
	if h.stats != nil {
		h.stats.MessageSent(msg.Type())
	}
}

// broadcast fans a notification out through the cached per-channel-type
// list: channel types with a broadcaster get one call when they have at
// least one client; others get one direct send per client.
func (h *Hub) broadcast(ctx context.Context, msg *model.Message) {
	for _, desc := range h.fanoutSnapshot() {
		if desc.Broadcaster != nil {
			if h.clients.HasClientsForChannelType(desc.ID) {
				encoded, err := msg.Encode()
				if err != nil {
					h.logger.WithError(err).Error("Failed to encode broadcast")
					return
				}
				desc.Broadcaster(msg, encoded)
				if h.stats != nil {
					h.stats.MessageSent(msg.Type())
				}
			}
			continue
		}
		for _, client := range h.clients.ClientsForChannelType(desc.ID) {
			if err := client.Channel().Send(ctx, msg); err != nil {
				h.logger.WithError(err).WithField("client", client.ID()).Warn("Broadcast send failed")
				h.noteDrop("send_failed")
				continue
			}
			if h.stats != nil {
				h.stats.MessageSent(msg.Type())
			}
		}
	}
}

func (h *Hub) fanoutSnapshot() []*channels.TypeDescriptor {
	h.fanoutMu.Lock()
	defer h.fanoutMu.Unlock()
	if h.fanoutDirty {
		h.fanout = h.fanout[:0]
		for _, id := range h.types.IDs() {
			if desc, ok := h.types.Get(id); ok {
				h.fanout = append(h.fanout, desc)
			}
		}
		h.fanoutDirty = false
	}
	out := make([]*channels.TypeDescriptor, len(h.fanout))
	copy(out, h.fanout)
	return out
}

func (h *Hub) noteDrop(reason string) {
	if h.stats != nil {
		h.stats.MessageDropped(reason)
	}
}
