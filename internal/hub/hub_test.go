package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/model"
	"flightworks/gcs/pkg/logging"
)

// memChannel buffers sent envelopes for assertions.
type memChannel struct {
	mu   sync.Mutex
	sent []*model.Message
}

func (c *memChannel) Send(_ context.Context, msg *model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *memChannel) Close() error { return nil }

func (c *memChannel) messages() []*model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Message(nil), c.sent...)
}

func (c *memChannel) waitFor(t *testing.T, msgType string) *model.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range c.messages() {
			if msg.Type() == msgType {
				return msg
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no %q message arrived", msgType)
	return nil
}

type testHub struct {
	hub     *Hub
	clients *channels.ClientRegistry
	types   *channels.TypeRegistry
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	types := channels.NewTypeRegistry()
	require.NoError(t, types.Add(&channels.TypeDescriptor{
		ID:      "mem",
		Factory: func() (channels.Channel, error) { return &memChannel{}, nil },
	}))
	clients := channels.NewClientRegistry(types)
	h := New(logging.NewTestLogger(), clients, types)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	return &testHub{hub: h, clients: clients, types: types}
}

func (th *testHub) connect(t *testing.T, id string) (*channels.Client, *memChannel) {
	t.Helper()
	ch := &memChannel{}
	client, err := th.clients.AddWithChannel(id, "mem", ch)
	require.NoError(t, err)
	return client, ch
}

func encode(t *testing.T, msg *model.Message) []byte {
	t.Helper()
	raw, err := msg.Encode()
	require.NoError(t, err)
	return raw
}

func TestHandlerBodyBecomesResponse(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	th.hub.RegisterMessageHandler(func(msg *model.Message, _ *channels.Client) (any, error) {
		return model.Body{"pong": true}, nil
	}, "SYS-PING")

	req := model.NewNotification(model.Body{"type": "SYS-PING"})
	require.True(t, th.hub.HandleIncomingMessage(encode(t, req), sender))

	resp := ch.waitFor(t, "SYS-PING")
	assert.Equal(t, req.ID, resp.Refs)
	assert.Equal(t, true, resp.Body["pong"])
}

func TestUnhandledTypeGetsNAK(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	req := model.NewNotification(model.Body{"type": "NO-SUCH"})
	th.hub.HandleIncomingMessage(encode(t, req), sender)

	nak := ch.waitFor(t, "ACK-NAK")
	assert.Equal(t, req.ID, nak.Refs)
	assert.Contains(t, nak.Body["reason"], "NO-SUCH")
}

func TestUndecodableFrameGetsRefslessNAK(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	require.True(t, th.hub.HandleIncomingMessage([]byte("{not json"), sender))

	nak := ch.waitFor(t, "ACK-NAK")
	assert.Empty(t, nak.Refs)
	assert.Contains(t, nak.Body["reason"], "message is invalid")
}

func TestPanickingHandlerDoesNotBlockChain(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	th.hub.RegisterMessageHandler(func(*model.Message, *channels.Client) (any, error) {
		panic("boom")
	}, "SYS-PING")
	th.hub.RegisterMessageHandler(func(*model.Message, *channels.Client) (any, error) {
		return model.Body{"pong": true}, nil
	}, "SYS-PING")

	req := model.NewNotification(model.Body{"type": "SYS-PING"})
	require.NotPanics(t, func() {
		th.hub.HandleIncomingMessage(encode(t, req), sender)
	})

	resp := ch.waitFor(t, "SYS-PING")
	assert.Equal(t, req.ID, resp.Refs)
	assert.Equal(t, true, resp.Body["pong"])
}

func TestPanickingSoleHandlerFallsThroughToNAK(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	th.hub.RegisterMessageHandler(func(*model.Message, *channels.Client) (any, error) {
		panic("boom")
	}, "SYS-PING")

	req := model.NewNotification(model.Body{"type": "SYS-PING"})
	require.NotPanics(t, func() {
		th.hub.HandleIncomingMessage(encode(t, req), sender)
	})

	nak := ch.waitFor(t, "ACK-NAK")
	assert.Equal(t, req.ID, nak.Refs)
}

func TestStructurallyInvalidGetsNAK(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	th.hub.HandleIncomingMessage([]byte(`{"$fw.version":"1.0","id":"abcdefghij","body":{}}`), sender)
	nak := ch.waitFor(t, "ACK-NAK")
	assert.Contains(t, nak.Body["reason"], "invalid")
}

func TestExperimentalTypesExemptFromValidation(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	// No id, but an X- type: swallowed without a NAK.
	th.hub.HandleIncomingMessage([]byte(`{"$fw.version":"1.0","body":{"type":"X-DEBUG"}}`), sender)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ch.messages())
}

func TestRequestMiddlewareCanDrop(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	handled := false
	th.hub.RegisterMessageHandler(func(*model.Message, *channels.Client) (any, error) {
		handled = true
		return true, nil
	}, "SYS-PING")
	th.hub.RegisterRequestMiddleware(func(*model.Message, *channels.Client) *model.Message {
		return nil
	})

	th.hub.HandleIncomingMessage(encode(t, model.NewNotification(model.Body{"type": "SYS-PING"})), sender)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, handled)
	assert.Empty(t, ch.messages())
}

func TestResponseMiddlewareSeesRequest(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	th.hub.RegisterMessageHandler(func(*model.Message, *channels.Client) (any, error) {
		return model.Body{}, nil
	}, "SYS-PING")
	th.hub.RegisterResponseMiddleware(func(msg *model.Message, _ *channels.Client, inResponseTo *model.Message) *model.Message {
		if inResponseTo != nil {
			msg.Body["echo"] = inResponseTo.Type()
		}
		return msg
	})

	th.hub.HandleIncomingMessage(encode(t, model.NewNotification(model.Body{"type": "SYS-PING"})), sender)
	resp := ch.waitFor(t, "SYS-PING")
	assert.Equal(t, "SYS-PING", resp.Body["echo"])
}

func TestFailingHandlerDoesNotBlockNext(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	th.hub.RegisterMessageHandler(func(*model.Message, *channels.Client) (any, error) {
		return nil, errors.New("boom")
	}, "SYS-PING")
	th.hub.RegisterMessageHandler(func(*model.Message, *channels.Client) (any, error) {
		return model.Body{"ok": true}, nil
	}, "SYS-PING")

	th.hub.HandleIncomingMessage(encode(t, model.NewNotification(model.Body{"type": "SYS-PING"})), sender)
	resp := ch.waitFor(t, "SYS-PING")
	assert.Equal(t, true, resp.Body["ok"])
}

func TestGenericHandlerRunsAfterTyped(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	var order []string
	th.hub.RegisterGenericHandler(func(*model.Message, *channels.Client) (any, error) {
		order = append(order, "generic")
		return model.Body{"from": "generic"}, nil
	})
	th.hub.RegisterMessageHandler(func(*model.Message, *channels.Client) (any, error) {
		order = append(order, "typed")
		return false, nil
	}, "SYS-PING")

	th.hub.HandleIncomingMessage(encode(t, model.NewNotification(model.Body{"type": "SYS-PING"})), sender)
	resp := ch.waitFor(t, "SYS-PING")
	assert.Equal(t, "generic", resp.Body["from"])
	assert.Equal(t, []string{"typed", "generic"}, order)
}

func TestUseMessageHandlerDisposer(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	dispose := th.hub.UseMessageHandler(func(*model.Message, *channels.Client) (any, error) {
		return true, nil
	}, "SYS-PING")
	dispose()
	dispose() // idempotent

	th.hub.HandleIncomingMessage(encode(t, model.NewNotification(model.Body{"type": "SYS-PING"})), sender)
	nak := ch.waitFor(t, "ACK-NAK")
	assert.NotNil(t, nak)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	th := newTestHub(t)
	_, ch1 := th.connect(t, "c1")
	_, ch2 := th.connect(t, "c2")

	require.True(t, th.hub.EnqueueBroadcast(model.NewNotification(model.Body{"type": "CLK-INF"})))

	ch1.waitFor(t, "CLK-INF")
	ch2.waitFor(t, "CLK-INF")
}

func TestBroadcasterCalledOncePerType(t *testing.T) {
	types := channels.NewTypeRegistry()
	calls := 0
	var gotEncoded []byte
	require.NoError(t, types.Add(&channels.TypeDescriptor{
		ID:      "bulk",
		Factory: func() (channels.Channel, error) { return &memChannel{}, nil },
		Broadcaster: func(_ *model.Message, encoded []byte) {
			calls++
			gotEncoded = encoded
		},
	}))
	clients := channels.NewClientRegistry(types)
	h := New(logging.NewTestLogger(), clients, types)

	// No clients of the type yet: the broadcaster must not fire.
	h.broadcast(context.Background(), model.NewNotification(model.Body{"type": "UAV-INF"}))
	assert.Zero(t, calls)

	_, err := clients.Add("c1", "bulk")
	require.NoError(t, err)
	_, err = clients.Add("c2", "bulk")
	require.NoError(t, err)

	h.broadcast(context.Background(), model.NewNotification(model.Body{"type": "UAV-INF"}))
	assert.Equal(t, 1, calls, "one broadcaster call regardless of client count")
	assert.Contains(t, string(gotEncoded), "UAV-INF")
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	types := channels.NewTypeRegistry()
	clients := channels.NewClientRegistry(types)
	h := New(logging.NewTestLogger(), clients, types) // no Run: queue only fills

	msg := model.NewNotification(model.Body{"type": "SYS-MSG"})
	for i := 0; i < outboundQueueSize; i++ {
		require.True(t, h.EnqueueMessage(msg, "c1"))
	}
	assert.False(t, h.EnqueueMessage(msg, "c1"))
	assert.False(t, h.EnqueueBroadcast(msg))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.SendMessage(ctx, msg, "c1"), context.DeadlineExceeded)
}

func TestMessageForDepartedClientIsDropped(t *testing.T) {
	th := newTestHub(t)

	drops := make(chan string, 1)
	th.hub.SetStats(statsFunc{dropped: func(reason string) { drops <- reason }})

	require.True(t, th.hub.EnqueueMessage(model.NewNotification(model.Body{"type": "SYS-MSG"}), "ghost"))
	select {
	case reason := <-drops:
		assert.Equal(t, "client_gone", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("drop was not counted")
	}
}

// statsFunc adapts plain funcs to the Stats interface for tests.
type statsFunc struct {
	received func(string)
	sent     func(string)
	dropped  func(string)
}

func (s statsFunc) MessageReceived(msgType string) {
	if s.received != nil {
		s.received(msgType)
	}
}

func (s statsFunc) MessageSent(msgType string) {
	if s.sent != nil {
		s.sent(msgType)
	}
}

func (s statsFunc) MessageDropped(reason string) {
	if s.dropped != nil {
		s.dropped(reason)
	}
}

func TestIterateYieldsAndResponds(t *testing.T) {
	th := newTestHub(t)
	sender, ch := th.connect(t, "c1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbox := th.hub.Iterate(ctx, "OBJ-LIST")

	req := model.NewNotification(model.Body{"type": "OBJ-LIST"})
	go th.hub.HandleIncomingMessage(encode(t, req), sender)

	select {
	case in := <-inbox:
		assert.Equal(t, req.ID, in.Message.ID)
		assert.Equal(t, "c1", in.Sender.ID())
		require.True(t, in.Respond(model.Body{"ids": []string{}}))
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}

	resp := ch.waitFor(t, "OBJ-LIST")
	assert.Equal(t, req.ID, resp.Refs)

	// Cancelling tears the iterator down and restores NAK fallback.
	cancel()
	_, open := <-inbox
	assert.False(t, open)
}
