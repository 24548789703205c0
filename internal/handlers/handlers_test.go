package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/clocks"
	"flightworks/gcs/internal/commands"
	"flightworks/gcs/internal/connections"
	"flightworks/gcs/internal/devtree"
	"flightworks/gcs/internal/hub"
	"flightworks/gcs/internal/model"
	"flightworks/gcs/internal/object"
	"flightworks/gcs/internal/uav"
	"flightworks/gcs/pkg/logging"
)

// memChannel buffers envelopes sent to one client.
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
	deadline := time.Now().Add(3 * time.Second)
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

// waitForMatch waits for a message of the type satisfying the predicate.
func (c *memChannel) waitForMatch(t *testing.T, msgType string, match func(*model.Message) bool) *model.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range c.messages() {
			if msg.Type() == msgType && match(msg) {
				return msg
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no matching %q message arrived", msgType)
	return nil
}

// fixture is a fully wired handler server over in-memory channels.
type fixture struct {
	server  *Server
	hub     *hub.Hub
	clients *channels.ClientRegistry
	objects *object.Registry
	tree    *devtree.Tree
	manager *commands.Manager
	conns   *connections.Registry
	clocks  *clocks.Registry
	drivers *uav.DriverRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.NewTestLogger()

	types := channels.NewTypeRegistry()
	require.NoError(t, types.Add(&channels.TypeDescriptor{
		ID:      "mem",
		Factory: func() (channels.Channel, error) { return &memChannel{}, nil },
	}))
	clients := channels.NewClientRegistry(types)
	messageHub := hub.New(logger, clients, types)

	objects := object.NewRegistry(0)
	tree := devtree.NewTree()
	manager := commands.NewManager(logger, time.Second)
	conns := connections.NewRegistry()
	clockRegistry := clocks.NewRegistry()
	drivers := uav.NewDriverRegistry()
	dispatcher := uav.NewDispatcher(logger, drivers, manager)
	limiters := hub.NewLimiterRegistry(logger)

	require.NoError(t, limiters.Register(TagUAVInf, NewUAVInfLimiter(10*time.Millisecond, objects)))
	require.NoError(t, limiters.Register(TagSysMsg, NewSysMsgLimiter(10*time.Millisecond)))
	require.NoError(t, limiters.Register(TagConnInf, NewConnInfLimiter(conns)))

	server := NewServer(Config{
		Logger:      logger,
		Hub:         messageHub,
		Clients:     clients,
		Objects:     objects,
		Tree:        tree,
		Manager:     manager,
		Connections: conns,
		Clocks:      clockRegistry,
		Dispatcher:  dispatcher,
		Limiters:    limiters,
		ServiceName: "towerman",
		Ports:       map[string]int{"http": 18070},
	})
	server.Register()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go messageHub.Run(ctx)
	go manager.Run(ctx, time.Second)
	go limiters.Run(ctx, messageHub)

	return &fixture{
		server:  server,
		hub:     messageHub,
		clients: clients,
		objects: objects,
		tree:    tree,
		manager: manager,
		conns:   conns,
		clocks:  clockRegistry,
		drivers: drivers,
	}
}

func (f *fixture) connect(t *testing.T, id string) (*channels.Client, *memChannel) {
	t.Helper()
	ch := &memChannel{}
	client, err := f.clients.AddWithChannel(id, "mem", ch)
	require.NoError(t, err)
	return client, ch
}

// send pushes an encoded request into the hub on behalf of the client.
func (f *fixture) send(t *testing.T, sender *channels.Client, body model.Body) *model.Message {
	t.Helper()
	msg := model.NewNotification(body)
	raw, err := msg.Encode()
	require.NoError(t, err)
	f.hub.HandleIncomingMessage(raw, sender)
	return msg
}

func TestPingRoundTrip(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	req := f.send(t, sender, model.Body{"type": "SYS-PING"})
	ack := ch.waitFor(t, "ACK-ACK")
	assert.Equal(t, req.ID, ack.Refs)
}

func TestVersionAndTimeAndPorts(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	f.send(t, sender, model.Body{"type": "SYS-VER"})
	ver := ch.waitFor(t, "SYS-VER")
	assert.Equal(t, "towerman", ver.Body["name"])
	assert.Contains(t, ver.Body, "software")

	f.send(t, sender, model.Body{"type": "SYS-TIME"})
	now := ch.waitFor(t, "SYS-TIME")
	ts, ok := now.Body["timestamp"].(int64)
	require.True(t, ok)
	assert.InDelta(t, time.Now().UnixMilli(), ts, 5000)

	f.send(t, sender, model.Body{"type": "SYS-PORTS"})
	ports := ch.waitFor(t, "SYS-PORTS")
	assert.Equal(t, map[string]any{"http": 18070}, ports.Body["ports"])
}

func TestIncomingACKIsSwallowed(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	f.send(t, sender, model.Body{"type": "ACK-ACK"})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ch.messages(), "acks must not be answered")
}

func TestObjectListWithFilter(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	require.NoError(t, f.objects.Add(model.NewUAV("DRN-01", "virtual")))
	require.NoError(t, f.objects.Add(model.NewBeacon("BCN-01")))

	f.send(t, sender, model.Body{"type": "OBJ-LIST"})
	all := ch.waitFor(t, "OBJ-LIST")
	assert.ElementsMatch(t, []string{"DRN-01", "BCN-01"}, all.Body["ids"])

	req := f.send(t, sender, model.Body{"type": "OBJ-LIST", "filter": []any{"uav"}})
	filtered := ch.waitForMatch(t, "OBJ-LIST", func(m *model.Message) bool { return m.Refs == req.ID })
	assert.Equal(t, []string{"DRN-01"}, filtered.Body["ids"])
}

func TestUAVInfPoll(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	u := model.NewUAV("DRN-01", "virtual")
	u.UpdateStatus(func(st *model.UAVStatusInfo) { st.Mode = "loiter" })
	require.NoError(t, f.objects.Add(u))

	f.send(t, sender, model.Body{"type": "UAV-INF", "ids": []any{"DRN-01", "DRN-99"}})
	resp := ch.waitFor(t, "UAV-INF")

	status := resp.Body["status"].(map[string]any)
	frame := status["DRN-01"].(model.UAVStatusInfo)
	assert.Equal(t, "loiter", frame.Mode)
	errs := resp.Body["error"].(map[string]string)
	assert.Contains(t, errs["DRN-99"], "DRN-99")
}

func TestUAVCommandProducesReceiptBeforeTerminalNotice(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	require.NoError(t, f.objects.Add(model.NewUAV("DRN-01", "virtual")))

	drv := uav.NewDriver("virtual")
	drv.RegisterCommand("takeoff", func(context.Context, *model.UAV, model.Body) (any, error) {
		return commands.Command(func(context.Context, *commands.Reporter) (any, error) {
			return "airborne", nil
		}), nil
	})
	require.NoError(t, f.drivers.Add(drv))

	f.send(t, sender, model.Body{"type": "UAV-TAKEOFF", "ids": []any{"DRN-01"}})

	resp := ch.waitFor(t, "UAV-TAKEOFF")
	receipts := resp.Body["receipt"].(map[string]string)
	receiptID := receipts["DRN-01"]
	require.NotEmpty(t, receiptID)

	final := ch.waitFor(t, "ASYNC-RESP")
	assert.Equal(t, receiptID, final.Body["id"])
	assert.Equal(t, "airborne", final.Body["result"])

	// The response with the receipt must precede the terminal notice.
	var respIdx, finalIdx int
	for i, msg := range ch.messages() {
		switch msg.Type() {
		case "UAV-TAKEOFF":
			respIdx = i
		case "ASYNC-RESP":
			finalIdx = i
		}
	}
	assert.Less(t, respIdx, finalIdx)
}

func TestUAVCommandMergesUnknownTargets(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	require.NoError(t, f.objects.Add(model.NewUAV("DRN-01", "virtual")))
	drv := uav.NewDriver("virtual")
	drv.RegisterCommand("land", func(context.Context, *model.UAV, model.Body) (any, error) {
		return nil, nil
	})
	require.NoError(t, f.drivers.Add(drv))

	f.send(t, sender, model.Body{"type": "UAV-LAND", "ids": []any{"DRN-01", "DRN-99"}})
	resp := ch.waitFor(t, "UAV-LAND")

	assert.Equal(t, []string{"DRN-01"}, resp.Body["success"])
	errs := resp.Body["error"].(map[string]string)
	assert.Contains(t, errs, "DRN-99")
}

func TestAsyncCancelHandler(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	started := make(chan struct{})
	receipt := f.manager.New(commands.Command(func(ctx context.Context, _ *commands.Reporter) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}), sender.ID())
	<-started

	f.send(t, sender, model.Body{"type": "ASYNC-CANCEL", "ids": []any{receipt.ID(), "bogus"}})
	resp := ch.waitFor(t, "ASYNC-CANCEL")
	assert.Equal(t, []string{receipt.ID()}, resp.Body["success"])
	assert.Contains(t, resp.Body["error"].(map[string]string), "bogus")

	cancelled := ch.waitFor(t, "ASYNC-RESP")
	assert.Equal(t, receipt.ID(), cancelled.Body["id"])
	assert.Equal(t, true, cancelled.Body["cancelled"])
}

func TestAsyncResumeDeliversValue(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	receipt := f.manager.New(commands.Command(func(_ context.Context, rep *commands.Reporter) (any, error) {
		return rep.Suspend(nil)
	}), sender.ID())

	// The suspend notification is an ASYNC-ST push.
	suspended := ch.waitFor(t, "ASYNC-ST")
	assert.Equal(t, receipt.ID(), suspended.Body["id"])
	assert.Equal(t, true, suspended.Body["suspended"])

	f.send(t, sender, model.Body{
		"type":   "ASYNC-RESUME",
		"ids":    []any{receipt.ID()},
		"values": map[string]any{receipt.ID(): "confirmed"},
	})
	resp := ch.waitFor(t, "ASYNC-RESUME")
	assert.Equal(t, []string{receipt.ID()}, resp.Body["success"])

	require.Eventually(t, receipt.Finished, time.Second, 5*time.Millisecond)
	result, _ := receipt.Result()
	assert.Equal(t, "confirmed", result)
}

func TestDeviceTreeSubscribeFlow(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	obj, err := f.tree.AddObject("DRN-01")
	require.NoError(t, err)
	level, err := f.tree.AddChannel(obj, "battery", devtree.SubtypeNumber, "%")
	require.NoError(t, err)

	f.send(t, sender, model.Body{"type": "DEV-SUB", "paths": []any{"/DRN-01/battery", "/nope"}})
	resp := ch.waitFor(t, "DEV-SUB")
	assert.Equal(t, []string{"/DRN-01/battery"}, resp.Body["success"])
	assert.Contains(t, resp.Body["error"].(map[string]string), "/nope")

	// A committed mutation pushes one DEV-INF with the subscribed path.
	f.tree.Mutate(func(m *devtree.Mutator) { m.Update(level, 76.0) })
	push := ch.waitForMatch(t, "DEV-INF", func(m *model.Message) bool { return m.Refs == "" })
	values := push.Body["values"].(map[string]any)
	assert.Equal(t, 76.0, values["/DRN-01/battery"])

	f.send(t, sender, model.Body{"type": "DEV-LISTSUB"})
	listing := ch.waitFor(t, "DEV-LISTSUB")
	assert.Equal(t, map[string]int{"/DRN-01/battery": 1}, listing.Body["subscriptions"])

	f.send(t, sender, model.Body{"type": "DEV-UNSUB", "paths": []any{"/DRN-01/battery"}})
	ch.waitFor(t, "DEV-UNSUB")
	assert.Zero(t, f.tree.CountSubscriptions("c1", "/DRN-01/battery"))
}

func TestDevListDefaultsToRoot(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	_, err := f.tree.AddObject("DRN-01")
	require.NoError(t, err)

	f.send(t, sender, model.Body{"type": "DEV-LIST"})
	resp := ch.waitFor(t, "DEV-LIST")
	result := resp.Body["result"].(map[string]any)
	root := result["/"].(map[string]any)
	assert.Equal(t, "root", root["kind"])
	assert.Contains(t, root["children"].(map[string]any), "DRN-01")
}

func TestObjectLifecycleCascades(t *testing.T) {
	f := newFixture(t)
	_, ch := f.connect(t, "c1")

	require.NoError(t, f.objects.Add(model.NewUAV("DRN-01", "virtual")))
	_, ok := f.tree.Resolve("/DRN-01")
	assert.True(t, ok, "object registration must create the tree node")

	f.objects.Remove("DRN-01")
	_, ok = f.tree.Resolve("/DRN-01")
	assert.False(t, ok)

	del := ch.waitFor(t, "OBJ-DEL")
	assert.Equal(t, []string{"DRN-01"}, del.Body["ids"])
}

func TestClientDisconnectClearsState(t *testing.T) {
	f := newFixture(t)
	sender, _ := f.connect(t, "c1")

	obj, err := f.tree.AddObject("DRN-01")
	require.NoError(t, err)
	_, err = f.tree.AddChannel(obj, "battery", devtree.SubtypeNumber, "%")
	require.NoError(t, err)
	require.NoError(t, f.tree.Subscribe("c1", "/DRN-01/battery"))

	release := make(chan struct{})
	receipt := f.manager.New(commands.Command(func(context.Context, *commands.Reporter) (any, error) {
		<-release
		return nil, nil
	}), sender.ID())

	f.clients.Remove("c1")
	close(release)

	assert.Zero(t, f.tree.CountSubscriptions("c1", "/DRN-01/battery"))
	assert.Empty(t, receipt.ClientsToNotify())
}

func TestConnectionHandlers(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	conn := &stubConnection{}
	_, err := f.conns.Add("uplink", conn, "telemetry", "main radio uplink")
	require.NoError(t, err)

	f.send(t, sender, model.Body{"type": "CONN-LIST"})
	listing := ch.waitFor(t, "CONN-LIST")
	assert.Equal(t, []string{"uplink"}, listing.Body["ids"])

	f.send(t, sender, model.Body{"type": "CONN-INF", "ids": []any{"uplink"}})
	info := ch.waitFor(t, "CONN-INF")
	status := info.Body["status"].(map[string]any)
	entry := status["uplink"].(model.Body)
	assert.Equal(t, "disconnected", entry["status"])

	f.send(t, sender, model.Body{"type": "CONN-DEL", "ids": []any{"uplink"}})
	deleted := ch.waitFor(t, "CONN-DEL")
	assert.Equal(t, []string{"uplink"}, deleted.Body["success"])
	assert.True(t, conn.closed)
	assert.Empty(t, f.conns.IDs())
}

// stubConnection is the minimal Connection for registry-level tests.
type stubConnection struct {
	connections.Base
	closed bool
}

func (c *stubConnection) Open(context.Context) error { return nil }
func (c *stubConnection) Close() error {
	c.closed = true
	return c.SetState(model.ConnectionDisconnected)
}

func TestClockHandlersAndChangeBroadcast(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	timer := clocks.NewManualClock("showtimer", 25)
	require.NoError(t, f.clocks.Add(timer))

	f.send(t, sender, model.Body{"type": "CLK-LIST"})
	listing := ch.waitFor(t, "CLK-LIST")
	assert.Equal(t, []string{"showtimer", "system"}, listing.Body["ids"])

	req := f.send(t, sender, model.Body{"type": "CLK-INF", "ids": []any{"system"}})
	info := ch.waitForMatch(t, "CLK-INF", func(m *model.Message) bool { return m.Refs == req.ID })
	status := info.Body["status"].(map[string]any)
	assert.Contains(t, status, "system")

	// Starting the manual clock broadcasts an unsolicited CLK-INF.
	timer.Start()
	push := ch.waitForMatch(t, "CLK-INF", func(m *model.Message) bool { return m.Refs == "" })
	pushed := push.Body["status"].(map[string]any)
	assert.Contains(t, pushed, "showtimer")
}

func TestUAVInfLimiterBroadcast(t *testing.T) {
	f := newFixture(t)
	_, ch := f.connect(t, "c1")

	u := model.NewUAV("DRN-01", "virtual")
	require.NoError(t, f.objects.Add(u))
	u.UpdateStatus(func(st *model.UAVStatusInfo) { st.Mode = "rtl" })

	f.server.NotifyUAVUpdated("DRN-01")
	push := ch.waitForMatch(t, "UAV-INF", func(m *model.Message) bool { return m.Refs == "" })
	status := push.Body["status"].(map[string]any)
	frame := status["DRN-01"].(model.UAVStatusInfo)
	assert.Equal(t, "rtl", frame.Mode)
}

func TestSysMsgLimiterBroadcast(t *testing.T) {
	f := newFixture(t)
	sender, ch := f.connect(t, "c1")

	f.send(t, sender, model.Body{"type": "SYS-MSG", "message": "preflight check passed"})
	ch.waitFor(t, "ACK-ACK")

	push := ch.waitFor(t, "SYS-MSG")
	items := push.Body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]any{"message": "preflight check passed"}, items[0])
}

func TestConnInfLimiterBroadcast(t *testing.T) {
	f := newFixture(t)
	_, ch := f.connect(t, "c1")

	conn := &stubConnection{}
	_, err := f.conns.Add("uplink", conn, "telemetry", "")
	require.NoError(t, err)

	require.NoError(t, conn.SetState(model.ConnectionConnecting))
	require.NoError(t, conn.SetState(model.ConnectionConnected))

	push := ch.waitForMatch(t, "CONN-INF", func(m *model.Message) bool { return m.Refs == "" })
	status := push.Body["status"].(map[string]any)
	entry := status["uplink"].(model.Body)
	assert.Equal(t, "uplink", entry["id"])
}
