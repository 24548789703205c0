// Package ws is the WebSocket channel type: gorilla upgrades on a gin
// route, per-client serialized writes, a read pump feeding the message
// hub and a broadcaster that fans one pre-encoded frame out to every
// connected socket.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/hub"
	"flightworks/gcs/internal/model"
	"flightworks/gcs/pkg/logging"
)

// ChannelTypeID is the id the transport registers under.
const ChannelTypeID = "ws"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Transport owns the WebSocket sockets and exposes them to the hub as
// channels of one channel type.
type Transport struct {
	logger  logging.Logger
	hub     *hub.Hub
	clients *channels.ClientRegistry

	// jwtSecret enables token authentication when non-empty.
	jwtSecret []byte

	mu    sync.RWMutex
	conns map[string]*socketChannel
}

// NewTransport creates the WebSocket transport. An empty secret
// disables authentication.
func NewTransport(logger logging.Logger, h *hub.Hub, clients *channels.ClientRegistry, jwtSecret []byte) *Transport {
	return &Transport{
		logger:    logger,
		hub:       h,
		clients:   clients,
		jwtSecret: jwtSecret,
		conns:     make(map[string]*socketChannel),
	}
}

// Descriptor returns the channel type descriptor of the transport. The
// factory refuses: sockets only come from HTTP upgrades.
func (t *Transport) Descriptor() *channels.TypeDescriptor {
	return &channels.TypeDescriptor{
		ID: ChannelTypeID,
		Factory: func() (channels.Channel, error) {
			return nil, fmt.Errorf("channel type %q is bound to inbound websocket upgrades", ChannelTypeID)
		},
		Broadcaster: t.broadcast,
		SSDPLocation: func(peer string) string {
			return "ws://" + peer + "/ws"
		},
	}
}

// Handler returns the gin handler upgrading inbound requests.
func (t *Transport) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := t.authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			t.logger.WithError(err).Error("Failed to upgrade websocket connection")
			return
		}

		t.serve(sock, user)
	}
}

// authenticate validates the bearer token (header or query parameter)
// and returns the subject. Authentication is skipped without a secret.
func (t *Transport) authenticate(r *http.Request) (string, error) {
	if len(t.jwtSecret) == 0 {
		return "", nil
	}

	raw := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		raw = auth[7:]
	}
	if raw == "" {
		return "", fmt.Errorf("missing token")
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("invalid token claims")
	}
	return subject, nil
}

func (t *Transport) serve(sock *websocket.Conn, user string) {
	clientID := "ws:" + uuid.NewString()
	ch := &socketChannel{sock: sock}

	client, err := t.clients.AddWithChannel(clientID, ChannelTypeID, ch)
	if err != nil {
		t.logger.WithError(err).Error("Failed to register websocket client")
		sock.Close()
		return
	}
	if user != "" {
		_ = client.SetUser(user)
	}

	t.mu.Lock()
	t.conns[clientID] = ch
	t.mu.Unlock()

	t.logger.WithFields(logging.Fields{
		"client": clientID,
		"user":   user,
	}).Info("Client connected")

	stopPing := make(chan struct{})
	go t.pingLoop(ch, stopPing)
	go t.readPump(client, ch, stopPing)
}

// readPump feeds inbound frames into the hub until the socket drops.
func (t *Transport) readPump(client *channels.Client, ch *socketChannel, stopPing chan struct{}) {
	defer func() {
		close(stopPing)
		t.drop(client.ID())
	}()

	ch.sock.SetReadLimit(maxMessageSize)
	ch.sock.SetReadDeadline(time.Now().Add(pongWait))
	ch.sock.SetPongHandler(func(string) error {
		ch.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := ch.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.WithError(err).WithField("client", client.ID()).Warn("Websocket read failed")
			}
			return
		}
		t.hub.HandleIncomingMessage(raw, client)
	}
}

func (t *Transport) pingLoop(ch *socketChannel, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := ch.writeControl(websocket.PingMessage); err != nil {
				return
			}
		}
	}
}

func (t *Transport) drop(clientID string) {
	t.mu.Lock()
	ch, ok := t.conns[clientID]
	delete(t.conns, clientID)
	t.mu.Unlock()

	if ok {
		_ = ch.Close()
	}
	t.clients.Remove(clientID)
	t.logger.WithField("client", clientID).Info("Client disconnected")
}

// broadcast writes one pre-encoded frame to every connected socket.
func (t *Transport) broadcast(_ *model.Message, encoded []byte) {
	t.mu.RLock()
	conns := make([]*socketChannel, 0, len(t.conns))
	for _, ch := range t.conns {
		conns = append(conns, ch)
	}
	t.mu.RUnlock()

	for _, ch := range conns {
		if err := ch.writeFrame(encoded); err != nil {
			t.logger.WithError(err).Debug("Broadcast write failed")
		}
	}
}

// socketChannel adapts one gorilla connection to the channel interface.
// The write lock keeps frames from interleaving.
type socketChannel struct {
	sock *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

// Send encodes and writes one envelope.
func (c *socketChannel) Send(_ context.Context, msg *model.Message) error {
	encoded, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.writeFrame(encoded)
}

func (c *socketChannel) writeFrame(encoded []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return channels.ErrChannelClosed
	}
	c.sock.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.sock.WriteMessage(websocket.TextMessage, encoded); err != nil {
		return fmt.Errorf("%w: %v", channels.ErrChannelClosed, err)
	}
	return nil
}

func (c *socketChannel) writeControl(messageType int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return channels.ErrChannelClosed
	}
	return c.sock.WriteControl(messageType, nil, time.Now().Add(writeWait))
}

// Close shuts the socket down. Idempotent.
func (c *socketChannel) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.sock.Close()
}
