package handlers

import (
	"context"
	"time"

	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/model"
)

func (s *Server) registerSystemHandlers() {
	// Acks arriving from clients terminate a round trip; answering them
	// would loop forever.
	s.hub.RegisterMessageHandler(func(*model.Message, *channels.Client) (any, error) {
		return true, nil
	}, "ACK-ACK", "ACK-NAK")

	s.hub.RegisterMessageHandler(s.handlePing, "SYS-PING")
	s.hub.RegisterMessageHandler(s.handleVersion, "SYS-VER")
	s.hub.RegisterMessageHandler(s.handleTime, "SYS-TIME")
	s.hub.RegisterMessageHandler(s.handlePorts, "SYS-PORTS")
	s.hub.RegisterMessageHandler(s.handleLogMessage, "SYS-MSG")
	s.hub.RegisterMessageHandler(s.handleClose, "SYS-CLOSE")
}

func (s *Server) handlePing(msg *model.Message, _ *channels.Client) (any, error) {
	return model.NewACK(msg), nil
}

func (s *Server) handleVersion(*model.Message, *channels.Client) (any, error) {
	return model.Body{
		"name":     s.serviceName,
		"software": versionString(),
		"revision": versionRevision(),
	}, nil
}

func (s *Server) handleTime(*model.Message, *channels.Client) (any, error) {
	return model.Body{"timestamp": time.Now().UnixMilli()}, nil
}

func (s *Server) handlePorts(*model.Message, *channels.Client) (any, error) {
	ports := make(map[string]any, len(s.ports))
	for name, port := range s.ports {
		ports[name] = port
	}
	return model.Body{"ports": ports}, nil
}

// handleLogMessage accepts a client-submitted log entry and feeds it
// into the SYS-MSG rate limiter so every client sees it, coalesced.
func (s *Server) handleLogMessage(msg *model.Message, sender *channels.Client) (any, error) {
	entry, ok := msg.Body["message"].(string)
	if !ok || entry == "" {
		return model.NewNAK(msg, "missing message"), nil
	}
	s.logger.WithField("client", sender.ID()).Info(entry)
	s.NotifyLogMessage(entry)
	return model.NewACK(msg), nil
}

// handleClose acknowledges and then tears the client's channel down.
// The ack is enqueued first so it wins the race against the close.
func (s *Server) handleClose(msg *model.Message, sender *channels.Client) (any, error) {
	s.hub.EnqueueResponse(model.NewACK(msg), msg, sender.ID())
	go func() {
		// Give the dispatcher a moment to drain the ack.
		time.Sleep(100 * time.Millisecond)
		if err := sender.Channel().Close(); err != nil {
			s.logger.WithError(err).WithField("client", sender.ID()).Debug("Channel close failed")
		}
		s.clients.Remove(sender.ID())
	}()
	return true, nil
}

// SendToClient is a convenience for transports that need to push a
// notification to one client outside the handler path.
func (s *Server) SendToClient(ctx context.Context, body model.Body, clientID string) error {
	return s.hub.SendMessage(ctx, model.NewNotification(body), clientID)
}
