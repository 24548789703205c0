package handlers

import (
	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/clocks"
	"flightworks/gcs/internal/commands"
	"flightworks/gcs/internal/connections"
	"flightworks/gcs/internal/hub"
	"flightworks/gcs/internal/model"
)

// wireSignals connects the cross-subsystem signals: receipt lifecycle
// notifications, client disconnect cascades, object lifecycle fan-out,
// connection state coalescing, device tree publication and clock
// changes.
func (s *Server) wireSignals() {
	s.manager.OnFinished(s.notifyReceiptFinished)
	s.manager.OnCancelled(s.notifyReceiptCancelled)
	s.manager.OnExpired(s.notifyReceiptsExpired)
	s.manager.OnProgressUpdated(s.notifyReceiptProgress)

	s.clients.OnRemoved(func(client *channels.Client) {
		s.tree.RemoveClient(client.ID())
		s.manager.ForgetClient(client.ID())
	})

	s.objects.OnAdded(func(obj model.Object) {
		if _, err := s.tree.AddObject(obj.ObjectID()); err != nil {
			s.logger.WithError(err).WithField("object", obj.ObjectID()).Warn("Device tree node not created")
		}
		s.sink.Publish("object_added", map[string]any{
			"id":   obj.ObjectID(),
			"type": string(obj.ObjectType()),
		})
	})
	s.objects.OnRemoved(func(obj model.Object) {
		s.tree.RemoveObject(obj.ObjectID())
		s.hub.EnqueueBroadcast(model.NewNotification(model.Body{
			"type": "OBJ-DEL",
			"ids":  []string{obj.ObjectID()},
		}))
		s.sink.Publish("object_removed", map[string]any{
			"id":   obj.ObjectID(),
			"type": string(obj.ObjectType()),
		})
	})

	s.connections.OnConnectionStateChanged(func(ev connections.StateChangeEvent) {
		s.limiters.AddRequest(TagConnInf, hub.ConnStatusRequest{ID: ev.ID, Old: ev.Old, New: ev.New})
		s.sink.Publish("connection_state_changed", map[string]any{
			"id":  ev.ID,
			"old": ev.Old.String(),
			"new": ev.New.String(),
		})
	})

	s.clocks.OnChanged(func(c clocks.Clock) {
		s.hub.EnqueueBroadcast(model.NewNotification(model.Body{
			"type":   "CLK-INF",
			"status": map[string]any{c.ClockID(): clocks.JSON(c)},
		}))
	})

	s.tree.SetPublisher(func(clientID string, values map[string]any) {
		s.hub.EnqueueMessage(model.NewNotification(model.Body{
			"type":   "DEV-INF",
			"values": values,
		}), clientID)
	})
}

// notifyReceiptFinished sends the terminal ASYNC-RESP to every client
// awaiting the receipt. Fires only after the response carrying the
// receipt id has been enqueued.
func (s *Server) notifyReceiptFinished(receipt *commands.Receipt) {
	result, errText := receipt.Result()
	body := model.Body{"type": "ASYNC-RESP", "id": receipt.ID()}
	if errText != "" {
		body["error"] = errText
	} else {
		body["result"] = result
	}

	for _, clientID := range receipt.ClientsToNotify() {
		s.hub.EnqueueMessage(model.NewNotification(body), clientID)
	}
	s.sink.Publish("command_finished", map[string]any{
		"receipt": receipt.ID(),
		"error":   errText,
	})
}

// notifyReceiptCancelled sends the terminal notice of a user-initiated
// cancellation. No error body; an explicit cancelled flag instead.
func (s *Server) notifyReceiptCancelled(receipt *commands.Receipt) {
	body := model.Body{"type": "ASYNC-RESP", "id": receipt.ID(), "cancelled": true}
	for _, clientID := range receipt.ClientsToNotify() {
		s.hub.EnqueueMessage(model.NewNotification(body), clientID)
	}
	s.sink.Publish("command_cancelled", map[string]any{"receipt": receipt.ID()})
}

// notifyReceiptsExpired groups timed-out receipts by awaiting client and
// sends one ASYNC-TIMEOUT per client.
func (s *Server) notifyReceiptsExpired(receipts []*commands.Receipt) {
	perClient := make(map[string][]string)
	ids := make([]string, 0, len(receipts))
	for _, receipt := range receipts {
		ids = append(ids, receipt.ID())
		for _, clientID := range receipt.ClientsToNotify() {
			perClient[clientID] = append(perClient[clientID], receipt.ID())
		}
	}

	for clientID, receiptIDs := range perClient {
		s.hub.EnqueueMessage(model.NewNotification(model.Body{
			"type": "ASYNC-TIMEOUT",
			"ids":  receiptIDs,
		}), clientID)
	}
	s.sink.Publish("commands_expired", map[string]any{"receipts": ids})
}

func (s *Server) notifyReceiptProgress(receipt *commands.Receipt) {
	body := commands.StatusBody(receipt)
	for _, clientID := range receipt.ClientsToNotify() {
		s.hub.EnqueueMessage(model.NewNotification(body), clientID)
	}
}
