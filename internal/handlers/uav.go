package handlers

import (
	"context"

	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/model"
)

// commandTokens maps signal message types to the driver command tokens
// they dispatch.
var commandTokens = map[string]string{
	"UAV-TAKEOFF": "takeoff",
	"UAV-LAND":    "land",
	"UAV-RTH":     "rth",
	"UAV-HALT":    "halt",
	"UAV-FLY":     "fly",
	"UAV-SLEEP":   "sleep",
	"UAV-WAKEUP":  "wakeup",
	"UAV-MOTOR":   "motor",
	"UAV-TEST":    "test",
	"UAV-SIGNAL":  "signal",
	"UAV-PARAM":   "param",
	"UAV-CALIB":   "calib",
	"UAV-VER":     "version",
}

func (s *Server) registerUAVHandlers() {
	s.hub.RegisterMessageHandler(s.handleUAVInf, "UAV-INF")
	s.hub.RegisterMessageHandler(s.handleUAVList, "UAV-LIST")

	types := make([]string, 0, len(commandTokens))
	for t := range commandTokens {
		types = append(types, t)
	}
	s.hub.RegisterMessageHandler(s.handleUAVCommand, types...)
}

// handleUAVInf answers an explicit status poll with the current frames
// of the requested UAVs.
func (s *Server) handleUAVInf(msg *model.Message, _ *channels.Client) (any, error) {
	ids := msg.Body.StringSlice("ids")
	if len(ids) == 0 {
		return model.NewNAK(msg, "missing ids"), nil
	}

	status := make(map[string]any)
	errs := make(map[string]string)
	for _, id := range ids {
		u, err := s.objects.FindUAVByID(id)
		if err != nil {
			errs[id] = err.Error()
			continue
		}
		status[id] = u.Status()
	}

	body := model.Body{"status": status}
	if len(errs) > 0 {
		body["error"] = errs
	}
	return body, nil
}

func (s *Server) handleUAVList(*model.Message, *channels.Client) (any, error) {
	return model.Body{"ids": s.objects.IDsByType(model.ObjectTypeUAV)}, nil
}

// handleUAVCommand fans a signal command out to the drivers of the
// target UAVs. Asynchronous outcomes surface as receipt ids in the
// response; the matching terminal notifications are released only after
// the response itself has been enqueued.
func (s *Server) handleUAVCommand(msg *model.Message, sender *channels.Client) (any, error) {
	token := commandTokens[msg.Type()]
	ids := msg.Body.StringSlice("ids")
	if len(ids) == 0 {
		return model.NewNAK(msg, "missing ids"), nil
	}

	targets := make([]*model.UAV, 0, len(ids))
	errs := make(map[string]string)
	for _, id := range ids {
		u, err := s.objects.FindUAVByID(id)
		if err != nil {
			errs[id] = err.Error()
			continue
		}
		targets = append(targets, u)
	}

	outcome := s.dispatcher.Dispatch(context.Background(), targets, token, msg.Body, sender.ID())
	for id, reason := range errs {
		outcome.Errors[id] = reason
	}

	s.hub.EnqueueResponse(model.NewResponseTo(msg, outcome.Body()), msg, sender.ID())
	for _, receipt := range outcome.Receipts {
		if err := s.manager.MarkClientsNotified(receipt.ID()); err != nil {
			s.logger.WithError(err).Warn("Failed to release receipt notification")
		}
	}
	return true, nil
}
