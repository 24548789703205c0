package handlers

import (
	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/model"
)

func (s *Server) registerConnectionHandlers() {
	s.hub.RegisterMessageHandler(s.handleConnInf, "CONN-INF")
	s.hub.RegisterMessageHandler(s.handleConnList, "CONN-LIST")
	s.hub.RegisterMessageHandler(s.handleConnDel, "CONN-DEL")
}

// handleConnInf answers an explicit poll with the current state of each
// requested connection entry.
func (s *Server) handleConnInf(msg *model.Message, _ *channels.Client) (any, error) {
	ids := msg.Body.StringSlice("ids")
	if len(ids) == 0 {
		return model.NewNAK(msg, "missing ids"), nil
	}

	status := make(map[string]any)
	errs := make(map[string]string)
	for _, id := range ids {
		entry, err := s.connections.FindByID(id)
		if err != nil {
			errs[id] = err.Error()
			continue
		}
		status[id] = entry.JSON()
	}

	body := model.Body{"status": status}
	if len(errs) > 0 {
		body["error"] = errs
	}
	return body, nil
}

func (s *Server) handleConnList(*model.Message, *channels.Client) (any, error) {
	return model.Body{"ids": s.connections.IDs()}, nil
}

// handleConnDel deregisters connection entries. The underlying links
// are closed; their supervisors observe the cancellation and exit.
func (s *Server) handleConnDel(msg *model.Message, _ *channels.Client) (any, error) {
	ids := msg.Body.StringSlice("ids")
	if len(ids) == 0 {
		return model.NewNAK(msg, "missing ids"), nil
	}

	var success []string
	errs := make(map[string]string)
	for _, id := range ids {
		entry, ok := s.connections.Remove(id)
		if !ok {
			errs[id] = "no such connection"
			continue
		}
		if err := entry.Connection.Close(); err != nil {
			s.logger.WithError(err).WithField("connection", id).Warn("Connection close failed")
		}
		success = append(success, id)
	}
	return partialSuccess(success, errs), nil
}
