package handlers

import (
	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/model"
)

func (s *Server) registerAsyncHandlers() {
	s.hub.RegisterMessageHandler(s.handleAsyncCancel, "ASYNC-CANCEL")
	s.hub.RegisterMessageHandler(s.handleAsyncResume, "ASYNC-RESUME")
}

func (s *Server) handleAsyncCancel(msg *model.Message, _ *channels.Client) (any, error) {
	ids := msg.Body.StringSlice("ids")
	if len(ids) == 0 {
		return model.NewNAK(msg, "missing ids"), nil
	}

	var success []string
	errs := make(map[string]string)
	for _, id := range ids {
		if err := s.manager.Cancel(id); err != nil {
			errs[id] = err.Error()
			continue
		}
		success = append(success, id)
	}
	return partialSuccess(success, errs), nil
}

// handleAsyncResume wakes suspended receipts, delivering the per-receipt
// resume value when one was supplied.
func (s *Server) handleAsyncResume(msg *model.Message, _ *channels.Client) (any, error) {
	ids := msg.Body.StringSlice("ids")
	if len(ids) == 0 {
		return model.NewNAK(msg, "missing ids"), nil
	}
	values, _ := msg.Body["values"].(map[string]any)

	var success []string
	errs := make(map[string]string)
	for _, id := range ids {
		var value any
		if values != nil {
			value = values[id]
		}
		if err := s.manager.Resume(id, value); err != nil {
			errs[id] = err.Error()
			continue
		}
		success = append(success, id)
	}
	return partialSuccess(success, errs), nil
}
