package handlers

import (
	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/clocks"
	"flightworks/gcs/internal/model"
)

func (s *Server) registerClockHandlers() {
	s.hub.RegisterMessageHandler(s.handleClockInf, "CLK-INF")
	s.hub.RegisterMessageHandler(s.handleClockList, "CLK-LIST")
}

func (s *Server) handleClockInf(msg *model.Message, _ *channels.Client) (any, error) {
	ids := msg.Body.StringSlice("ids")
	if len(ids) == 0 {
		return model.NewNAK(msg, "missing ids"), nil
	}

	status := make(map[string]any)
	errs := make(map[string]string)
	for _, id := range ids {
		c, err := s.clocks.FindByID(id, nil)
		if err != nil {
			errs[id] = err.Error()
			continue
		}
		status[id] = clocks.JSON(c)
	}

	body := model.Body{"status": status}
	if len(errs) > 0 {
		body["error"] = errs
	}
	return body, nil
}

func (s *Server) handleClockList(*model.Message, *channels.Client) (any, error) {
	return model.Body{"ids": s.clocks.IDs()}, nil
}
