package handlers

import (
	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/model"
)

func (s *Server) registerObjectHandlers() {
	s.hub.RegisterMessageHandler(s.handleObjectList, "OBJ-LIST")
}

// handleObjectList returns the ids of registered objects, optionally
// narrowed to a set of type tags.
func (s *Server) handleObjectList(msg *model.Message, _ *channels.Client) (any, error) {
	filters := msg.Body.StringSlice("filter")
	if len(filters) == 0 {
		return model.Body{"ids": s.objects.IDs()}, nil
	}

	tags := make([]model.ObjectType, 0, len(filters))
	for _, f := range filters {
		tags = append(tags, model.ObjectType(f))
	}
	return model.Body{"ids": s.objects.IDsByTypes(tags)}, nil
}
