package handlers

import (
	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/model"
)

func (s *Server) registerDeviceTreeHandlers() {
	s.hub.RegisterMessageHandler(s.handleDevInf, "DEV-INF")
	s.hub.RegisterMessageHandler(s.handleDevList, "DEV-LIST")
	s.hub.RegisterMessageHandler(s.handleDevSub, "DEV-SUB")
	s.hub.RegisterMessageHandler(s.handleDevUnsub, "DEV-UNSUB")
	s.hub.RegisterMessageHandler(s.handleDevListSub, "DEV-LISTSUB")
}

// handleDevInf answers an explicit poll with the channel-value snapshot
// of each requested subtree.
func (s *Server) handleDevInf(msg *model.Message, _ *channels.Client) (any, error) {
	paths := msg.Body.StringSlice("paths")
	if len(paths) == 0 {
		return model.NewNAK(msg, "missing paths"), nil
	}

	values := make(map[string]any)
	errs := make(map[string]string)
	for _, path := range paths {
		ref, ok := s.tree.Resolve(path)
		if !ok {
			errs[path] = "no such device tree node"
			continue
		}
		snapshot, _ := s.tree.Snapshot(ref)
		values[path] = snapshot
	}

	body := model.Body{"values": values}
	if len(errs) > 0 {
		body["error"] = errs
	}
	return body, nil
}

// handleDevList returns the structural (tagged) representation of each
// requested subtree.
func (s *Server) handleDevList(msg *model.Message, _ *channels.Client) (any, error) {
	paths := msg.Body.StringSlice("paths")
	if len(paths) == 0 {
		paths = []string{"/"}
	}

	result := make(map[string]any)
	errs := make(map[string]string)
	for _, path := range paths {
		ref, ok := s.tree.Resolve(path)
		if !ok {
			errs[path] = "no such device tree node"
			continue
		}
		if tagged, ok := s.tree.JSON(ref); ok {
			result[path] = tagged
		}
	}

	body := model.Body{"result": result}
	if len(errs) > 0 {
		body["error"] = errs
	}
	return body, nil
}

func (s *Server) handleDevSub(msg *model.Message, sender *channels.Client) (any, error) {
	paths := msg.Body.StringSlice("paths")
	if len(paths) == 0 {
		return model.NewNAK(msg, "missing paths"), nil
	}

	var success []string
	errs := make(map[string]string)
	for _, path := range paths {
		if err := s.tree.Subscribe(sender.ID(), path); err != nil {
			errs[path] = err.Error()
			continue
		}
		success = append(success, path)
	}
	return partialSuccess(success, errs), nil
}

func (s *Server) handleDevUnsub(msg *model.Message, sender *channels.Client) (any, error) {
	paths := msg.Body.StringSlice("paths")
	if len(paths) == 0 {
		return model.NewNAK(msg, "missing paths"), nil
	}
	force, _ := msg.Body["removeAll"].(bool)
	subtrees, _ := msg.Body["includeSubtrees"].(bool)

	var success []string
	errs := make(map[string]string)
	for _, path := range paths {
		if subtrees {
			for _, p := range s.tree.UnsubscribeSubtree(sender.ID(), path) {
				success = append(success, p)
			}
			continue
		}
		if err := s.tree.Unsubscribe(sender.ID(), path, force); err != nil {
			errs[path] = err.Error()
			continue
		}
		success = append(success, path)
	}
	return partialSuccess(success, errs), nil
}

func (s *Server) handleDevListSub(msg *model.Message, sender *channels.Client) (any, error) {
	filters := msg.Body.StringSlice("pathFilter")
	subs := s.tree.ListSubscriptions(sender.ID(), filters)
	return model.Body{"subscriptions": subs}, nil
}

// partialSuccess renders the success[]/error{} body shared by batch
// operations.
func partialSuccess(success []string, errs map[string]string) model.Body {
	body := model.Body{}
	if len(success) > 0 {
		body["success"] = success
	}
	if len(errs) > 0 {
		body["error"] = errs
	}
	return body
}
