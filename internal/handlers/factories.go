package handlers

import (
	"sort"
	"time"

	"flightworks/gcs/internal/connections"
	"flightworks/gcs/internal/hub"
	"flightworks/gcs/internal/model"
	"flightworks/gcs/internal/object"
)

// NewUAVInfLimiter builds the batching limiter for UAV-INF broadcasts:
// updated ids coalesce into one notification carrying the current status
// frame of each UAV.
func NewUAVInfLimiter(delay time.Duration, objects *object.Registry) *hub.BatchingLimiter[string] {
	return hub.NewBatchingLimiter[string](delay, func(ids []string) *model.Message {
		status := make(map[string]any, len(ids))
		for _, id := range ids {
			if u, err := objects.FindUAVByID(id); err == nil {
				status[id] = u.Status()
			}
		}
		if len(status) == 0 {
			return nil
		}
		return model.NewNotification(model.Body{"type": "UAV-INF", "status": status})
	})
}

// NewSysMsgLimiter builds the batching limiter for SYS-MSG broadcasts.
func NewSysMsgLimiter(delay time.Duration) *hub.BatchingLimiter[string] {
	return hub.NewBatchingLimiter[string](delay, func(entries []string) *model.Message {
		sort.Strings(entries)
		items := make([]any, 0, len(entries))
		for _, entry := range entries {
			items = append(items, map[string]any{"message": entry})
		}
		return model.NewNotification(model.Body{"type": "SYS-MSG", "items": items})
	})
}

// NewConnInfLimiter builds the connection-status limiter for CONN-INF
// broadcasts. The notification carries the state of the entry at
// dispatch time; entries deleted in the meantime yield nothing.
func NewConnInfLimiter(conns *connections.Registry) *hub.ConnectionStatusLimiter {
	return hub.NewConnectionStatusLimiter(func(connectionID string) *model.Message {
		entry, ok := conns.Get(connectionID)
		if !ok {
			return nil
		}
		return model.NewNotification(model.Body{
			"type":   "CONN-INF",
			"status": map[string]any{connectionID: entry.JSON()},
		})
	})
}
