package processing

import (
	"sort"
	"sync"

	customlog "github.com/open-teleop/presence/pkg/log"
)

// Event directions recorded by the registry.
const (
	DirectionInbound  = "INBOUND"
	DirectionOutbound = "OUTBOUND"
)

// EventInfo holds counters for one named event in one direction.
type EventInfo struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Count     int64  `json:"count"`
	Bytes     int64  `json:"bytes"`
	LastSeen  int64  `json:"last_seen"`
}

// EventRegistry keeps per-event statistics for the event channel.
type EventRegistry struct {
	logger customlog.Logger
	events map[string]*EventInfo
	mu     sync.RWMutex
}

// NewEventRegistry creates an empty registry.
func NewEventRegistry(logger customlog.Logger) *EventRegistry {
	if logger == nil {
		logger = customlog.Discard()
	}
	return &EventRegistry{
		logger: logger,
		events: make(map[string]*EventInfo),
	}
}

func registryKey(direction, name string) string {
	return direction + ":" + name
}

// Record counts one event of size bytes seen at timestamp (unix nanos).
func (r *EventRegistry) Record(direction, name string, size int, timestamp int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(direction, name)
	info, exists := r.events[key]
	if !exists {
		info = &EventInfo{Name: name, Direction: direction}
		r.events[key] = info
		r.logger.Debugf("First %s event %s", direction, name)
	}

	info.Count++
	info.Bytes += int64(size)
	info.LastSeen = timestamp
}

// GetEventInfo returns a copy of the counters for an event.
func (r *EventRegistry) GetEventInfo(direction, name string) (EventInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.events[registryKey(direction, name)]
	if !exists {
		return EventInfo{}, false
	}
	return *info, true
}

// GetAllEvents returns copies of all counters sorted by direction then name.
func (r *EventRegistry) GetAllEvents() []EventInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]EventInfo, 0, len(r.events))
	for _, info := range r.events {
		events = append(events, *info)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Direction != events[j].Direction {
			return events[i].Direction < events[j].Direction
		}
		return events[i].Name < events[j].Name
	})
	return events
}

// GetEventStats returns the counters keyed by direction and event name.
func (r *EventRegistry) GetEventStats() map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]map[string]interface{})
	for key, info := range r.events {
		stats[key] = map[string]interface{}{
			"count":     info.Count,
			"bytes":     info.Bytes,
			"last_seen": info.LastSeen,
			"direction": info.Direction,
			"name":      info.Name,
		}
	}
	return stats
}

// Reset clears all counters.
func (r *EventRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(map[string]*EventInfo)
}
