// Package hub fans ordered events out to connected viewers.
package hub

import "encoding/json"

// EventType names an event on the wire.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventAdd          EventType = "add"
	EventRemove       EventType = "remove"
	EventReshuffle    EventType = "reshuffle"
	EventConfigUpdate EventType = "config-update"
)

// Event is one message to every subscriber.
type Event struct {
	Type EventType `json:"event"`
	// Seq is assigned by the hub; events are delivered in Seq order.
	Seq  uint64      `json:"seq"`
	Data interface{} `json:"data"`
}

// FilePayload carries a single file name for add and remove.
type FilePayload struct {
	Filename string `json:"filename"`
}

// ReshufflePayload carries the complete ordered image list.
type ReshufflePayload struct {
	Images []string `json:"images"`
}

// ConfigPayload carries the viewer-relevant settings that changed.
type ConfigPayload struct {
	SlideshowInterval *int  `json:"slideshowInterval,omitempty"`
	RandomOrder       *bool `json:"randomOrder,omitempty"`
}

// Added builds an add event.
func Added(name string) Event {
	return Event{Type: EventAdd, Data: FilePayload{Filename: name}}
}

// Removed builds a remove event.
func Removed(name string) Event {
	return Event{Type: EventRemove, Data: FilePayload{Filename: name}}
}

// Reshuffled builds a reshuffle event. images is copied.
func Reshuffled(images []string) Event {
	return Event{Type: EventReshuffle, Data: ReshufflePayload{Images: append([]string{}, images...)}}
}

// ConfigUpdated builds a config-update event.
func ConfigUpdated(p ConfigPayload) Event {
	return Event{Type: EventConfigUpdate, Data: p}
}

// MarshalData encodes the payload; an absent payload encodes as {}.
func (e Event) MarshalData() ([]byte, error) {
	if e.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Data)
}
