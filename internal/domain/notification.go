package domain

import (
	"encoding/json"
	"time"
)

// Notification is one feed item as served by the platform API.
// OpenedAt is nil while the notification is unread.
type Notification struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title,omitempty"`
	Body      string     `json:"body,omitempty"`
	Data      Map        `json:"data,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	OpenedAt  *time.Time `json:"opened_at,omitempty"`
}

// Map alias for loosely structured JSON payloads
type Map map[string]interface{}

// Unread reports whether the notification has not been opened yet.
func (n *Notification) Unread() bool {
	return n.OpenedAt == nil
}

// DeepLink returns the in-app link embedded in the payload, if any.
func (n *Notification) DeepLink() string {
	if n.Data == nil {
		return ""
	}
	if link, ok := n.Data["link"].(string); ok {
		return link
	}
	return ""
}

// Known notification type tags. Inbound payloads carrying any other
// tag decode to the Unknown variant with the raw payload preserved.
const (
	TypeTaskAssigned    = "new-task-assigned"
	TypeTaskStatus      = "task-status-changed"
	TypeAttendeeCheckin = "attendee-checked-in"
)

// TaskAssignedPayload is the structured payload of a new-task-assigned
// notification.
type TaskAssignedPayload struct {
	TaskID    string `json:"task_id"`
	TaskName  string `json:"task_name"`
	Assigner  string `json:"assigner_name"`
	EventName string `json:"event_name"`
	Link      string `json:"link,omitempty"`
}

// TaskStatusPayload is the structured payload of a task-status-changed
// notification.
type TaskStatusPayload struct {
	TaskID    string `json:"task_id"`
	TaskName  string `json:"task_name"`
	NewStatus string `json:"new_status"`
	Link      string `json:"link,omitempty"`
}

// AttendeeCheckinPayload is the structured payload of an
// attendee-checked-in notification.
type AttendeeCheckinPayload struct {
	AttendeeName string `json:"attendee_name"`
	EventName    string `json:"event_name"`
	Link         string `json:"link,omitempty"`
}

// DecodePayload converts the notification's loose Data map into the typed
// payload for its tag. Unknown tags return (nil, false) and callers fall
// back to the raw Data map.
func (n *Notification) DecodePayload() (interface{}, bool) {
	if n.Data == nil {
		return nil, false
	}
	raw, err := json.Marshal(n.Data)
	if err != nil {
		return nil, false
	}

	switch n.Type {
	case TypeTaskAssigned:
		var p TaskAssignedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, false
		}
		return &p, true
	case TypeTaskStatus:
		var p TaskStatusPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, false
		}
		return &p, true
	case TypeAttendeeCheckin:
		var p AttendeeCheckinPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, false
		}
		return &p, true
	}
	return nil, false
}
