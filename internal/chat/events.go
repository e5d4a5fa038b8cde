package chat

// Outbound event names, matching the realtime wire contract.
const (
	EventUsernameAssigned = "username_assigned"
	EventInitialMessages  = "initial_messages"
	EventUserCount        = "user_count"
	EventNewMessage       = "new_message"
	EventMessageUpdated   = "message_updated"
)

// Event is one state-change notification delivered over a session's
// outbound stream. The concrete types below form the closed set of
// server-to-client events.
type Event interface {
	EventName() string
}

// UsernameAssigned tells a freshly connected session its pseudonym.
type UsernameAssigned struct {
	Pseudonym string `json:"pseudonym"`
}

// EventName implements Event.
func (UsernameAssigned) EventName() string { return EventUsernameAssigned }

// InitialMessages carries the full log snapshot for a late joiner.
type InitialMessages struct {
	Messages []MessageView `json:"messages"`
}

// EventName implements Event.
func (InitialMessages) EventName() string { return EventInitialMessages }

// UserCount announces the current number of connected sessions.
type UserCount struct {
	Count int `json:"count"`
}

// EventName implements Event.
func (UserCount) EventName() string { return EventUserCount }

// NewMessage announces a freshly appended message.
type NewMessage MessageView

// EventName implements Event.
func (NewMessage) EventName() string { return EventNewMessage }

// MessageUpdated announces an accepted vote on an existing message.
type MessageUpdated struct {
	MessageID string   `json:"messageId"`
	Votes     int      `json:"votes"`
	Voters    []string `json:"voters"`
}

// EventName implements Event.
func (MessageUpdated) EventName() string { return EventMessageUpdated }
