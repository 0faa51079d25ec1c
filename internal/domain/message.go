package domain

// PlatformMessage is an inbound message normalised by a platform handler.
type PlatformMessage struct {
	Platform  Platform          `json:"platform"`
	UserID    string            `json:"user_id"`
	Type      MessageType       `json:"message_type"`
	Text      string            `json:"text"`
	ChannelID string            `json:"channel_id,omitempty"`
	ThreadID  string            `json:"thread_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PlatformResponse is an outbound reply. Blocks carries platform-specific
// rich content and is ignored by platforms that do not understand it.
type PlatformResponse struct {
	ChannelID string                   `json:"channel_id"`
	Text      string                   `json:"text"`
	ThreadID  string                   `json:"thread_id,omitempty"`
	Blocks    []map[string]interface{} `json:"blocks,omitempty"`
	Ephemeral bool                     `json:"ephemeral,omitempty"`
	UserID    string                   `json:"user_id,omitempty"`
}

// Action is an interactive button attached to a reply.
type Action struct {
	ID    string `json:"action_id"`
	Label string `json:"label"`
	Value string `json:"value"`
	Style string `json:"style,omitempty"`
}

const (
	ActionApproveTask = "approve_task"
	ActionCancelTask  = "cancel_task"
)
