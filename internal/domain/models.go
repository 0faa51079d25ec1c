package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// ==================== ENUMS ====================

type TaskStatus string

const (
	TaskStatusStaged    TaskStatus = "staged"
	TaskStatusCommitted TaskStatus = "committed"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

type Platform string

const (
	PlatformSlack    Platform = "slack"
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
	PlatformDiscord  Platform = "discord"
)

// Implemented reports whether a webhook handler exists for the platform.
func (p Platform) Implemented() bool {
	return p == PlatformSlack || p == PlatformTelegram
}

// Known reports whether p is one of the platforms the service recognises.
func (p Platform) Known() bool {
	switch p {
	case PlatformSlack, PlatformTelegram, PlatformWhatsApp, PlatformDiscord:
		return true
	}
	return false
}

type MessageType string

const (
	MessageTypeText          MessageType = "text"
	MessageTypeCommand       MessageType = "command"
	MessageTypeInteractive   MessageType = "interactive"
	MessageTypeStatusRequest MessageType = "status_request"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARNING"
	LogLevelError LogLevel = "ERROR"
)

// ==================== JSONB TYPES ====================

// jsonbVersion is the envelope version written by JSONB.Value.
const jsonbVersion = 1

var ErrJSONBVersion = errors.New("jsonb: unsupported envelope version")

// jsonbVersionKey marks an envelope. It is not a key plain metadata uses.
const jsonbVersionKey = "_v"

type jsonbEnvelope struct {
	Version int                    `json:"_v"`
	Data    map[string]interface{} `json:"data"`
}

// JSONB is a structured metadata column, stored as the envelope
// {"_v":1,"data":{...}}. Any other JSON object, including one with "v" and
// "data" keys, is a bare object from an older row and is read as is. The
// exact shape {"_v":<number>,"data":{...}} is reserved for the envelope.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(jsonbEnvelope{Version: jsonbVersion, Data: j})
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan JSONB: invalid type %T", value)
	}
	if len(raw) == 0 {
		*j = nil
		return nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return fmt.Errorf("failed to scan JSONB: %w", err)
	}
	if _, ok := keys[jsonbVersionKey]; ok {
		if _, hasData := keys["data"]; hasData && len(keys) == 2 {
			var env jsonbEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("failed to scan JSONB: %w", err)
			}
			if env.Version < 1 || env.Version > jsonbVersion {
				return fmt.Errorf("%w: %d", ErrJSONBVersion, env.Version)
			}
			*j = env.Data
			return nil
		}
	}

	var legacy map[string]interface{}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return fmt.Errorf("failed to scan JSONB: %w", err)
	}
	*j = legacy
	return nil
}

// StringList is persisted as a JSON array in a text column.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan StringList: invalid type %T", value)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to scan StringList: %w", err)
	}
	*s = out
	return nil
}
