package models

// EventName identifies an analytics event accepted by /api/analytics/event.
type EventName string

const (
	EventInitSession    EventName = "init_session"
	EventEndSession     EventName = "end_session"
	EventPromptCreated  EventName = "prompt_created"
	EventWrongAnswer    EventName = "wrong_answer"
	EventImproveClick   EventName = "improve_click"
	EventClipboardCopy  EventName = "clipboard_copy"
	EventNewPromptClick EventName = "new_prompt_click"
	EventHeartbeat      EventName = "heartbeat"
)

// AnalyticsEvent is the body posted to /api/analytics/event.
type AnalyticsEvent struct {
	DeviceID  string                 `json:"device_id"`
	Event     EventName              `json:"event"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Referrer  string                 `json:"referrer,omitempty"`
}

// AnalyticsAck is the body returned by /api/analytics/event.
type AnalyticsAck struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FirstPromptPayload is handed to OnFirstPromptCreated.
type FirstPromptPayload struct {
	PromptText string     `json:"prompt_text"`
	Answers    Answers    `json:"answers"`
	Questions  []Question `json:"questions"`
}
