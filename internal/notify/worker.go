package notify

import (
	"fmt"
	"net/url"
	"strings"
)

// MessageShowNotification is the only message type the notification worker
// understands.
const MessageShowNotification = "SHOW_NOTIFICATION"

// Click actions offered on every notification.
const (
	ActionOpen  = "open"
	ActionClose = "close"
)

// Payload is the body of a SHOW_NOTIFICATION message.
type Payload struct {
	Title string         `json:"title" validate:"required"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	Tag   string         `json:"tag,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// WorkerMessage is what the page posts to the notification worker.
type WorkerMessage struct {
	Type    string  `json:"type" validate:"eq=SHOW_NOTIFICATION"`
	Payload Payload `json:"payload"`
}

// NewWorkerMessage builds a SHOW_NOTIFICATION message.
func NewWorkerMessage(p Payload) WorkerMessage {
	return WorkerMessage{Type: MessageShowNotification, Payload: p}
}

// Action is a button on a displayed notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// DisplayOptions are the options the worker passes to showNotification.
type DisplayOptions struct {
	Body    string         `json:"body"`
	Icon    string         `json:"icon,omitempty"`
	Badge   string         `json:"badge,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Vibrate []int          `json:"vibrate"`
	Data    map[string]any `json:"data,omitempty"`
	Actions []Action       `json:"actions"`
}

// DisplayOptionsFor applies the fixed vibration pattern and actions to p.
func DisplayOptionsFor(p Payload) DisplayOptions {
	icon := p.Icon
	if icon == "" {
		icon = DefaultIcon
	}
	return DisplayOptions{
		Body:    p.Body,
		Icon:    icon,
		Badge:   DefaultIcon,
		Tag:     p.Tag,
		Vibrate: []int{200, 100, 200},
		Data:    p.Data,
		Actions: []Action{
			{Action: ActionOpen, Title: "Open"},
			{Action: ActionClose, Title: "Close"},
		},
	}
}

// ConversationURL is the in-app path of a conversation.
func ConversationURL(conversationID string) string {
	return "/chat/" + url.PathEscape(conversationID)
}

// ClickTarget resolves where a click on a notification navigates. The close
// action navigates nowhere. Otherwise data.groupId wins over data.url, and
// the root is the fallback.
func ClickTarget(action string, data map[string]any) (string, bool) {
	if action == ActionClose {
		return "", false
	}
	if id := dataString(data, "groupId"); id != "" {
		return ConversationURL(id), true
	}
	if u := dataString(data, "url"); u != "" {
		return u, true
	}
	return "/", true
}

func dataString(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}
