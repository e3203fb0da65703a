package session

import (
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/notify"
)

// Frame types sent by the browser.
const (
	FrameOpen              = "open"
	FrameClose             = "close"
	FrameTyping            = "typing"
	FrameSend              = "send"
	FrameVisibility        = "visibility"
	FramePermission        = "permission"
	FrameNotificationClick = "notification_click"
)

// Frame types sent to the browser.
const (
	FrameMessages          = "messages"
	FrameHTML              = "html"
	FrameToast             = "toast"
	FrameNotification      = "notification"
	FrameDismiss           = "dismiss"
	FrameSound             = "sound"
	FrameNavigate          = "navigate"
	FrameRequestPermission = "request_permission"
	FrameSummary           = "summary"
)

// Inbound is a frame received from the browser. Which fields are set
// depends on Type.
type Inbound struct {
	Type           string             `json:"type" validate:"required,oneof=open close typing send visibility permission notification_click"`
	ConversationID string             `json:"conversation_id,omitempty" validate:"required_if=Type open,required_if=Type typing,required_if=Type send"`
	Content        string             `json:"content,omitempty"`
	Attachment     *domain.Attachment `json:"attachment,omitempty"`
	Hidden         bool               `json:"hidden,omitempty"`
	Permission     notify.Permission  `json:"permission,omitempty" validate:"omitempty,oneof=default granted denied"`
	Tag            string             `json:"tag,omitempty" validate:"required_if=Type notification_click"`
	Action         string             `json:"action,omitempty"`
}

// Outbound is a frame sent to the browser.
type Outbound struct {
	Type    string `json:"type"`
	Target  string `json:"target,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// MessagesPayload is the full cached sequence of a conversation.
type MessagesPayload struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []domain.Message `json:"messages"`
}

// ToastPayload is a transient notice.
type ToastPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// NotificationPayload asks the page to hand msg to the notification worker.
type NotificationPayload struct {
	Message notify.WorkerMessage  `json:"message"`
	Options notify.DisplayOptions `json:"options"`
}

// TagPayload names a displayed notification.
type TagPayload struct {
	Tag string `json:"tag"`
}

// NavigatePayload asks the page to focus and open URL.
type NavigatePayload struct {
	URL string `json:"url"`
}

func messagesFrame(conversationID string, messages []domain.Message) Outbound {
	if messages == nil {
		messages = []domain.Message{}
	}
	return Outbound{
		Type:    FrameMessages,
		Target:  conversationID,
		Payload: MessagesPayload{ConversationID: conversationID, Messages: messages},
	}
}

func toastFrame(level, text string) Outbound {
	return Outbound{Type: FrameToast, Payload: ToastPayload{Level: level, Text: text}}
}
