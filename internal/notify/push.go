package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/pubsub"
)

// Fallbacks used when a push body is missing fields or is not JSON.
const (
	DefaultTitle = "CollegeOS"
	DefaultBody  = "You have a new notification"
	DefaultIcon  = "/icon-192.png"
)

// PushEvent carries a parsed push notification to the user's sessions.
var PushEvent = pubsub.NewEvent[WorkerMessage]("notify.push")

// ParsePush turns a push body into a worker message. It always returns a
// displayable message: fields missing from the body take their defaults, and
// a body that is not a JSON object yields the default notification together
// with domain.ErrMalformedPayload for the caller to log.
func ParsePush(body []byte) (WorkerMessage, error) {
	var p Payload
	var perr error
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &p); err != nil {
			p = Payload{}
			perr = fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
	}

	if strings.TrimSpace(p.Title) == "" {
		p.Title = DefaultTitle
	}
	if strings.TrimSpace(p.Body) == "" {
		p.Body = DefaultBody
	}
	if p.Icon == "" {
		p.Icon = DefaultIcon
	}
	return NewWorkerMessage(p), perr
}
