// Package notify decides whether an incoming chat event becomes a system
// notification, and drives its display, click and dismissal.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/metrics"
)

var errClosed = errors.New("dispatcher closed")

// DefaultDismissAfter is how long an untouched notification stays up.
const DefaultDismissAfter = 5 * time.Second

// Permission mirrors the browser's notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Permissions reports and requests the notification permission.
type Permissions interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
}

// Presenter performs the user-visible side effects of a notification.
type Presenter interface {
	PlaySound(ctx context.Context)
	Show(ctx context.Context, msg WorkerMessage, opts DisplayOptions) error
	Dismiss(ctx context.Context, tag string)
	// Navigate focuses the application window and opens url.
	Navigate(ctx context.Context, url string)
}

// Event is one incoming occurrence that may warrant a notification.
type Event struct {
	ConversationID string
	Title          string
	Body           string
	Icon           string
	// Silent skips the sound.
	Silent bool
}

// View is the caller's view state at the moment the event is checked.
type View struct {
	ActiveConversationID string
	// Hidden is set while the page is not visible. It never lifts the
	// active-conversation suppression.
	Hidden bool
}

// Options tune a Dispatcher. Zero values select the defaults.
type Options struct {
	DismissAfter time.Duration
	Clock        clock.Clock
}

type shown struct {
	data  map[string]any
	timer *clock.Timer
}

// Dispatcher applies the suppression rules and tracks displayed
// notifications until they are clicked or dismissed.
type Dispatcher struct {
	presenter    Presenter
	permissions  Permissions
	dismissAfter time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	mu     sync.Mutex
	shown  map[string]*shown
	closed bool
}

// NewDispatcher creates a dispatcher for one client.
func NewDispatcher(presenter Presenter, permissions Permissions, opts Options) *Dispatcher {
	if opts.DismissAfter <= 0 {
		opts.DismissAfter = DefaultDismissAfter
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Dispatcher{
		presenter:    presenter,
		permissions:  permissions,
		dismissAfter: opts.DismissAfter,
		clock:        opts.Clock,
		logger:       slog.Default().With("component", "notify_dispatcher"),
		shown:        make(map[string]*shown),
	}
}

// Notify runs the suppression rules for ev against view, first match wins:
// an event for the conversation on screen is dropped, then a missing
// permission is requested and its refusal drops the event silently. Anything
// else sounds (unless silent) and is shown, then dismissed after a delay
// unless clicked.
func (d *Dispatcher) Notify(ctx context.Context, ev Event, view View) domain.NotificationIntent {
	intent := domain.NotificationIntent{
		Title:                ev.Title,
		Body:                 ev.Body,
		TargetConversationID: ev.ConversationID,
	}

	if ev.ConversationID != "" && ev.ConversationID == view.ActiveConversationID {
		d.logger.Debug("Notification suppressed for active conversation",
			"conversation_id", ev.ConversationID, "hidden", view.Hidden)
		intent.ShouldSuppress = true
		intent.Reason = domain.ReasonActiveConversation
		metrics.RecordNotification("suppressed_active")
		return intent
	}

	if !d.ensurePermission(ctx) {
		intent.ShouldSuppress = true
		intent.Reason = domain.ReasonPermission
		metrics.RecordNotification("suppressed_permission")
		return intent
	}

	if !ev.Silent {
		d.presenter.PlaySound(ctx)
	}

	title := ev.Title
	if title == "" {
		title = DefaultTitle
	}
	msg := NewWorkerMessage(Payload{
		Title: title,
		Body:  ev.Body,
		Icon:  ev.Icon,
		Tag:   "chat-" + uuid.NewString(),
		Data: map[string]any{
			"groupId": ev.ConversationID,
			"url":     ConversationURL(ev.ConversationID),
		},
	})
	if err := d.show(ctx, msg, true); err != nil {
		metrics.RecordNotification("failed")
		return intent
	}
	metrics.RecordNotification("shown")
	return intent
}

// Push displays a notification that arrived through the push channel. Push
// notifications are not tied to a view and are never auto-dismissed; they
// still need the permission to have been granted.
func (d *Dispatcher) Push(ctx context.Context, msg WorkerMessage) bool {
	if d.permissions.Permission() != PermissionGranted {
		metrics.RecordNotification("suppressed_permission")
		return false
	}
	if msg.Payload.Tag == "" {
		msg.Payload.Tag = "push-" + uuid.NewString()
	}
	if err := d.show(ctx, msg, false); err != nil {
		metrics.RecordNotification("failed")
		return false
	}
	metrics.RecordNotification("shown")
	return true
}

func (d *Dispatcher) ensurePermission(ctx context.Context) bool {
	if d.permissions.Permission() == PermissionGranted {
		return true
	}
	p, err := d.permissions.RequestPermission(ctx)
	if err != nil {
		d.logger.DebugContext(ctx, "Notification permission request failed", "error", err)
		return false
	}
	return p == PermissionGranted
}

func (d *Dispatcher) show(ctx context.Context, msg WorkerMessage, autoDismiss bool) error {
	if err := domain.Validate(msg); err != nil {
		d.logger.WarnContext(ctx, "Refusing invalid notification", "error", err)
		return err
	}
	tag := msg.Payload.Tag

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errClosed
	}
	if prev, ok := d.shown[tag]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	entry := &shown{data: msg.Payload.Data}
	if autoDismiss {
		entry.timer = d.clock.AfterFunc(d.dismissAfter, func() { d.expire(tag, entry) })
	}
	d.shown[tag] = entry
	d.mu.Unlock()

	if err := d.presenter.Show(ctx, msg, DisplayOptionsFor(msg.Payload)); err != nil {
		d.forget(tag, entry)
		d.logger.WarnContext(ctx, "Failed to show notification", "tag", tag, "error", err)
		return err
	}
	return nil
}

// Click handles an interaction with a displayed notification. Any action
// dismisses it; every action but close also focuses the window and navigates
// to the click target. It returns the target, or "" when nothing was opened.
func (d *Dispatcher) Click(ctx context.Context, tag, action string) string {
	d.mu.Lock()
	entry, ok := d.shown[tag]
	if ok {
		delete(d.shown, tag)
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	d.mu.Unlock()
	if !ok {
		return ""
	}

	d.presenter.Dismiss(ctx, tag)
	target, open := ClickTarget(action, entry.data)
	if !open {
		return ""
	}
	d.presenter.Navigate(ctx, target)
	return target
}

// Showing reports whether the tagged notification is still displayed.
func (d *Dispatcher) Showing(tag string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.shown[tag]
	return ok
}

// Close stops all dismiss timers. Notifications already on screen are left
// to the browser.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for tag, entry := range d.shown {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(d.shown, tag)
	}
}

func (d *Dispatcher) expire(tag string, entry *shown) {
	if !d.forget(tag, entry) {
		return
	}
	d.presenter.Dismiss(context.Background(), tag)
}

// forget removes entry if it is still the one registered under tag.
func (d *Dispatcher) forget(tag string, entry *shown) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shown[tag] != entry {
		return false
	}
	delete(d.shown, tag)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return true
}
