package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shownNote struct {
	msg  WorkerMessage
	opts DisplayOptions
}

// recordingPresenter captures every side effect.
type recordingPresenter struct {
	mu        sync.Mutex
	sounds    int
	shown     []shownNote
	dismissed []string
	navigated []string
	showErr   error
}

func (p *recordingPresenter) PlaySound(context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sounds++
}

func (p *recordingPresenter) Show(_ context.Context, msg WorkerMessage, opts DisplayOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.showErr != nil {
		return p.showErr
	}
	p.shown = append(p.shown, shownNote{msg: msg, opts: opts})
	return nil
}

func (p *recordingPresenter) Dismiss(_ context.Context, tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed = append(p.dismissed, tag)
}

func (p *recordingPresenter) Navigate(_ context.Context, url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
}

func (p *recordingPresenter) dismissedTags() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dismissed...)
}

type stubPermissions struct {
	state    Permission
	grant    Permission
	err      error
	requests int
}

func (s *stubPermissions) Permission() Permission { return s.state }

func (s *stubPermissions) RequestPermission(context.Context) (Permission, error) {
	s.requests++
	if s.err != nil {
		return PermissionDefault, s.err
	}
	s.state = s.grant
	return s.state, nil
}

func newTestDispatcher(t *testing.T, perms *stubPermissions) (*Dispatcher, *recordingPresenter, *clock.Mock) {
	t.Helper()
	presenter := &recordingPresenter{}
	mock := clock.NewMock()
	d := NewDispatcher(presenter, perms, Options{DismissAfter: 5 * time.Second, Clock: mock})
	t.Cleanup(d.Close)
	return d, presenter, mock
}

func granted() *stubPermissions { return &stubPermissions{state: PermissionGranted} }

func TestNotify_SuppressesActiveConversation(t *testing.T) {
	d, presenter, _ := newTestDispatcher(t, granted())
	before := testutil.ToFloat64(metrics.Notifications.WithLabelValues("suppressed_active"))

	intent := d.Notify(context.Background(), Event{ConversationID: "g1", Title: "Ana", Body: "hi"}, View{ActiveConversationID: "g1"})

	assert.True(t, intent.ShouldSuppress)
	assert.Equal(t, domain.ReasonActiveConversation, intent.Reason)
	assert.Zero(t, presenter.sounds)
	assert.Empty(t, presenter.shown)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Notifications.WithLabelValues("suppressed_active")))
}

func TestNotify_ShowsOtherConversation(t *testing.T) {
	d, presenter, _ := newTestDispatcher(t, granted())

	intent := d.Notify(context.Background(), Event{ConversationID: "g2", Title: "Ana", Body: "hi"}, View{ActiveConversationID: "g1"})

	assert.False(t, intent.ShouldSuppress)
	assert.Equal(t, "g2", intent.TargetConversationID)
	assert.Equal(t, 1, presenter.sounds)
	require.Len(t, presenter.shown, 1)

	note := presenter.shown[0]
	assert.Equal(t, MessageShowNotification, note.msg.Type)
	assert.Equal(t, "Ana", note.msg.Payload.Title)
	assert.Equal(t, "hi", note.msg.Payload.Body)
	assert.NotEmpty(t, note.msg.Payload.Tag)
	assert.Equal(t, "g2", note.msg.Payload.Data["groupId"])
	assert.Equal(t, []int{200, 100, 200}, note.opts.Vibrate)
	assert.True(t, d.Showing(note.msg.Payload.Tag))
}

func TestNotify_HiddenViewStillSuppressesActiveConversation(t *testing.T) {
	d, presenter, _ := newTestDispatcher(t, granted())

	intent := d.Notify(context.Background(), Event{ConversationID: "g1", Title: "Ana"}, View{ActiveConversationID: "g1", Hidden: true})

	assert.True(t, intent.ShouldSuppress)
	assert.Equal(t, domain.ReasonActiveConversation, intent.Reason)
	assert.Empty(t, presenter.shown)
	assert.Zero(t, presenter.sounds)

	// Other conversations are unaffected by visibility.
	intent = d.Notify(context.Background(), Event{ConversationID: "g2", Title: "Ana"}, View{ActiveConversationID: "g1", Hidden: true})
	assert.False(t, intent.ShouldSuppress)
	assert.Len(t, presenter.shown, 1)
}

func TestNotify_SilentSkipsSound(t *testing.T) {
	d, presenter, _ := newTestDispatcher(t, granted())

	d.Notify(context.Background(), Event{ConversationID: "g2", Title: "Ana", Silent: true}, View{})

	assert.Zero(t, presenter.sounds)
	assert.Len(t, presenter.shown, 1)
}

func TestNotify_RequestsPermission(t *testing.T) {
	t.Run("granted on request", func(t *testing.T) {
		perms := &stubPermissions{state: PermissionDefault, grant: PermissionGranted}
		d, presenter, _ := newTestDispatcher(t, perms)

		intent := d.Notify(context.Background(), Event{ConversationID: "g2", Title: "Ana"}, View{})

		assert.False(t, intent.ShouldSuppress)
		assert.Equal(t, 1, perms.requests)
		assert.Len(t, presenter.shown, 1)
	})

	t.Run("refused", func(t *testing.T) {
		perms := &stubPermissions{state: PermissionDefault, grant: PermissionDenied}
		d, presenter, _ := newTestDispatcher(t, perms)

		intent := d.Notify(context.Background(), Event{ConversationID: "g2", Title: "Ana"}, View{})

		assert.True(t, intent.ShouldSuppress)
		assert.Equal(t, domain.ReasonPermission, intent.Reason)
		assert.Zero(t, presenter.sounds)
		assert.Empty(t, presenter.shown)
	})

	t.Run("request fails", func(t *testing.T) {
		perms := &stubPermissions{state: PermissionDefault, err: errors.New("timed out")}
		d, presenter, _ := newTestDispatcher(t, perms)

		intent := d.Notify(context.Background(), Event{ConversationID: "g2", Title: "Ana"}, View{})

		assert.True(t, intent.ShouldSuppress)
		assert.Equal(t, domain.ReasonPermission, intent.Reason)
		assert.Empty(t, presenter.shown)
	})

	t.Run("active conversation wins before asking", func(t *testing.T) {
		perms := &stubPermissions{state: PermissionDefault, grant: PermissionGranted}
		d, _, _ := newTestDispatcher(t, perms)

		d.Notify(context.Background(), Event{ConversationID: "g1"}, View{ActiveConversationID: "g1"})
		assert.Zero(t, perms.requests)
	})
}

func TestNotify_AutoDismiss(t *testing.T) {
	d, presenter, mock := newTestDispatcher(t, granted())

	d.Notify(context.Background(), Event{ConversationID: "g2", Title: "Ana"}, View{})
	tag := presenter.shown[0].msg.Payload.Tag

	mock.Add(4900 * time.Millisecond)
	assert.Never(t, func() bool { return len(presenter.dismissedTags()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	mock.Add(200 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{tag}, presenter.dismissedTags())
	}, time.Second, 5*time.Millisecond)
	assert.False(t, d.Showing(tag))
}

func TestClick_NavigatesAndCancelsDismiss(t *testing.T) {
	d, presenter, mock := newTestDispatcher(t, granted())

	d.Notify(context.Background(), Event{ConversationID: "g2", Title: "Ana"}, View{})
	tag := presenter.shown[0].msg.Payload.Tag

	target := d.Click(context.Background(), tag, ActionOpen)
	assert.Equal(t, "/chat/g2", target)
	assert.Equal(t, []string{"/chat/g2"}, presenter.navigated)
	assert.Equal(t, []string{tag}, presenter.dismissedTags())

	mock.Add(10 * time.Second)
	assert.Never(t, func() bool { return len(presenter.dismissedTags()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	assert.Empty(t, d.Click(context.Background(), tag, ActionOpen), "second click is ignored")
}

func TestClick_CloseOnlyDismisses(t *testing.T) {
	d, presenter, _ := newTestDispatcher(t, granted())

	d.Notify(context.Background(), Event{ConversationID: "g2", Title: "Ana"}, View{})
	tag := presenter.shown[0].msg.Payload.Tag

	assert.Empty(t, d.Click(context.Background(), tag, ActionClose))
	assert.Empty(t, presenter.navigated)
	assert.Equal(t, []string{tag}, presenter.dismissedTags())
}

func TestNotify_ShowFailure(t *testing.T) {
	d, presenter, _ := newTestDispatcher(t, granted())
	presenter.showErr = errors.New("socket closed")
	before := testutil.ToFloat64(metrics.Notifications.WithLabelValues("failed"))

	intent := d.Notify(context.Background(), Event{ConversationID: "g2", Title: "Ana"}, View{})

	assert.False(t, intent.ShouldSuppress)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Notifications.WithLabelValues("failed")))
}

func TestPush(t *testing.T) {
	d, presenter, mock := newTestDispatcher(t, granted())
	msg, err := ParsePush([]byte(`{"title":"Reminder","body":"Lab at 3","data":{"url":"/calendar"}}`))
	require.NoError(t, err)

	require.True(t, d.Push(context.Background(), msg))
	require.Len(t, presenter.shown, 1)
	tag := presenter.shown[0].msg.Payload.Tag
	assert.NotEmpty(t, tag)
	assert.Zero(t, presenter.sounds)

	mock.Add(time.Minute)
	assert.True(t, d.Showing(tag), "push notifications are not auto-dismissed")

	assert.Equal(t, "/calendar", d.Click(context.Background(), tag, ""))
}

func TestPush_WithoutPermission(t *testing.T) {
	perms := &stubPermissions{state: PermissionDenied}
	d, presenter, _ := newTestDispatcher(t, perms)
	msg, _ := ParsePush(nil)

	assert.False(t, d.Push(context.Background(), msg))
	assert.Empty(t, presenter.shown)
	assert.Zero(t, perms.requests)
}

func TestClose_StopsTimers(t *testing.T) {
	d, presenter, mock := newTestDispatcher(t, granted())

	d.Notify(context.Background(), Event{ConversationID: "g2", Title: "Ana"}, View{})
	d.Close()

	mock.Add(time.Minute)
	assert.Never(t, func() bool { return len(presenter.dismissedTags()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	d.Notify(context.Background(), Event{ConversationID: "g3", Title: "Bo"}, View{})
	assert.Len(t, presenter.shown, 1, "nothing is shown after close")
}
