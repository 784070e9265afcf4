package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"SportsQuizPlatform/internal/directory"
)

type serviceFixture struct {
	service   *Service
	store     *memStore
	subs      *memSubs
	templates *memTemplates
	web       *stubSender
	users     []*directory.User
}

func newServiceFixture(userCount int) *serviceFixture {
	store := newMemStore()
	subs := newMemSubs()
	templates := newMemTemplates()
	web := newStubSender()

	users := make([]*directory.User, 0, userCount)
	for i := 0; i < userCount; i++ {
		users = append(users, testUser(string(rune('a'+i)), "student", "inst1"))
	}
	resolver := NewResolver(&stubDirectory{users: users})
	orch := NewOrchestrator(store, subs, Senders{ChannelWeb: web}, zap.NewNop())

	return &serviceFixture{
		service:   NewService(store, templates, subs, resolver, orch, zap.NewNop()),
		store:     store,
		subs:      subs,
		templates: templates,
		web:       web,
		users:     users,
	}
}

var teacherActor = Actor{ID: "teacher1", Username: "coach", Role: "teacher"}

func validCreateRequest() CreateRequest {
	return CreateRequest{
		Title:    "Training moved",
		Content:  "Tomorrow's session starts an hour earlier.",
		Type:     TypeAnnouncement,
		Category: "schedule",
		Audience: TargetAudience{Type: AudienceAll},
	}
}

func TestCreateDispatchesImmediately(t *testing.T) {
	f := newServiceFixture(2)

	n, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)

	require.NoError(t, err)
	assert.Equal(t, StatusSent, n.Status)
	assert.Equal(t, PriorityMedium, n.Priority)
	assert.Equal(t, "teacher1", n.SenderID)
	assert.Equal(t, "user", n.SenderType)
	assert.True(t, n.Channels.Web)
	assert.True(t, n.Settings.TrackOpening)
	require.Len(t, n.Recipients, 2)
	assert.Equal(t, f.users[0].ID.Hex(), n.Recipients[0].UserID)
	assert.Equal(t, f.users[0].Email, n.Recipients[0].Email)
	assert.Len(t, f.web.sentTo(), 2)
	assert.Equal(t, 2, n.Statistics.DeliveredCount)
}

func TestCreateScheduledDefersDispatch(t *testing.T) {
	f := newServiceFixture(1)
	sendAt := time.Now().Add(time.Hour)
	req := validCreateRequest()
	req.Schedule = &Schedule{SendAt: &sendAt}

	n, err := f.service.Create(context.Background(), req, teacherActor)

	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, n.Status)
	assert.Empty(t, f.web.sentTo())
}

func TestCreateValidation(t *testing.T) {
	f := newServiceFixture(1)

	req := validCreateRequest()
	req.Title = ""
	_, err := f.service.Create(context.Background(), req, teacherActor)
	assert.ErrorIs(t, err, ErrValidation)

	req = validCreateRequest()
	req.Type = "gossip"
	_, err = f.service.Create(context.Background(), req, teacherActor)
	assert.ErrorIs(t, err, ErrValidation)

	req = validCreateRequest()
	req.Audience = TargetAudience{Type: "galaxy"}
	_, err = f.service.Create(context.Background(), req, teacherActor)
	assert.ErrorIs(t, err, ErrUnsupportedAudience)
}

func TestCreateZeroRecipientsIsLegal(t *testing.T) {
	f := newServiceFixture(0)

	n, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)

	require.NoError(t, err)
	assert.Empty(t, n.Recipients)
	assert.Equal(t, StatusSent, n.Status)
}

func TestCreateFromTemplate(t *testing.T) {
	f := newServiceFixture(1)
	tpl := &NotificationTemplate{
		Name: "quiz-reminder",
		Type: TypeReminder,
		Template: TemplateBody{
			Title:   "{{quizName}} starts soon",
			Content: "Get ready for {{quizName}}.",
			Variables: []TemplateVariable{
				{Name: "quizName", Required: true},
			},
		},
		Channels: TemplateChannels{Web: TemplateChannelWeb{Enabled: true}},
		Settings: TemplateSettings{Priority: PriorityHigh},
	}
	require.NoError(t, f.templates.InsertTemplate(context.Background(), tpl))

	req := CreateRequest{
		Category:   "quiz",
		Audience:   TargetAudience{Type: AudienceAll},
		TemplateID: tpl.ID.Hex(),
		Variables:  map[string]interface{}{"quizName": "Rules of Tennis"},
	}
	n, err := f.service.Create(context.Background(), req, teacherActor)

	require.NoError(t, err)
	assert.Equal(t, "Rules of Tennis starts soon", n.Title)
	assert.Equal(t, "Get ready for Rules of Tennis.", n.Content)
	assert.Equal(t, TypeReminder, n.Type)
	assert.Equal(t, PriorityHigh, n.Priority)
	assert.Equal(t, tpl.ID.Hex(), n.Metadata.TemplateID)
}

func TestSendPermission(t *testing.T) {
	f := newServiceFixture(1)
	sendAt := time.Now().Add(time.Hour)
	req := validCreateRequest()
	req.Schedule = &Schedule{SendAt: &sendAt}
	n, err := f.service.Create(context.Background(), req, teacherActor)
	require.NoError(t, err)

	err = f.service.Send(context.Background(), n.ID.Hex(), Actor{ID: "other", Role: "teacher"})
	assert.ErrorIs(t, err, ErrPermission)

	err = f.service.Send(context.Background(), n.ID.Hex(), Actor{ID: "root", Role: "admin"})
	assert.NoError(t, err)

	got, _ := f.store.FindByID(context.Background(), n.ID.Hex())
	assert.Equal(t, StatusSent, got.Status)
}

func TestSendRejectsAlreadySent(t *testing.T) {
	f := newServiceFixture(1)
	n, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)
	require.NoError(t, err)
	require.Equal(t, StatusSent, n.Status)

	err = f.service.Send(context.Background(), n.ID.Hex(), teacherActor)

	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestUpdateLocksContentAfterSend(t *testing.T) {
	f := newServiceFixture(1)
	n, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)
	require.NoError(t, err)

	newTitle := "edited"
	_, err = f.service.Update(context.Background(), n.ID.Hex(), UpdateRequest{Title: &newTitle}, teacherActor)
	assert.ErrorIs(t, err, ErrStateConflict)

	// Status-only updates stay possible after send.
	expired := StatusExpired
	updated, err := f.service.Update(context.Background(), n.ID.Hex(), UpdateRequest{Status: &expired}, teacherActor)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, updated.Status)
}

func TestUpdateRejectsIllegalTransition(t *testing.T) {
	f := newServiceFixture(1)
	n, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)
	require.NoError(t, err)

	draft := StatusDraft
	_, err = f.service.Update(context.Background(), n.ID.Hex(), UpdateRequest{Status: &draft}, teacherActor)

	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestUpdateDraftContent(t *testing.T) {
	f := newServiceFixture(1)
	sendAt := time.Now().Add(time.Hour)
	req := validCreateRequest()
	req.Schedule = &Schedule{SendAt: &sendAt}
	n, err := f.service.Create(context.Background(), req, teacherActor)
	require.NoError(t, err)

	newTitle := "edited"
	newPriority := PriorityUrgent
	updated, err := f.service.Update(context.Background(), n.ID.Hex(), UpdateRequest{
		Title:    &newTitle,
		Priority: &newPriority,
	}, teacherActor)

	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Title)
	assert.Equal(t, PriorityUrgent, updated.Priority)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newServiceFixture(1)
	n, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)
	require.NoError(t, err)
	userID := n.Recipients[0].UserID

	require.NoError(t, f.service.MarkRead(context.Background(), n.ID.Hex(), userID))

	got, _ := f.store.FindByID(context.Background(), n.ID.Hex())
	first := got.Recipients[0].ReadAt
	require.NotNil(t, first)
	assert.Equal(t, 1, got.Statistics.ReadCount)

	require.NoError(t, f.service.MarkRead(context.Background(), n.ID.Hex(), userID))

	got, _ = f.store.FindByID(context.Background(), n.ID.Hex())
	assert.Equal(t, first, got.Recipients[0].ReadAt, "second read must not move the timestamp")
	assert.Equal(t, 1, got.Statistics.ReadCount)
}

func TestMarkAllRead(t *testing.T) {
	f := newServiceFixture(1)
	userID := f.users[0].ID.Hex()

	for i := 0; i < 3; i++ {
		_, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)
		require.NoError(t, err)
	}
	var firstID string
	for id := range f.store.notifications {
		firstID = id
		break
	}
	require.NoError(t, f.service.MarkRead(context.Background(), firstID, userID))

	// Unread entries are marked regardless of notification status, matching
	// the store's filter.
	scheduled := seedNotification(t, f.store, StatusScheduled, ChannelFlags{Web: true}, userID)

	count, err := f.service.MarkAllRead(context.Background(), userID)

	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	got, err := f.store.FindByID(context.Background(), scheduled.ID.Hex())
	require.NoError(t, err)
	assert.NotNil(t, got.Recipients[0].ReadAt)

	unread, err := f.service.UnreadCount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)
}

func TestConcurrentRecipientUpdatesKeepStatisticsConsistent(t *testing.T) {
	f := newServiceFixture(8)
	n, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)
	require.NoError(t, err)
	require.Len(t, n.Recipients, 8)

	var wg sync.WaitGroup
	for i, r := range n.Recipients {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, f.service.MarkRead(context.Background(), n.ID.Hex(), userID))
			} else {
				assert.NoError(t, f.service.Acknowledge(context.Background(), n.ID.Hex(), userID))
			}
		}(i, r.UserID)
	}
	wg.Wait()

	got, err := f.store.FindByID(context.Background(), n.ID.Hex())
	require.NoError(t, err)

	// The persisted counters must match a fresh derivation from the
	// recipient list, no matter how the updates interleaved.
	want := *got
	want.RecomputeStatistics()
	assert.Equal(t, want.Statistics, got.Statistics)
	assert.Equal(t, 4, got.Statistics.ReadCount)
	assert.Equal(t, 4, got.Statistics.AcknowledgedCount)
}

func TestAcknowledge(t *testing.T) {
	f := newServiceFixture(1)
	n, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)
	require.NoError(t, err)
	userID := n.Recipients[0].UserID

	require.NoError(t, f.service.Acknowledge(context.Background(), n.ID.Hex(), userID))

	got, _ := f.store.FindByID(context.Background(), n.ID.Hex())
	assert.True(t, got.Recipients[0].Acknowledged)
	assert.NotNil(t, got.Recipients[0].AcknowledgedAt)
	assert.Equal(t, 1, got.Statistics.AcknowledgedCount)
}

func TestUserNotificationsProjection(t *testing.T) {
	f := newServiceFixture(1)
	n, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)
	require.NoError(t, err)
	userID := n.Recipients[0].UserID
	require.NoError(t, f.service.MarkRead(context.Background(), n.ID.Hex(), userID))

	views, total, err := f.service.UserNotifications(context.Background(), userID, UserListOptions{})

	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, views, 1)
	assert.Equal(t, n.ID.Hex(), views[0].ID)
	assert.Equal(t, "Training moved", views[0].Title)
	assert.NotNil(t, views[0].ReadAt)
	assert.Equal(t, DeliveryRead, views[0].DeliveryStatus)
}

func TestGetAccessControl(t *testing.T) {
	f := newServiceFixture(1)
	n, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)
	require.NoError(t, err)
	recipientID := n.Recipients[0].UserID

	_, err = f.service.Get(context.Background(), n.ID.Hex(), teacherActor)
	assert.NoError(t, err)

	_, err = f.service.Get(context.Background(), n.ID.Hex(), Actor{ID: recipientID, Role: "student"})
	assert.NoError(t, err)

	_, err = f.service.Get(context.Background(), n.ID.Hex(), Actor{ID: "stranger", Role: "student"})
	assert.ErrorIs(t, err, ErrPermission)

	_, err = f.service.Get(context.Background(), n.ID.Hex(), Actor{ID: "root", Role: "super_admin"})
	assert.NoError(t, err)
}

func TestDeletePermission(t *testing.T) {
	f := newServiceFixture(1)
	n, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)
	require.NoError(t, err)

	err = f.service.Delete(context.Background(), n.ID.Hex(), Actor{ID: "stranger", Role: "teacher"})
	assert.ErrorIs(t, err, ErrPermission)

	err = f.service.Delete(context.Background(), n.ID.Hex(), teacherActor)
	assert.NoError(t, err)

	_, err = f.store.FindByID(context.Background(), n.ID.Hex())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchOperation(t *testing.T) {
	f := newServiceFixture(1)
	sendAt := time.Now().Add(time.Hour)
	req := validCreateRequest()
	req.Schedule = &Schedule{SendAt: &sendAt}
	scheduled, err := f.service.Create(context.Background(), req, teacherActor)
	require.NoError(t, err)
	sent, err := f.service.Create(context.Background(), validCreateRequest(), teacherActor)
	require.NoError(t, err)

	_, err = f.service.BatchOperation(context.Background(), "cancel", nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.service.BatchOperation(context.Background(), "explode", []string{scheduled.ID.Hex()})
	assert.ErrorIs(t, err, ErrValidation)

	count, err := f.service.BatchOperation(context.Background(), "cancel", []string{scheduled.ID.Hex(), sent.ID.Hex()})
	require.NoError(t, err)
	// Only pre-dispatch notifications can be cancelled.
	assert.Equal(t, int64(1), count)

	count, err = f.service.BatchOperation(context.Background(), "delete", []string{scheduled.ID.Hex(), sent.ID.Hex()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestProcessScheduledDispatchesDue(t *testing.T) {
	f := newServiceFixture(1)
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	// A past SendAt makes Create dispatch directly, so seed the scheduled
	// notification by hand.
	n := seedNotification(t, f.store, StatusScheduled, ChannelFlags{Web: true}, "u1")
	n.Schedule = Schedule{SendAt: &past}
	require.NoError(t, f.store.Save(context.Background(), n))

	notDue := validCreateRequest()
	notDue.Schedule = &Schedule{SendAt: &future}
	later, err := f.service.Create(context.Background(), notDue, teacherActor)
	require.NoError(t, err)

	f.service.ProcessScheduled(context.Background())

	got, _ := f.store.FindByID(context.Background(), n.ID.Hex())
	assert.Equal(t, StatusSent, got.Status)
	got, _ = f.store.FindByID(context.Background(), later.ID.Hex())
	assert.Equal(t, StatusScheduled, got.Status)
}

func TestCleanupExpired(t *testing.T) {
	f := newServiceFixture(1)

	old := seedNotification(t, f.store, StatusSent, ChannelFlags{Web: true}, "u1")
	old.Metadata.CreatedAt = time.Now().Add(-31 * 24 * time.Hour)
	require.NoError(t, f.store.Save(context.Background(), old))

	recent := seedNotification(t, f.store, StatusSent, ChannelFlags{Web: true}, "u1")
	recent.Metadata.CreatedAt = time.Now().Add(-29 * 24 * time.Hour)
	require.NoError(t, f.store.Save(context.Background(), recent))

	expiresAt := time.Now().Add(-time.Minute)
	expired := seedNotification(t, f.store, StatusDraft, ChannelFlags{Web: true}, "u1")
	expired.Settings.AutoExpire = true
	expired.Schedule.ExpiresAt = &expiresAt
	require.NoError(t, f.store.Save(context.Background(), expired))

	count, err := f.service.CleanupExpired(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	_, err = f.store.FindByID(context.Background(), recent.ID.Hex())
	assert.NoError(t, err)
}

func TestPreferencesLazyDefault(t *testing.T) {
	f := newServiceFixture(0)

	sub, err := f.service.Preferences(context.Background(), "u9")

	require.NoError(t, err)
	assert.Equal(t, "u9", sub.UserID)
	assert.True(t, sub.Preferences.Web.Enabled)
}

func TestUpdatePreferences(t *testing.T) {
	f := newServiceFixture(0)
	prefs := DefaultSubscription("u9").Preferences
	prefs.SMS.Enabled = true

	sub, err := f.service.UpdatePreferences(context.Background(), "u9", prefs, nil)

	require.NoError(t, err)
	assert.True(t, sub.Preferences.SMS.Enabled)
	assert.NotNil(t, sub.Filters)
	assert.Empty(t, sub.Filters)
}

func TestCreateTemplateValidation(t *testing.T) {
	f := newServiceFixture(0)

	_, err := f.service.CreateTemplate(context.Background(), &NotificationTemplate{Name: "x"}, teacherActor)
	assert.ErrorIs(t, err, ErrValidation)

	tpl, err := f.service.CreateTemplate(context.Background(), &NotificationTemplate{
		Name:     "quiz-result",
		Type:     TypeGrade,
		Template: TemplateBody{Title: "t", Content: "c"},
	}, teacherActor)
	require.NoError(t, err)
	assert.True(t, tpl.IsActive)
	assert.Equal(t, PriorityMedium, tpl.Settings.Priority)
	assert.Equal(t, teacherActor.ID, tpl.CreatedBy)
	assert.False(t, tpl.ID.IsZero())
}
