package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"SportsQuizPlatform/internal/directory"
)

// memStore is an in-memory Store for exercising the orchestrator and service
// without a database. Save recomputes statistics like the real repository.
type memStore struct {
	mu            sync.Mutex
	notifications map[string]*Notification
}

func newMemStore() *memStore {
	return &memStore{notifications: make(map[string]*Notification)}
}

// cloneNotification deep-copies the recipient state so the fake hands out
// independent documents the way a real database round-trip would.
func cloneNotification(n *Notification) *Notification {
	c := *n
	c.Recipients = make([]Recipient, len(n.Recipients))
	copy(c.Recipients, n.Recipients)
	for i := range c.Recipients {
		channels := make([]DeliveryChannel, len(n.Recipients[i].Channels))
		copy(channels, n.Recipients[i].Channels)
		c.Recipients[i].Channels = channels
	}
	return &c
}

func (s *memStore) Insert(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	n.RecomputeStatistics()
	s.notifications[n.ID.Hex()] = cloneNotification(n)
	return nil
}

func (s *memStore) FindByID(ctx context.Context, id string) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneNotification(n), nil
}

func (s *memStore) Save(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID.Hex()]; !ok {
		return ErrNotFound
	}
	n.RecomputeStatistics()
	s.notifications[n.ID.Hex()] = cloneNotification(n)
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[id]; !ok {
		return ErrNotFound
	}
	delete(s.notifications, id)
	return nil
}

func (s *memStore) List(ctx context.Context, f ListFilter) ([]*Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Notification
	for _, n := range s.notifications {
		out = append(out, cloneNotification(n))
	}
	return out, int64(len(out)), nil
}

func (s *memStore) FindDue(ctx context.Context, now time.Time) ([]*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Notification
	for _, n := range s.notifications {
		if n.Status == StatusScheduled && n.Schedule.SendAt != nil && !n.Schedule.SendAt.After(now) {
			due = append(due, cloneNotification(n))
		}
	}
	return due, nil
}

func (s *memStore) DeleteExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, n := range s.notifications {
		expired := n.Settings.AutoExpire && n.Schedule.ExpiresAt != nil && n.Schedule.ExpiresAt.Before(now)
		aged := n.Status == StatusSent && n.Metadata.CreatedAt.Before(now.Add(-retention))
		if expired || aged {
			delete(s.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return ErrNotFound
	}
	for i := range n.Recipients {
		r := &n.Recipients[i]
		if r.UserID != userID {
			continue
		}
		if r.ReadAt == nil {
			t := at
			r.ReadAt = &t
			r.DeliveryStatus = DeliveryRead
			n.RecomputeStatistics()
		}
		return nil
	}
	return ErrNotFound
}

func (s *memStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.notifications {
		for i := range n.Recipients {
			r := &n.Recipients[i]
			if r.UserID == userID && r.ReadAt == nil {
				t := at
				r.ReadAt = &t
				r.DeliveryStatus = DeliveryRead
				n.RecomputeStatistics()
				count++
			}
		}
	}
	return count, nil
}

func (s *memStore) Acknowledge(ctx context.Context, id, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return ErrNotFound
	}
	for i := range n.Recipients {
		r := &n.Recipients[i]
		if r.UserID == userID {
			if !r.Acknowledged {
				t := at
				r.Acknowledged = true
				r.AcknowledgedAt = &t
				n.RecomputeStatistics()
			}
			return nil
		}
	}
	return ErrNotFound
}

func (s *memStore) UserNotifications(ctx context.Context, userID string, opts UserListOptions) ([]*Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Notification
	for _, n := range s.notifications {
		if n.Status != StatusSent && n.Status != StatusFailed {
			continue
		}
		for _, r := range n.Recipients {
			if r.UserID == userID {
				if opts.UnreadOnly && r.ReadAt != nil {
					break
				}
				out = append(out, cloneNotification(n))
				break
			}
		}
	}
	return out, int64(len(out)), nil
}

func (s *memStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.notifications {
		if n.Status != StatusSent && n.Status != StatusFailed {
			continue
		}
		for _, r := range n.Recipients {
			if r.UserID == userID && r.ReadAt == nil {
				count++
			}
		}
	}
	return count, nil
}

func (s *memStore) BatchDelete(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, id := range ids {
		if _, ok := s.notifications[id]; ok {
			delete(s.notifications, id)
			count++
		}
	}
	return count, nil
}

func (s *memStore) BatchCancel(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, id := range ids {
		n, ok := s.notifications[id]
		if ok && (n.Status == StatusDraft || n.Status == StatusScheduled) {
			n.Status = StatusCancelled
			count++
		}
	}
	return count, nil
}

func (s *memStore) StatsOverview(ctx context.Context) (*StatsOverview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	overview := &StatsOverview{
		ByType:     map[string]int64{},
		ByPriority: map[string]int64{},
		ByStatus:   map[string]int64{},
	}
	for _, n := range s.notifications {
		overview.TotalNotifications++
		overview.TotalRecipients += int64(n.Statistics.TotalRecipients)
		overview.TotalSent += int64(n.Statistics.SentCount)
		overview.TotalDelivered += int64(n.Statistics.DeliveredCount)
		overview.TotalRead += int64(n.Statistics.ReadCount)
		overview.TotalAcknowledged += int64(n.Statistics.AcknowledgedCount)
		overview.TotalFailed += int64(n.Statistics.FailedCount)
		overview.ByType[n.Type]++
		overview.ByPriority[n.Priority]++
		overview.ByStatus[n.Status]++
	}
	return overview, nil
}

// memSubs is an in-memory SubscriptionStore.
type memSubs struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func newMemSubs() *memSubs {
	return &memSubs{subs: make(map[string]*Subscription)}
}

func (s *memSubs) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[userID], nil
}

func (s *memSubs) GetOrCreateSubscription(ctx context.Context, userID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[userID]; ok {
		return sub, nil
	}
	sub := DefaultSubscription(userID)
	s.subs[userID] = sub
	return sub, nil
}

func (s *memSubs) UpsertSubscription(ctx context.Context, sub *Subscription) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subs[sub.UserID]
	if ok {
		existing.Preferences = sub.Preferences
		existing.Filters = sub.Filters
		existing.UpdatedAt = time.Now()
		return existing, nil
	}
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	s.subs[sub.UserID] = sub
	return sub, nil
}

func (s *memSubs) put(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.UserID] = sub
}

// memTemplates is an in-memory TemplateStore.
type memTemplates struct {
	mu        sync.Mutex
	templates map[string]*NotificationTemplate
}

func newMemTemplates() *memTemplates {
	return &memTemplates{templates: make(map[string]*NotificationTemplate)}
}

func (s *memTemplates) InsertTemplate(ctx context.Context, tpl *NotificationTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tpl.ID.IsZero() {
		tpl.ID = primitive.NewObjectID()
	}
	s.templates[tpl.ID.Hex()] = tpl
	return nil
}

func (s *memTemplates) FindTemplateByID(ctx context.Context, id string) (*NotificationTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tpl, nil
}

func (s *memTemplates) ListTemplates(ctx context.Context, f TemplateFilter) ([]*NotificationTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*NotificationTemplate
	for _, tpl := range s.templates {
		if f.Type != "" && tpl.Type != f.Type {
			continue
		}
		if f.Category != "" && tpl.Category != f.Category {
			continue
		}
		if f.IsActive != nil && tpl.IsActive != *f.IsActive {
			continue
		}
		out = append(out, tpl)
	}
	return out, nil
}

// stubSender records or fails sends per user id.
type stubSender struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]error
	delay   time.Duration
}

func newStubSender() *stubSender {
	return &stubSender{failFor: make(map[string]error)}
}

func (s *stubSender) failUser(userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor[userID] = err
}

func (s *stubSender) Send(ctx context.Context, n *Notification, recipient *Recipient) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[recipient.UserID]; ok {
		return err
	}
	s.sent = append(s.sent, recipient.UserID)
	return nil
}

func (s *stubSender) sentTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

// senderFunc adapts a function to ChannelSender.
type senderFunc func(ctx context.Context, n *Notification, recipient *Recipient) error

func (f senderFunc) Send(ctx context.Context, n *Notification, recipient *Recipient) error {
	return f(ctx, n, recipient)
}

// stubDirectory is a canned in-memory directory.
type stubDirectory struct {
	users   []*directory.User
	classes map[string][]string
}

func (d *stubDirectory) ActiveUsers(ctx context.Context) ([]*directory.User, error) {
	return d.users, nil
}

func (d *stubDirectory) ActiveUsersByRoles(ctx context.Context, roles []string) ([]*directory.User, error) {
	var out []*directory.User
	for _, u := range d.users {
		for _, role := range roles {
			if u.Role == role {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (d *stubDirectory) ActiveUsersByInstitutions(ctx context.Context, institutionIDs []string) ([]*directory.User, error) {
	var out []*directory.User
	for _, u := range d.users {
		for _, id := range institutionIDs {
			if u.InstitutionID == id {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (d *stubDirectory) ActiveUsersByIDs(ctx context.Context, userIDs []string) ([]*directory.User, error) {
	var out []*directory.User
	for _, u := range d.users {
		for _, id := range userIDs {
			if u.ID.Hex() == id {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (d *stubDirectory) ActiveUsersByConditions(ctx context.Context, conditions map[string]interface{}) ([]*directory.User, error) {
	return d.users, nil
}

func (d *stubDirectory) ClassMemberIDs(ctx context.Context, classIDs []string) ([]string, error) {
	var out []string
	for _, id := range classIDs {
		out = append(out, d.classes[id]...)
	}
	return out, nil
}

var errSendRefused = errors.New("transport refused the message")
