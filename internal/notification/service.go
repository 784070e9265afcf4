package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetentionWindow is how long sent notifications are kept before the
// retention sweep removes them.
const RetentionWindow = 30 * 24 * time.Hour

// Actor identifies the authenticated caller for permission checks.
type Actor struct {
	ID       string
	Username string
	Role     string
}

// IsAdmin reports whether the actor has an administrative role.
func (a Actor) IsAdmin() bool {
	return a.Role == "admin" || a.Role == "super_admin"
}

// CreateRequest carries everything needed to build a notification.
type CreateRequest struct {
	Title       string                 `json:"title"`
	Content     string                 `json:"content"`
	Type        string                 `json:"type"`
	Priority    string                 `json:"priority"`
	Category    string                 `json:"category"`
	Audience    TargetAudience         `json:"targetAudience"`
	Channels    *ChannelFlags          `json:"channels"`
	Schedule    *Schedule              `json:"schedule"`
	Settings    *Settings              `json:"settings"`
	Attachments []Attachment           `json:"attachments"`
	Actions     []Action               `json:"actions"`
	TemplateID  string                 `json:"templateId"`
	Variables   map[string]interface{} `json:"variables"`
}

// UpdateRequest carries a partial notification update. Nil fields are left
// untouched.
type UpdateRequest struct {
	Title    *string       `json:"title"`
	Content  *string       `json:"content"`
	Type     *string       `json:"type"`
	Priority *string       `json:"priority"`
	Category *string       `json:"category"`
	Channels *ChannelFlags `json:"channels"`
	Schedule *Schedule     `json:"schedule"`
	Settings *Settings     `json:"settings"`
	Status   *string       `json:"status"`
}

func (r UpdateRequest) touchesContent() bool {
	return r.Title != nil || r.Content != nil || r.Type != nil ||
		r.Priority != nil || r.Category != nil || r.Channels != nil ||
		r.Schedule != nil || r.Settings != nil
}

// UserNotificationView is a notification projected to one recipient's
// perspective for the inbox listing.
type UserNotificationView struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Content        string       `json:"content"`
	Type           string       `json:"type"`
	Priority       string       `json:"priority"`
	Category       string       `json:"category"`
	SenderName     string       `json:"senderName,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Actions        []Action     `json:"actions,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	ReadAt         *time.Time   `json:"readAt,omitempty"`
	Acknowledged   bool         `json:"acknowledged"`
	DeliveryStatus string       `json:"deliveryStatus"`
}

// Service coordinates audience resolution, template expansion, dispatch and
// per-recipient state. It holds no state of its own; every dependency is
// injected so tests can substitute them.
type Service struct {
	store        Store
	templates    TemplateStore
	subs         SubscriptionStore
	resolver     *Resolver
	orchestrator *Orchestrator
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates the notification application service.
func NewService(store Store, templates TemplateStore, subs SubscriptionStore, resolver *Resolver, orchestrator *Orchestrator, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		templates:    templates,
		subs:         subs,
		resolver:     resolver,
		orchestrator: orchestrator,
		logger:       logger,
		now:          time.Now,
	}
}

// Create builds a notification, snapshots its recipients from the target
// audience, and dispatches immediately unless schedule.sendAt defers it.
// Audience resolution failures abort before anything is persisted.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor Actor) (*Notification, error) {
	if req.TemplateID != "" {
		tpl, err := s.templates.FindTemplateByID(ctx, req.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("load template: %w", err)
		}
		rendered := ExpandTemplate(tpl, req.Variables)
		req.Title = rendered.Title
		req.Content = rendered.Content
		req.Type = rendered.Type
		if rendered.Priority != "" {
			req.Priority = rendered.Priority
		}
		req.Channels = &rendered.Channels
		req.Settings = &Settings{
			RequireAcknowledgment: rendered.Settings.RequireAcknowledgment,
			AutoExpire:            rendered.Settings.AutoExpire,
			TrackOpening:          true,
		}
	}

	if req.Title == "" || req.Content == "" || req.Type == "" || req.Category == "" || req.Audience.Type == "" {
		return nil, fmt.Errorf("%w: title, content, type, category and targetAudience are required", ErrValidation)
	}
	if !contains(ValidTypes, req.Type) {
		return nil, fmt.Errorf("%w: unknown notification type %q", ErrValidation, req.Type)
	}
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}

	resolved, err := s.resolver.Resolve(ctx, req.Audience)
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		// A zero-recipient notification is legal but usually a caller
		// mistake; make it visible.
		s.logger.Warn("notification resolves to zero recipients",
			zap.String("audience", req.Audience.Type),
			zap.String("created_by", actor.ID))
	}

	channels := ChannelFlags{Web: true}
	if req.Channels != nil {
		channels = *req.Channels
	}
	settings := Settings{TrackOpening: true}
	if req.Settings != nil {
		settings = *req.Settings
	}

	now := s.now()
	schedule := Schedule{SendAt: &now}
	if req.Schedule != nil {
		schedule = *req.Schedule
		if schedule.SendAt == nil {
			schedule.SendAt = &now
		}
	}

	recipients := make([]Recipient, 0, len(resolved))
	for _, u := range resolved {
		recipients = append(recipients, Recipient{
			UserID:         u.ID,
			Username:       u.Username,
			Email:          u.Email,
			DeliveryStatus: DeliveryPending,
			Channels:       DeliveryChannelsFor(channels),
		})
	}

	senderType := "system"
	if actor.ID != "" {
		senderType = "user"
	}
	status := StatusDraft
	if schedule.SendAt.After(now) {
		status = StatusScheduled
	}

	n := &Notification{
		Title:       req.Title,
		Content:     req.Content,
		Type:        req.Type,
		Priority:    req.Priority,
		Category:    req.Category,
		SenderID:    actor.ID,
		SenderName:  actor.Username,
		SenderType:  senderType,
		Recipients:  recipients,
		Audience:    req.Audience,
		Schedule:    schedule,
		Channels:    channels,
		Settings:    settings,
		Attachments: req.Attachments,
		Actions:     req.Actions,
		Status:      status,
		Metadata: Metadata{
			CreatedBy:  actor.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
			TemplateID: req.TemplateID,
		},
	}

	if err := s.store.Insert(ctx, n); err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}

	if status == StatusDraft {
		if err := s.orchestrator.Dispatch(ctx, n.ID.Hex()); err != nil {
			return nil, fmt.Errorf("dispatch notification: %w", err)
		}
		return s.store.FindByID(ctx, n.ID.Hex())
	}
	return n, nil
}

// Send triggers dispatch for a draft, scheduled or previously failed
// notification (the last is the explicit retry path).
func (s *Service) Send(ctx context.Context, id string, actor Actor) error {
	n, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && n.Metadata.CreatedBy != actor.ID {
		return ErrPermission
	}
	if n.Status != StatusDraft && n.Status != StatusScheduled && n.Status != StatusFailed {
		return fmt.Errorf("%w: cannot send from status %q", ErrStateConflict, n.Status)
	}
	return s.orchestrator.Dispatch(ctx, id)
}

// Get fetches a notification if the actor is its creator, a recipient, or an
// admin.
func (s *Service) Get(ctx context.Context, id string, actor Actor) (*Notification, error) {
	n, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canAccess(n, actor) {
		return nil, ErrPermission
	}
	return n, nil
}

func (s *Service) canAccess(n *Notification, actor Actor) bool {
	if actor.IsAdmin() || n.Metadata.CreatedBy == actor.ID {
		return true
	}
	for _, r := range n.Recipients {
		if r.UserID == actor.ID {
			return true
		}
	}
	return false
}

// List returns a page of notifications scoped by the actor's role.
func (s *Service) List(ctx context.Context, f ListFilter, actor Actor) ([]*Notification, int64, error) {
	f.ViewerID = actor.ID
	f.ViewerRole = actor.Role
	if actor.IsAdmin() {
		f.ViewerRole = "admin"
	}
	return s.store.List(ctx, f)
}

// Update applies a partial update. Once a notification is sent or sending,
// only its status may change; status changes always go through the
// transition table.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest, actor Actor) (*Notification, error) {
	n, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && n.Metadata.CreatedBy != actor.ID {
		return nil, ErrPermission
	}
	locked := n.Status == StatusSent || n.Status == StatusSending
	if locked && req.touchesContent() {
		return nil, fmt.Errorf("%w: content of a %s notification cannot be modified", ErrStateConflict, n.Status)
	}

	if req.Status != nil && *req.Status != n.Status {
		if !CanTransition(n.Status, *req.Status) {
			return nil, fmt.Errorf("%w: illegal transition %s -> %s", ErrStateConflict, n.Status, *req.Status)
		}
		n.Status = *req.Status
	}
	if req.Title != nil {
		n.Title = *req.Title
	}
	if req.Content != nil {
		n.Content = *req.Content
	}
	if req.Type != nil {
		if !contains(ValidTypes, *req.Type) {
			return nil, fmt.Errorf("%w: unknown notification type %q", ErrValidation, *req.Type)
		}
		n.Type = *req.Type
	}
	if req.Priority != nil {
		n.Priority = *req.Priority
	}
	if req.Category != nil {
		n.Category = *req.Category
	}
	if req.Channels != nil {
		n.Channels = *req.Channels
	}
	if req.Schedule != nil {
		n.Schedule = *req.Schedule
	}
	if req.Settings != nil {
		n.Settings = *req.Settings
	}

	if err := s.store.Save(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Delete removes a notification if the actor is its creator or an admin.
func (s *Service) Delete(ctx context.Context, id string, actor Actor) error {
	n, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && n.Metadata.CreatedBy != actor.ID {
		return ErrPermission
	}
	return s.store.Delete(ctx, id)
}

// UserNotifications returns the actor's inbox, projected per recipient.
func (s *Service) UserNotifications(ctx context.Context, userID string, opts UserListOptions) ([]UserNotificationView, int64, error) {
	notifications, total, err := s.store.UserNotifications(ctx, userID, opts)
	if err != nil {
		return nil, 0, err
	}
	views := make([]UserNotificationView, 0, len(notifications))
	for _, n := range notifications {
		view := UserNotificationView{
			ID:          n.ID.Hex(),
			Title:       n.Title,
			Content:     n.Content,
			Type:        n.Type,
			Priority:    n.Priority,
			Category:    n.Category,
			SenderName:  n.SenderName,
			Attachments: n.Attachments,
			Actions:     n.Actions,
			CreatedAt:   n.Metadata.CreatedAt,
		}
		for _, r := range n.Recipients {
			if r.UserID == userID {
				view.ReadAt = r.ReadAt
				view.Acknowledged = r.Acknowledged
				view.DeliveryStatus = r.DeliveryStatus
				break
			}
		}
		views = append(views, view)
	}
	return views, total, nil
}

// UnreadCount counts the actor's unread notifications.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.store.UnreadCount(ctx, userID)
}

// MarkRead stamps the actor's recipient entry as read. Repeat calls leave
// the original read time untouched.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	return s.store.MarkRead(ctx, id, userID, s.now())
}

// MarkAllRead marks every unread notification for the user as read and
// reports how many were touched.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllRead(ctx, userID, s.now())
}

// Acknowledge records the actor's acknowledgment on their recipient entry.
func (s *Service) Acknowledge(ctx context.Context, id, userID string) error {
	return s.store.Acknowledge(ctx, id, userID, s.now())
}

// Preferences returns the user's subscription, creating the default lazily.
func (s *Service) Preferences(ctx context.Context, userID string) (*Subscription, error) {
	return s.subs.GetOrCreateSubscription(ctx, userID)
}

// UpdatePreferences replaces the user's channel preferences and filters.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, prefs Preferences, filters []SubscriptionRule) (*Subscription, error) {
	if filters == nil {
		filters = []SubscriptionRule{}
	}
	return s.subs.UpsertSubscription(ctx, &Subscription{
		UserID:      userID,
		Preferences: prefs,
		Filters:     filters,
	})
}

// ListTemplates returns templates matching the filter.
func (s *Service) ListTemplates(ctx context.Context, f TemplateFilter) ([]*NotificationTemplate, error) {
	return s.templates.ListTemplates(ctx, f)
}

// CreateTemplate stores a new template.
func (s *Service) CreateTemplate(ctx context.Context, tpl *NotificationTemplate, actor Actor) (*NotificationTemplate, error) {
	if tpl.Name == "" || tpl.Type == "" || tpl.Template.Title == "" || tpl.Template.Content == "" {
		return nil, fmt.Errorf("%w: name, type and template title/content are required", ErrValidation)
	}
	if tpl.Settings.Priority == "" {
		tpl.Settings.Priority = PriorityMedium
	}
	now := s.now()
	tpl.IsActive = true
	tpl.CreatedBy = actor.ID
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	if err := s.templates.InsertTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// StatsOverview aggregates platform-wide notification counters.
func (s *Service) StatsOverview(ctx context.Context) (*StatsOverview, error) {
	return s.store.StatsOverview(ctx)
}

// BatchOperation deletes or cancels the given notifications and reports how
// many were affected.
func (s *Service) BatchOperation(ctx context.Context, action string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: notification id list is empty", ErrValidation)
	}
	switch action {
	case "delete":
		return s.store.BatchDelete(ctx, ids)
	case "cancel":
		return s.store.BatchCancel(ctx, ids)
	default:
		return 0, fmt.Errorf("%w: unsupported batch action %q", ErrValidation, action)
	}
}

// ProcessScheduled dispatches every due scheduled notification. One
// notification's failure never blocks the rest.
func (s *Service) ProcessScheduled(ctx context.Context) {
	due, err := s.store.FindDue(ctx, s.now())
	if err != nil {
		s.logger.Error("scan for due notifications failed", zap.Error(err))
		return
	}
	for _, n := range due {
		if err := s.orchestrator.Dispatch(ctx, n.ID.Hex()); err != nil {
			s.logger.Error("dispatch of scheduled notification failed",
				zap.String("id", n.ID.Hex()), zap.Error(err))
		}
	}
}

// CleanupExpired deletes expired and aged-out notifications, returning the
// deletion count. Deletions are reported, not retried.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now(), RetentionWindow)
}
