package notification

import (
	"context"
	"time"
)

// ListFilter narrows the admin/teacher notification listing. ViewerID and
// ViewerRole drive role scoping: students see only notifications addressed
// to them, teachers see created-or-received, admins see everything.
type ListFilter struct {
	Page       int
	PageSize   int
	Type       string
	Priority   string
	Status     string
	SenderID   string
	StartDate  *time.Time
	EndDate    *time.Time
	ViewerID   string
	ViewerRole string
}

// UserListOptions narrows a user's received-notifications listing.
type UserListOptions struct {
	Page       int
	PageSize   int
	Type       string
	UnreadOnly bool
}

// StatsOverview aggregates counters across all notifications.
type StatsOverview struct {
	TotalNotifications int64            `json:"totalNotifications"`
	TotalRecipients    int64            `json:"totalRecipients"`
	TotalSent          int64            `json:"totalSent"`
	TotalDelivered     int64            `json:"totalDelivered"`
	TotalRead          int64            `json:"totalRead"`
	TotalAcknowledged  int64            `json:"totalAcknowledged"`
	TotalFailed        int64            `json:"totalFailed"`
	ByType             map[string]int64 `json:"byType"`
	ByPriority         map[string]int64 `json:"byPriority"`
	ByStatus           map[string]int64 `json:"byStatus"`
}

// Store persists notifications. Save replaces the whole document and is the
// single choke point where statistics are recomputed; the per-recipient
// operations update one embedded recipient atomically and refresh statistics
// afterwards, so concurrent read/ack calls for different recipients never
// clobber each other.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	FindByID(ctx context.Context, id string) (*Notification, error)
	Save(ctx context.Context, n *Notification) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f ListFilter) ([]*Notification, int64, error)

	FindDue(ctx context.Context, now time.Time) ([]*Notification, error)
	DeleteExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error)

	MarkRead(ctx context.Context, id, userID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	Acknowledge(ctx context.Context, id, userID string, at time.Time) error

	UserNotifications(ctx context.Context, userID string, opts UserListOptions) ([]*Notification, int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)

	BatchDelete(ctx context.Context, ids []string) (int64, error)
	BatchCancel(ctx context.Context, ids []string) (int64, error)
	StatsOverview(ctx context.Context) (*StatsOverview, error)
}

// TemplateFilter narrows template listings.
type TemplateFilter struct {
	Type     string
	Category string
	IsActive *bool
}

// TemplateStore persists notification templates.
type TemplateStore interface {
	InsertTemplate(ctx context.Context, tpl *NotificationTemplate) error
	FindTemplateByID(ctx context.Context, id string) (*NotificationTemplate, error)
	ListTemplates(ctx context.Context, f TemplateFilter) ([]*NotificationTemplate, error)
}

// SubscriptionStore persists per-user channel preferences. GetOrCreate must
// be an upsert: concurrent first access by the same user yields exactly one
// subscription with defaults.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)
	GetOrCreateSubscription(ctx context.Context, userID string) (*Subscription, error)
	UpsertSubscription(ctx context.Context, sub *Subscription) (*Subscription, error)
}
