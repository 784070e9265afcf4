package notification

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Notification types.
const (
	TypeSystem       = "system"
	TypeAssignment   = "assignment"
	TypeExam         = "exam"
	TypeGrade        = "grade"
	TypeAnnouncement = "announcement"
	TypeAchievement  = "achievement"
	TypeReminder     = "reminder"
	TypeWarning      = "warning"
)

// Priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Notification lifecycle states.
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Delivery channels.
const (
	ChannelWeb   = "web"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// Per-recipient delivery states.
const (
	DeliveryPending   = "pending"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliveryRead      = "read"
)

// Target audience variants.
const (
	AudienceAll         = "all"
	AudienceRole        = "role"
	AudienceInstitution = "institution"
	AudienceClass       = "class"
	AudienceUser        = "user"
	AudienceCustom      = "custom"
)

// ValidTypes lists the accepted notification types for request validation.
var ValidTypes = []string{
	TypeSystem, TypeAssignment, TypeExam, TypeGrade,
	TypeAnnouncement, TypeAchievement, TypeReminder, TypeWarning,
}

// Notification is the unit of dispatch. Recipients are resolved once at
// creation time and never re-resolved afterwards.
type Notification struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title      string             `bson:"title" json:"title"`
	Content    string             `bson:"content" json:"content"`
	Type       string             `bson:"type" json:"type"`
	Priority   string             `bson:"priority" json:"priority"`
	Category   string             `bson:"category" json:"category"`
	SenderID   string             `bson:"sender_id,omitempty" json:"senderId,omitempty"`
	SenderName string             `bson:"sender_name,omitempty" json:"senderName,omitempty"`
	SenderType string             `bson:"sender_type" json:"senderType"` // system, user, admin

	Recipients []Recipient    `bson:"recipients" json:"recipients"`
	Audience   TargetAudience `bson:"target_audience" json:"targetAudience"`
	Schedule   Schedule       `bson:"schedule" json:"schedule"`
	Channels   ChannelFlags   `bson:"channels" json:"channels"`
	Settings   Settings       `bson:"settings" json:"settings"`

	Attachments []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Actions     []Action     `bson:"actions,omitempty" json:"actions,omitempty"`

	Statistics Statistics `bson:"statistics" json:"statistics"`
	Status     string     `bson:"status" json:"status"`
	Metadata   Metadata   `bson:"metadata" json:"metadata"`
}

// Recipient is a per-user delivery record embedded in a notification.
type Recipient struct {
	UserID         string            `bson:"user_id" json:"userId"`
	Username       string            `bson:"username" json:"username"`
	Email          string            `bson:"email,omitempty" json:"email,omitempty"`
	ReadAt         *time.Time        `bson:"read_at,omitempty" json:"readAt,omitempty"`
	Acknowledged   bool              `bson:"acknowledged" json:"acknowledged"`
	AcknowledgedAt *time.Time        `bson:"acknowledged_at,omitempty" json:"acknowledgedAt,omitempty"`
	DeliveryStatus string            `bson:"delivery_status" json:"deliveryStatus"`
	Channels       []DeliveryChannel `bson:"delivery_channels" json:"deliveryChannels"`
}

// DeliveryChannel tracks the outcome of one transport for one recipient.
type DeliveryChannel struct {
	Channel     string     `bson:"channel" json:"channel"`
	Status      string     `bson:"status" json:"status"`
	SentAt      *time.Time `bson:"sent_at,omitempty" json:"sentAt,omitempty"`
	DeliveredAt *time.Time `bson:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
	Error       string     `bson:"error,omitempty" json:"error,omitempty"`
}

// TargetAudience is a tagged variant; Criteria carries the payload for the
// selected variant only.
type TargetAudience struct {
	Type     string           `bson:"type" json:"type"`
	Criteria AudienceCriteria `bson:"criteria,omitempty" json:"criteria,omitempty"`
}

// AudienceCriteria holds one payload shape per audience variant. Conditions
// is the escape hatch for the custom variant: it is passed to the directory
// query unvalidated and must only come from privileged callers.
type AudienceCriteria struct {
	Roles          []string               `bson:"roles,omitempty" json:"roles,omitempty"`
	InstitutionIDs []string               `bson:"institution_ids,omitempty" json:"institutionIds,omitempty"`
	ClassIDs       []string               `bson:"class_ids,omitempty" json:"classIds,omitempty"`
	UserIDs        []string               `bson:"user_ids,omitempty" json:"userIds,omitempty"`
	Tags           []string               `bson:"tags,omitempty" json:"tags,omitempty"`
	Conditions     map[string]interface{} `bson:"conditions,omitempty" json:"conditions,omitempty"`
}

// Schedule carries dispatch timing. Recurring is declared in the model but
// not expanded into new notification instances; only SendAt drives dispatch.
type Schedule struct {
	SendAt    *time.Time `bson:"send_at,omitempty" json:"sendAt,omitempty"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty" json:"expiresAt,omitempty"`
	Recurring *Recurring `bson:"recurring,omitempty" json:"recurring,omitempty"`
}

// Recurring describes a repeat pattern (daily, weekly, monthly, custom).
type Recurring struct {
	Enabled    bool       `bson:"enabled" json:"enabled"`
	Pattern    string     `bson:"pattern,omitempty" json:"pattern,omitempty"`
	Interval   int        `bson:"interval,omitempty" json:"interval,omitempty"`
	EndDate    *time.Time `bson:"end_date,omitempty" json:"endDate,omitempty"`
	DaysOfWeek []int      `bson:"days_of_week,omitempty" json:"daysOfWeek,omitempty"`
	MonthDay   int        `bson:"month_day,omitempty" json:"monthDay,omitempty"`
}

// ChannelFlags enables transports at the notification level. A channel fires
// only if enabled here and accepted by the recipient's subscription.
type ChannelFlags struct {
	Web   bool `bson:"web" json:"web"`
	Email bool `bson:"email" json:"email"`
	SMS   bool `bson:"sms" json:"sms"`
	Push  bool `bson:"push" json:"push"`
}

// Settings are policy flags consumed by the orchestrator and read/ack paths.
type Settings struct {
	RequireAcknowledgment bool `bson:"require_acknowledgment" json:"requireAcknowledgment"`
	AllowReply            bool `bson:"allow_reply" json:"allowReply"`
	TrackOpening          bool `bson:"track_opening" json:"trackOpening"`
	AutoExpire            bool `bson:"auto_expire" json:"autoExpire"`
	Silent                bool `bson:"silent" json:"silent"`
}

// Attachment references a file, link or image shown with the notification.
type Attachment struct {
	Type   string `bson:"type" json:"type"` // file, link, image
	Title  string `bson:"title" json:"title"`
	URL    string `bson:"url" json:"url"`
	FileID string `bson:"file_id,omitempty" json:"fileId,omitempty"`
	Size   int64  `bson:"size,omitempty" json:"size,omitempty"`
}

// Action is an interactive element attached to a notification.
type Action struct {
	ID     string                 `bson:"id" json:"id"`
	Label  string                 `bson:"label" json:"label"`
	Type   string                 `bson:"type" json:"type"` // link, api, download
	URL    string                 `bson:"url,omitempty" json:"url,omitempty"`
	Method string                 `bson:"method,omitempty" json:"method,omitempty"`
	Data   map[string]interface{} `bson:"data,omitempty" json:"data,omitempty"`
	Style  string                 `bson:"style" json:"style"`
}

// Statistics are derived counters, always recomputable from Recipients.
type Statistics struct {
	TotalRecipients   int     `bson:"total_recipients" json:"totalRecipients"`
	SentCount         int     `bson:"sent_count" json:"sentCount"`
	DeliveredCount    int     `bson:"delivered_count" json:"deliveredCount"`
	ReadCount         int     `bson:"read_count" json:"readCount"`
	AcknowledgedCount int     `bson:"acknowledged_count" json:"acknowledgedCount"`
	FailedCount       int     `bson:"failed_count" json:"failedCount"`
	OpenRate          float64 `bson:"open_rate" json:"openRate"`
	ResponseRate      float64 `bson:"response_rate" json:"responseRate"`
}

// Metadata tracks provenance and timestamps.
type Metadata struct {
	CreatedBy  string      `bson:"created_by" json:"createdBy"`
	CreatedAt  time.Time   `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time   `bson:"updated_at" json:"updatedAt"`
	SentAt     *time.Time  `bson:"sent_at,omitempty" json:"sentAt,omitempty"`
	TemplateID string      `bson:"template_id,omitempty" json:"templateId,omitempty"`
	BatchID    string      `bson:"batch_id,omitempty" json:"batchId,omitempty"`
	Source     *SourceInfo `bson:"source,omitempty" json:"source,omitempty"`
}

// SourceInfo records which platform module emitted the notification.
type SourceInfo struct {
	Module     string `bson:"module" json:"module"`
	Action     string `bson:"action" json:"action"`
	ResourceID string `bson:"resource_id,omitempty" json:"resourceId,omitempty"`
}

// RecomputeStatistics derives Statistics from the recipient list. It must run
// before every persist that touched Recipients; the counters are never edited
// directly.
func (n *Notification) RecomputeStatistics() {
	var s Statistics
	s.TotalRecipients = len(n.Recipients)
	for _, r := range n.Recipients {
		if r.DeliveryStatus != DeliveryPending {
			s.SentCount++
		}
		if r.DeliveryStatus == DeliveryDelivered || r.DeliveryStatus == DeliveryRead {
			s.DeliveredCount++
		}
		if r.DeliveryStatus == DeliveryRead {
			s.ReadCount++
		}
		if r.Acknowledged {
			s.AcknowledgedCount++
		}
		if r.DeliveryStatus == DeliveryFailed {
			s.FailedCount++
		}
	}
	if s.TotalRecipients > 0 {
		s.OpenRate = float64(s.ReadCount) / float64(s.TotalRecipients) * 100
		s.ResponseRate = float64(s.AcknowledgedCount) / float64(s.TotalRecipients) * 100
	}
	n.Statistics = s
}

// DeliveryChannelsFor builds the pending per-recipient channel records for
// the channels enabled on the notification.
func DeliveryChannelsFor(flags ChannelFlags) []DeliveryChannel {
	var channels []DeliveryChannel
	if flags.Web {
		channels = append(channels, DeliveryChannel{Channel: ChannelWeb, Status: DeliveryPending})
	}
	if flags.Email {
		channels = append(channels, DeliveryChannel{Channel: ChannelEmail, Status: DeliveryPending})
	}
	if flags.SMS {
		channels = append(channels, DeliveryChannel{Channel: ChannelSMS, Status: DeliveryPending})
	}
	if flags.Push {
		channels = append(channels, DeliveryChannel{Channel: ChannelPush, Status: DeliveryPending})
	}
	return channels
}

// transitions is the notification state machine. Send drives
// draft/scheduled/failed into sending; the retention sweep drives sent into
// expired; cancellation is only legal before dispatch starts.
var transitions = map[string][]string{
	StatusDraft:     {StatusScheduled, StatusSending, StatusCancelled},
	StatusScheduled: {StatusSending, StatusCancelled},
	StatusSending:   {StatusSent, StatusFailed},
	StatusSent:      {StatusExpired},
	StatusFailed:    {StatusSending},
}

// CanTransition reports whether moving a notification between the two states
// is legal. Administrative status corrections go through the same table.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NotificationTemplate is a reusable title/content skeleton with {{variable}}
// placeholders and per-channel overrides.
type NotificationTemplate struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Category    string             `bson:"category" json:"category"`
	Type        string             `bson:"type" json:"type"`
	Template    TemplateBody       `bson:"template" json:"template"`
	Channels    TemplateChannels   `bson:"channels" json:"channels"`
	Settings    TemplateSettings   `bson:"settings" json:"settings"`
	IsActive    bool               `bson:"is_active" json:"isActive"`
	CreatedBy   string             `bson:"created_by" json:"createdBy"`
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updatedAt"`
}

// TemplateBody holds the raw text and the declared variable schema.
type TemplateBody struct {
	Title     string             `bson:"title" json:"title"`
	Content   string             `bson:"content" json:"content"`
	Variables []TemplateVariable `bson:"variables" json:"variables"`
}

// TemplateVariable declares one substitutable placeholder.
type TemplateVariable struct {
	Name         string      `bson:"name" json:"name"`
	Type         string      `bson:"type" json:"type"` // string, number, date, boolean, object
	Required     bool        `bson:"required" json:"required"`
	DefaultValue interface{} `bson:"default_value,omitempty" json:"defaultValue,omitempty"`
	Description  string      `bson:"description,omitempty" json:"description,omitempty"`
}

// TemplateChannels enables transports and carries channel-specific overrides.
type TemplateChannels struct {
	Web   TemplateChannelWeb   `bson:"web" json:"web"`
	Email TemplateChannelEmail `bson:"email" json:"email"`
	SMS   TemplateChannelSMS   `bson:"sms" json:"sms"`
	Push  TemplateChannelPush  `bson:"push" json:"push"`
}

type TemplateChannelWeb struct {
	Enabled  bool   `bson:"enabled" json:"enabled"`
	Template string `bson:"template,omitempty" json:"template,omitempty"`
}

type TemplateChannelEmail struct {
	Enabled      bool   `bson:"enabled" json:"enabled"`
	Subject      string `bson:"subject,omitempty" json:"subject,omitempty"`
	Template     string `bson:"template,omitempty" json:"template,omitempty"`
	HTMLTemplate string `bson:"html_template,omitempty" json:"htmlTemplate,omitempty"`
}

type TemplateChannelSMS struct {
	Enabled  bool   `bson:"enabled" json:"enabled"`
	Template string `bson:"template,omitempty" json:"template,omitempty"`
}

type TemplateChannelPush struct {
	Enabled  bool   `bson:"enabled" json:"enabled"`
	Template string `bson:"template,omitempty" json:"template,omitempty"`
	Icon     string `bson:"icon,omitempty" json:"icon,omitempty"`
}

// TemplateSettings are the defaults a template stamps onto notifications.
type TemplateSettings struct {
	RequireAcknowledgment bool   `bson:"require_acknowledgment" json:"requireAcknowledgment"`
	Priority              string `bson:"priority" json:"priority"`
	AutoExpire            bool   `bson:"auto_expire" json:"autoExpire"`
	ExpiryHours           int    `bson:"expiry_hours,omitempty" json:"expiryHours,omitempty"`
}

// Subscription is a user's per-channel notification preferences, one per
// user, created lazily with defaults on first access.
type Subscription struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      string             `bson:"user_id" json:"userId"`
	Preferences Preferences        `bson:"preferences" json:"preferences"`
	Filters     []SubscriptionRule `bson:"filters" json:"filters"`
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updatedAt"`
}

// Preferences groups the per-channel settings.
type Preferences struct {
	Web   WebPreference   `bson:"web" json:"web"`
	Email EmailPreference `bson:"email" json:"email"`
	SMS   SMSPreference   `bson:"sms" json:"sms"`
	Push  PushPreference  `bson:"push" json:"push"`
}

// WebPreference controls the in-app channel. An empty Types list allows all
// notification types.
type WebPreference struct {
	Enabled bool       `bson:"enabled" json:"enabled"`
	Types   []string   `bson:"types" json:"types"`
	Quiet   QuietHours `bson:"quiet" json:"quiet"`
}

// QuietHours suppresses web delivery inside [StartTime, EndTime), compared as
// minute-resolution "HH:MM" strings. A start later than the end wraps the
// window past midnight.
type QuietHours struct {
	Enabled   bool   `bson:"enabled" json:"enabled"`
	StartTime string `bson:"start_time,omitempty" json:"startTime,omitempty"`
	EndTime   string `bson:"end_time,omitempty" json:"endTime,omitempty"`
}

type EmailPreference struct {
	Enabled    bool     `bson:"enabled" json:"enabled"`
	Types      []string `bson:"types" json:"types"`
	Frequency  string   `bson:"frequency" json:"frequency"` // immediate, daily, weekly, never
	Digest     bool     `bson:"digest" json:"digest"`
	DigestTime string   `bson:"digest_time,omitempty" json:"digestTime,omitempty"`
}

// SMSPreference controls the SMS channel. Urgent restricts SMS to
// urgent-priority notifications.
type SMSPreference struct {
	Enabled bool     `bson:"enabled" json:"enabled"`
	Types   []string `bson:"types" json:"types"`
	Urgent  bool     `bson:"urgent" json:"urgent"`
}

type PushPreference struct {
	Enabled   bool     `bson:"enabled" json:"enabled"`
	Types     []string `bson:"types" json:"types"`
	Sound     bool     `bson:"sound" json:"sound"`
	Vibration bool     `bson:"vibration" json:"vibration"`
}

// SubscriptionRule is an allow/block override layer. It is stored and served
// back but not evaluated by the preference filter; custom rule evaluation is
// an extension point.
type SubscriptionRule struct {
	Type     string                 `bson:"type" json:"type"`
	Criteria map[string]interface{} `bson:"criteria" json:"criteria"`
	Action   string                 `bson:"action" json:"action"` // allow, block
}
